package httpapi

import (
	"net/http"
	"strings"

	"alumnihub.org/internal/audit"
	"alumnihub.org/internal/obs"
	"alumnihub.org/internal/rbac"
)

type assignRolesRequest struct {
	RoleIDs []string `json:"role_ids"`
}

type permissionsRequest struct {
	Permissions []rbac.Permission `json:"permissions"`
}

// handleRateLimitScoped serves /v1/admin/ratelimits/{key}: GET for the
// read-only status view, DELETE to lift a block (admin override).
func (a *API) handleRateLimitScoped(w http.ResponseWriter, r *http.Request) {
	key := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/ratelimits/"), "/")
	if key == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermission(w, r, "ratelimit", "read", nil); !ok {
			return
		}
		policy := r.URL.Query().Get("policy")
		writeJSON(w, http.StatusOK, a.limiter.Status(r.Context(), key, policy))
	case http.MethodDelete:
		if _, ok := a.ensurePermission(w, r, "ratelimit", "delete", nil); !ok {
			return
		}
		if err := a.limiter.Clear(r.Context(), key); err != nil {
			writeError(w, http.StatusInternalServerError, "clear failed")
			return
		}
		_ = audit.LogEvent(r.Context(), "ratelimit.clear", map[string]any{"key": key})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleSecretMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermission(w, r, "secrets", "read", nil); !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.keyring.Metadata())
}

// handleSecretRotate forces a keyring rotation. Tokens signed with the
// evicted secret stay valid through the grace window; anything older is
// permanently rejected.
func (a *API) handleSecretRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if _, ok := a.ensurePermission(w, r, "secrets", "rotate", nil); !ok {
		return
	}
	if err := a.keyring.Rotate(); err != nil {
		writeError(w, http.StatusInternalServerError, "rotation failed")
		return
	}
	obs.SecretRotated()
	_ = audit.LogEvent(r.Context(), "secrets.rotate", nil)
	writeJSON(w, http.StatusOK, a.keyring.Metadata())
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermission(w, r, "roles", "read", nil); !ok {
			return
		}
		writeJSON(w, http.StatusOK, a.rbac.Roles())
	case http.MethodPost:
		if _, ok := a.ensurePermission(w, r, "roles", "create", nil); !ok {
			return
		}
		var role rbac.Role
		if err := decodeJSON(r, &role); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.AddRole(r.Context(), role); err != nil {
			handleRBACError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.upsert", map[string]any{"role_id": role.ID})
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	roleID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/roles/"), "/")
	if roleID == "" || strings.Contains(roleID, "/") {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermission(w, r, "roles", "read", nil); !ok {
			return
		}
		role, ok := a.rbac.Role(roleID)
		if !ok {
			writeError(w, http.StatusNotFound, "role not found")
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if _, ok := a.ensurePermission(w, r, "roles", "delete", nil); !ok {
			return
		}
		if err := a.rbac.RemoveRole(r.Context(), roleID); err != nil {
			handleRBACError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.remove", map[string]any{"role_id": roleID})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

// handleUserScoped serves /v1/admin/users/{id}/roles and
// /v1/admin/users/{id}/permissions.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	targetID := parts[0]

	switch parts[1] {
	case "roles":
		a.handleUserRoles(w, r, targetID)
	case "permissions":
		a.handleUserPermissions(w, r, targetID)
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, targetID string) {
	switch r.Method {
	case http.MethodPost:
		if _, ok := a.ensurePermission(w, r, "users", "update", nil); !ok {
			return
		}
		var req assignRolesRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.AssignRoles(r.Context(), targetID, req.RoleIDs); err != nil {
			handleRBACError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.assign_roles", map[string]any{"target": targetID, "roles": req.RoleIDs})
		a.writeUserPermissions(w, targetID)
	case http.MethodDelete:
		if _, ok := a.ensurePermission(w, r, "users", "update", nil); !ok {
			return
		}
		var req assignRolesRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.RemoveRoles(r.Context(), targetID, req.RoleIDs); err != nil {
			handleRBACError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.remove_roles", map[string]any{"target": targetID, "roles": req.RoleIDs})
		a.writeUserPermissions(w, targetID)
	default:
		methodNotAllowed(w, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, targetID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermission(w, r, "users", "read", nil); !ok {
			return
		}
		a.writeUserPermissions(w, targetID)
	case http.MethodPost:
		if _, ok := a.ensurePermission(w, r, "users", "update", nil); !ok {
			return
		}
		var req permissionsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.GrantPermissions(r.Context(), targetID, req.Permissions); err != nil {
			handleRBACError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.grant", map[string]any{"target": targetID})
		a.writeUserPermissions(w, targetID)
	case http.MethodDelete:
		if _, ok := a.ensurePermission(w, r, "users", "update", nil); !ok {
			return
		}
		var req permissionsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.RevokePermissions(r.Context(), targetID, req.Permissions); err != nil {
			handleRBACError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.revoke", map[string]any{"target": targetID})
		a.writeUserPermissions(w, targetID)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) writeUserPermissions(w http.ResponseWriter, userID string) {
	rec, ok := a.rbac.UserPermissions(userID)
	if !ok {
		rec = rbac.UserPermissions{UserID: userID}
	}
	writeJSON(w, http.StatusOK, rec)
}
