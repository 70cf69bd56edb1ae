package httpapi

import (
	"net/http"
	"strings"
	"time"

	"alumnihub.org/internal/auth"
	"alumnihub.org/internal/obs"
	"alumnihub.org/internal/rbac"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// handleLogin verifies the bootstrap admin credential and issues a session
// token. The endpoint is keyed by client IP under the "login" policy so a
// password-guessing source locks itself out.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	d := a.limiter.CheckAndRecord(r.Context(), "login:"+clientIP(r), "login")
	if !d.Allowed {
		writeRateLimited(w, d)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if a.admin.Email == "" || email != strings.ToLower(a.admin.Email) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := auth.VerifyPassword(a.admin.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	tok, expiresAt, err := a.sessions.Issue(a.admin.UserID, []string{rbac.RoleSuperAdmin})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}

	obs.Info("admin session issued", map[string]any{
		"user_id": a.admin.UserID,
		"remote":  clientIP(r),
	})
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: tok,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	})
}
