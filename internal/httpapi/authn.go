package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"alumnihub.org/internal/auth"
	"alumnihub.org/internal/rbac"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/invitations/validate",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a.sessions == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tok, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.sessions.ParseAndValidate(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	if !strings.HasPrefix(header, bearer) {
		return "", errors.New("authorization header must use Bearer scheme")
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, bearer))
	if tok == "" {
		return "", errors.New("empty bearer token")
	}
	return tok, nil
}

// ensurePermission runs the RBAC check for the authenticated user and
// renders the structured deny when it fails. The request context (beyond
// identity) is supplied by the handler when conditions matter.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, resource, action string, reqCtx map[string]any) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	result := a.rbac.Check(rbac.CheckRequest{
		UserID:   userID,
		Resource: resource,
		Action:   action,
		Context:  reqCtx,
	})
	if !result.Allowed {
		writeJSON(w, http.StatusForbidden, result)
		return "", false
	}
	return userID, true
}
