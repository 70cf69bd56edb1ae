package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"alumnihub.org/internal/ratelimit"
	"alumnihub.org/internal/rbac"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// handleRBACError maps engine errors to protocol responses.
func handleRBACError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeRateLimited renders a structured deny with a retry hint.
func writeRateLimited(w http.ResponseWriter, d ratelimit.Decision) {
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(d.RetryAfter.Seconds()+0.5)))
	}
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "too many requests",
		"retry_after": int(d.RetryAfter.Seconds() + 0.5),
		"reset_at":    d.ResetAt,
	})
}
