package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"alumnihub.org/internal/audit"
	"alumnihub.org/internal/ids"
	"alumnihub.org/internal/obs"
	"alumnihub.org/internal/token"
)

const defaultInvitationTTL = 7 * 24 * time.Hour

type createInvitationRequest struct {
	Email     string `json:"email"`
	Type      string `json:"type"`
	SubjectID string `json:"subject_id"`
	TTLMillis int64  `json:"ttl_ms"`
}

type createInvitationResponse struct {
	InvitationID string    `json:"invitation_id"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type validateInvitationRequest struct {
	Token string `json:"token"`
}

type validateInvitationResponse struct {
	Valid   bool           `json:"valid"`
	Payload *token.Payload `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// handleCreateInvitation issues a signed invitation token. The grant is
// wholly contained in the token; no database row is needed to validate it
// later.
func (a *API) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	userID, ok := a.ensurePermission(w, r, "invitations", "create", nil)
	if !ok {
		return
	}

	d := a.limiter.CheckAndRecord(r.Context(), "invitations:"+userID, "invitations")
	if !d.Allowed {
		writeRateLimited(w, d)
		return
	}

	var req createInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}

	subjectID := strings.TrimSpace(req.SubjectID)
	if subjectID == "" {
		subjectID = ids.New()
	}
	ttl := defaultInvitationTTL
	if req.TTLMillis > 0 {
		ttl = time.Duration(req.TTLMillis) * time.Millisecond
	}

	now := time.Now()
	tok, err := a.tokens.Generate(token.Payload{
		SubjectID: subjectID,
		Email:     email,
		Type:      token.SubjectType(strings.TrimSpace(req.Type)),
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_ = audit.LogEvent(r.Context(), "invitations.issue", map[string]any{
		"invitation_id": subjectID,
		"type":          req.Type,
	})
	writeJSON(w, http.StatusCreated, createInvitationResponse{
		InvitationID: subjectID,
		Token:        tok,
		ExpiresAt:    now.Add(ttl),
	})
}

// handleValidateInvitation checks a presented invitation token. Public:
// the caller is a registration page following an emailed link, so the
// endpoint is guarded by the "registration" policy keyed by client IP.
func (a *API) handleValidateInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	d := a.limiter.CheckAndRecord(r.Context(), "registration:"+clientIP(r), "registration")
	if !d.Allowed {
		writeRateLimited(w, d)
		return
	}

	var req validateInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := a.tokens.Validate(req.Token)
	if err != nil {
		result, reason := tokenFailure(err)
		obs.TokenValidation(result)
		writeJSON(w, http.StatusOK, validateInvitationResponse{Valid: false, Error: reason})
		return
	}

	obs.TokenValidation("valid")
	writeJSON(w, http.StatusOK, validateInvitationResponse{Valid: true, Payload: &payload})
}

// tokenFailure maps validation errors to a metric label and a
// client-facing reason. The three failure modes stay distinct so the
// registration page can offer a resend only when it helps.
func tokenFailure(err error) (result, reason string) {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired", "invitation expired"
	case errors.Is(err, token.ErrInvalidSignature):
		return "invalid_signature", "invitation link is invalid"
	default:
		return "malformed", "invitation link is malformed"
	}
}
