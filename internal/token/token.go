// Package token issues and validates stateless HMAC-signed tokens used
// for invitation and registration links. A token is the sole durable
// representation of the grant it carries; validation needs no server-side
// session state, only the signing keyring.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"alumnihub.org/internal/secrets"
)

// SubjectType enumerates who a token is issued for.
type SubjectType string

const (
	TypeAlumni       SubjectType = "alumni"
	TypeFamilyMember SubjectType = "family_member"
	TypeAdmin        SubjectType = "admin"
)

var (
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrExpired          = errors.New("token: expired")
	ErrMalformed        = errors.New("token: invalid format")
)

// Payload is the signed content of a token. Timestamps are Unix-epoch
// milliseconds. Immutable once created.
type Payload struct {
	SubjectID string      `json:"subjectId"`
	Email     string      `json:"email"`
	Type      SubjectType `json:"type"`
	IssuedAt  int64       `json:"issuedAt"`
	ExpiresAt int64       `json:"expiresAt"`
}

// envelope is the wire wrapper: the exact payload JSON string plus the hex
// HMAC-SHA256 over it. The whole structure is base64url-encoded.
type envelope struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Service signs payloads with the keyring's current secret and verifies
// against every secret still inside the rotation grace window.
type Service struct {
	keys *secrets.Keyring
	now  func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a token service backed by the given keyring.
func NewService(keys *secrets.Keyring, opts ...Option) (*Service, error) {
	if keys == nil {
		return nil, errors.New("token: keyring is required")
	}
	s := &Service{keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate serializes the payload, signs it with the current secret and
// returns the opaque base64url token.
func (s *Service) Generate(p Payload) (string, error) {
	if strings.TrimSpace(p.SubjectID) == "" {
		return "", errors.New("token: subject id is required")
	}
	switch p.Type {
	case TypeAlumni, TypeFamilyMember, TypeAdmin:
	default:
		return "", errors.New("token: unsupported subject type")
	}
	if p.IssuedAt == 0 {
		p.IssuedAt = s.now().UnixMilli()
	}
	if p.ExpiresAt <= p.IssuedAt {
		return "", errors.New("token: expiry must follow issuance")
	}

	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	env := envelope{
		Payload:   string(payloadJSON),
		Signature: sign(payloadJSON, s.keys.Current()),
	}
	wrapped, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(wrapped), nil
}

// Validate verifies the token signature against every currently valid
// secret before anything in the payload is trusted, then checks expiry.
// Failures map to exactly one of ErrMalformed, ErrInvalidSignature or
// ErrExpired; Validate never panics on hostile input.
func (s *Service) Validate(tok string) (Payload, error) {
	env, err := decodeEnvelope(tok)
	if err != nil {
		return Payload{}, ErrMalformed
	}

	matched := false
	for _, secret := range s.keys.AllValid() {
		expected := sign([]byte(env.Payload), secret)
		if constantTimeEqual(env.Signature, expected) {
			matched = true
			break
		}
	}
	if !matched {
		return Payload{}, ErrInvalidSignature
	}

	var p Payload
	if err := json.Unmarshal([]byte(env.Payload), &p); err != nil {
		return Payload{}, ErrMalformed
	}
	if s.now().UnixMilli() > p.ExpiresAt {
		return Payload{}, ErrExpired
	}
	return p, nil
}

// ExtractPayload decodes a token without verifying its signature. Debug
// and logging use only; never a basis for authorization.
func (s *Service) ExtractPayload(tok string) *Payload {
	env, err := decodeEnvelope(tok)
	if err != nil {
		return nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(env.Payload), &p); err != nil {
		return nil
	}
	return &p
}

func decodeEnvelope(tok string) (envelope, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(tok))
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, err
	}
	if env.Payload == "" || env.Signature == "" {
		return envelope{}, errors.New("empty envelope")
	}
	return env, nil
}

func sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// constantTimeEqual fails closed on length mismatch and otherwise compares
// without early exit, so verification time leaks nothing about how much of
// a forged signature matched.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
