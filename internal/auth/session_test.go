package auth

import (
	"bytes"
	"errors"
	"slices"
	"testing"
	"time"

	"alumnihub.org/internal/secrets"
)

func testKeyring(t *testing.T) *secrets.Keyring {
	t.Helper()
	keys, err := secrets.NewKeyring(secrets.WithSecret(bytes.Repeat([]byte{'s'}, secrets.MinSecretLength)))
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return keys
}

func TestIssueAndParse(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewSessions(testKeyring(t),
		WithIssuer("test-issuer"),
		WithTTL(time.Hour),
		WithClock(func() time.Time { return base }),
	)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	token, expiresAt, err := s.Issue("user-42", []string{"Admin", "viewer", "admin"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", expiresAt)
	}

	claims, err := s.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "viewer") {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("roles were not deduplicated: %v", claims.Roles)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	s, err := NewSessions(testKeyring(t),
		WithTTL(time.Minute),
		WithClock(func() time.Time { return current }),
	)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	token, _, err := s.Issue("user-42", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	current = base.Add(2 * time.Minute)
	if _, err := s.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired session, got %v", err)
	}
}

func TestParseSurvivesKeyRotation(t *testing.T) {
	keys := testKeyring(t)
	s, err := NewSessions(keys, WithTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	token, _, err := s.Issue("user-42", []string{"alumni"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := keys.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := s.ParseAndValidate(token); err != nil {
		t.Fatalf("session invalidated by a single rotation: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := keys.Rotate(); err != nil {
			t.Fatalf("Rotate: %v", err)
		}
	}
	if _, err := s.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("session outlived the rotation grace window")
	}
}

func TestParseRejectsForeignKey(t *testing.T) {
	s1, err := NewSessions(testKeyring(t))
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	other, err := secrets.NewKeyring(secrets.WithSecret(bytes.Repeat([]byte{'x'}, secrets.MinSecretLength)))
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	s2, err := NewSessions(other)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	token, _, err := s1.Issue("user-42", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := s2.ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token signed elsewhere validated, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	s, err := NewSessions(testKeyring(t))
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	for _, tok := range []string{"", "   ", "a.b.c", "not-a-jwt"} {
		if _, err := s.ParseAndValidate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	s, err := NewSessions(testKeyring(t))
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	if _, _, err := s.Issue("  ", nil); err == nil {
		t.Fatalf("expected error for blank user id")
	}
}
