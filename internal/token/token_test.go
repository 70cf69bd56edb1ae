package token

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"alumnihub.org/internal/secrets"
)

func newTestService(t *testing.T, now func() time.Time) (*Service, *secrets.Keyring) {
	t.Helper()
	keys, err := secrets.NewKeyring(secrets.WithSecret(bytes.Repeat([]byte{'k'}, secrets.MinSecretLength)))
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	opts := []Option{}
	if now != nil {
		opts = append(opts, WithClock(now))
	}
	svc, err := NewService(keys, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, keys
}

func TestGenerateAndValidateRoundTrip(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, func() time.Time { return base })

	p := Payload{
		SubjectID: "alum-1",
		Email:     "grace@example.org",
		Type:      TypeAlumni,
		IssuedAt:  base.UnixMilli(),
		ExpiresAt: base.Add(time.Hour).UnixMilli(),
	}
	tok, err := svc.Generate(p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	got, err := svc.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != p {
		t.Fatalf("payload changed in transit: %+v", got)
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, func() time.Time { return base })

	cases := []struct {
		name string
		p    Payload
	}{
		{"missing subject", Payload{Type: TypeAlumni, ExpiresAt: base.Add(time.Hour).UnixMilli()}},
		{"unknown type", Payload{SubjectID: "x", Type: SubjectType("robot"), ExpiresAt: base.Add(time.Hour).UnixMilli()}},
		{"expiry before issuance", Payload{SubjectID: "x", Type: TypeAdmin, IssuedAt: base.UnixMilli(), ExpiresAt: base.UnixMilli() - 1}},
	}
	for _, tc := range cases {
		if _, err := svc.Generate(tc.p); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestValidateTamperedSignature(t *testing.T) {
	svc, _ := newTestService(t, nil)
	tok, err := svc.Generate(Payload{
		SubjectID: "alum-1",
		Type:      TypeAlumni,
		ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	// Flip one hex digit of the signature without touching the payload.
	i := bytes.LastIndexByte(raw, '"') - 1
	if raw[i] == 'a' {
		raw[i] = 'b'
	} else {
		raw[i] = 'a'
	}
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	if _, err := svc.Validate(tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestValidateMalformedInput(t *testing.T) {
	svc, _ := newTestService(t, nil)
	for _, tok := range []string{
		"",
		"not base64 ***",
		base64.RawURLEncoding.EncodeToString([]byte("not json")),
		base64.RawURLEncoding.EncodeToString([]byte(`{"payload":"","signature":""}`)),
	} {
		if _, err := svc.Validate(tok); !errors.Is(err, ErrMalformed) {
			t.Fatalf("token %q: expected ErrMalformed, got %v", tok, err)
		}
	}
}

func TestValidateExpired(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	svc, _ := newTestService(t, func() time.Time { return current })

	tok, err := svc.Generate(Payload{
		SubjectID: "alum-1",
		Type:      TypeAlumni,
		IssuedAt:  base.UnixMilli(),
		ExpiresAt: base.Add(time.Second).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	current = base.Add(2 * time.Second)
	if _, err := svc.Validate(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestValidateSurvivesRotationGrace(t *testing.T) {
	svc, keys := newTestService(t, nil)
	tok, err := svc.Generate(Payload{
		SubjectID: "alum-1",
		Type:      TypeAlumni,
		ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := keys.Rotate(); err != nil {
			t.Fatalf("Rotate: %v", err)
		}
		if _, err := svc.Validate(tok); err != nil {
			t.Fatalf("token failed after %d rotation(s): %v", i+1, err)
		}
	}

	if err := keys.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := svc.Validate(tok); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature after grace window, got %v", err)
	}
}

func TestExtractPayloadIgnoresSignature(t *testing.T) {
	svc, keys := newTestService(t, nil)
	tok, err := svc.Generate(Payload{
		SubjectID: "alum-1",
		Email:     "grace@example.org",
		Type:      TypeFamilyMember,
		ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := keys.Rotate(); err != nil {
			t.Fatalf("Rotate: %v", err)
		}
	}

	p := svc.ExtractPayload(tok)
	if p == nil {
		t.Fatalf("expected payload despite stale signature")
	}
	if p.SubjectID != "alum-1" || p.Type != TypeFamilyMember {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if svc.ExtractPayload("garbage") != nil {
		t.Fatalf("expected nil for undecodable token")
	}
}
