// Package secrets owns the signing secrets used by the token and session
// services. A Keyring holds one current secret plus a bounded tail of
// previous secrets so that rotation does not instantly invalidate
// in-flight tokens.
package secrets

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MinSecretLength is the minimum entropy accepted from configuration.
	MinSecretLength = 32

	// maxPrevious bounds the rotation grace window: a token survives at
	// most this many rotations after issuance.
	maxPrevious = 2
)

// Metadata describes the keyring without exposing secret material.
type Metadata struct {
	CreatedAt     time.Time `json:"created_at"`
	LastRotatedAt time.Time `json:"last_rotated_at,omitzero"`
	PreviousCount int       `json:"previous_count"`
	Generated     bool      `json:"generated"`
}

// keyringState is the immutable snapshot swapped on rotation. Readers
// observe either the pre- or post-rotation state, never a mix.
type keyringState struct {
	current  []byte
	previous [][]byte
	meta     Metadata
}

// Keyring manages the current signing secret and its rotation history.
// Construct one per process and inject it; tests may hold several
// independent instances.
type Keyring struct {
	state  atomic.Pointer[keyringState]
	rotate sync.Mutex
	now    func() time.Time
}

// Option configures Keyring construction.
type Option func(*options)

type options struct {
	secret []byte
	now    func() time.Time
}

// WithSecret supplies a configured secret. Secrets shorter than
// MinSecretLength are discarded and replaced with a generated one;
// callers can detect this through Metadata().Generated and alert on it.
func WithSecret(secret []byte) Option {
	return func(o *options) {
		o.secret = secret
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

// NewKeyring builds a keyring. When no secret is configured a
// cryptographically random one is generated; multi-instance deployments
// must configure a shared secret or tokens signed by one instance will
// fail validation on another.
func NewKeyring(opts ...Option) (*Keyring, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	generated := false
	secret := o.secret
	if len(secret) < MinSecretLength {
		var err error
		secret, err = randomSecret()
		if err != nil {
			return nil, err
		}
		generated = true
	}

	k := &Keyring{now: o.now}
	k.state.Store(&keyringState{
		current: secret,
		meta: Metadata{
			CreatedAt: o.now().UTC(),
			Generated: generated,
		},
	})
	return k, nil
}

// Current returns the secret used to sign new tokens.
func (k *Keyring) Current() []byte {
	return k.state.Load().current
}

// AllValid returns the current secret followed by previous secrets, newest
// first. Verifiers must try each in order.
func (k *Keyring) AllValid() [][]byte {
	st := k.state.Load()
	out := make([][]byte, 0, 1+len(st.previous))
	out = append(out, st.current)
	out = append(out, st.previous...)
	return out
}

// Rotate replaces the current secret with a fresh random one. The evicted
// secret stays valid until pushed out by later rotations; previous is
// truncated to the grace-window bound. The swap is copy-on-write: a new
// snapshot is built and the pointer exchanged in one step.
func (k *Keyring) Rotate() error {
	k.rotate.Lock()
	defer k.rotate.Unlock()

	next, err := randomSecret()
	if err != nil {
		return err
	}

	old := k.state.Load()
	previous := make([][]byte, 0, maxPrevious)
	previous = append(previous, old.current)
	for _, s := range old.previous {
		if len(previous) == maxPrevious {
			break
		}
		previous = append(previous, s)
	}

	meta := old.meta
	meta.LastRotatedAt = k.now().UTC()
	meta.PreviousCount = len(previous)
	meta.Generated = true

	k.state.Store(&keyringState{
		current:  next,
		previous: previous,
		meta:     meta,
	})
	return nil
}

// IsValid reports whether the given secret is the current one or still
// inside the rotation grace window. Comparison is constant-time.
func (k *Keyring) IsValid(secret []byte) bool {
	valid := false
	for _, s := range k.AllValid() {
		if len(s) == len(secret) && subtle.ConstantTimeCompare(s, secret) == 1 {
			valid = true
		}
	}
	return valid
}

// Metadata returns rotation bookkeeping for the admin surface.
func (k *Keyring) Metadata() Metadata {
	return k.state.Load().meta
}

func randomSecret() ([]byte, error) {
	secret := make([]byte, MinSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.New("secrets: secret generation failed")
	}
	return secret, nil
}
