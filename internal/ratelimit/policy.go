// Package ratelimit gates request volume per (key, policy) against a
// shared Redis counter store, so limits hold across service instances.
package ratelimit

import "time"

// DefaultPolicyName is the fallback for unknown policy lookups.
const DefaultPolicyName = "default"

// ProgressiveDelay configures the advisory client backoff hint. It never
// affects server-side admission.
type ProgressiveDelay struct {
	Enabled   bool
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Policy is a named rate-limit configuration, static for the process
// lifetime.
type Policy struct {
	Name          string
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration // zero disables the punitive lockout
	Progressive   ProgressiveDelay
}

// DefaultPolicies returns the policy table protecting the platform's
// sensitive endpoints. OTP, login and registration carry lockouts; chat
// policies are volume caps only.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Name:          "otp",
			Window:        5 * time.Minute,
			MaxRequests:   3,
			BlockDuration: 15 * time.Minute,
			Progressive:   ProgressiveDelay{Enabled: true, BaseDelay: 2 * time.Second, MaxDelay: time.Minute},
		},
		{
			Name:          "login",
			Window:        15 * time.Minute,
			MaxRequests:   5,
			BlockDuration: 30 * time.Minute,
			Progressive:   ProgressiveDelay{Enabled: true, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		},
		{
			Name:          "registration",
			Window:        time.Hour,
			MaxRequests:   3,
			BlockDuration: time.Hour,
		},
		{
			Name:        "invitations",
			Window:      time.Hour,
			MaxRequests: 10,
		},
		{
			Name:          "email",
			Window:        time.Hour,
			MaxRequests:   5,
			BlockDuration: 2 * time.Hour,
		},
		{
			Name:        "search",
			Window:      time.Minute,
			MaxRequests: 30,
		},
		{
			Name:        "chat-create",
			Window:      time.Minute,
			MaxRequests: 10,
		},
		{
			Name:        "chat-read",
			Window:      time.Minute,
			MaxRequests: 120,
		},
		{
			Name:        "chat-write",
			Window:      time.Minute,
			MaxRequests: 30,
		},
		{
			Name:        "chat-message",
			Window:      time.Minute,
			MaxRequests: 20,
			Progressive: ProgressiveDelay{Enabled: true, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		},
		{
			Name:        "chat-reaction",
			Window:      time.Minute,
			MaxRequests: 60,
		},
		{
			Name:        DefaultPolicyName,
			Window:      time.Minute,
			MaxRequests: 60,
		},
	}
}

// PolicySet resolves policies by name.
type PolicySet struct {
	policies map[string]Policy
	fallback Policy
}

// NewPolicySet indexes the given policies. A "default" entry is required;
// when absent a permissive one-minute/60-request fallback is inserted.
func NewPolicySet(policies []Policy) *PolicySet {
	set := &PolicySet{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		set.policies[p.Name] = p
	}
	fallback, ok := set.policies[DefaultPolicyName]
	if !ok {
		fallback = Policy{Name: DefaultPolicyName, Window: time.Minute, MaxRequests: 60}
		set.policies[DefaultPolicyName] = fallback
	}
	set.fallback = fallback
	return set
}

// Resolve returns the named policy; unknown or empty names resolve to the
// default policy.
func (s *PolicySet) Resolve(name string) Policy {
	if p, ok := s.policies[name]; ok {
		return p
	}
	return s.fallback
}

// Names lists the configured policy names, for the admin surface.
func (s *PolicySet) Names() []string {
	out := make([]string, 0, len(s.policies))
	for name := range s.policies {
		out = append(out, name)
	}
	return out
}
