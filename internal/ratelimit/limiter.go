package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"alumnihub.org/internal/obs"
)

const (
	keyPrefix      = "ratelimit:"
	blockKeyPrefix = "ratelimit:block:"

	// counterTTLBuffer keeps a closed window's counter readable slightly
	// past its boundary before Redis expires it.
	counterTTLBuffer = time.Minute

	defaultStoreTimeout = 500 * time.Millisecond
)

// Decision is the structured outcome of a limit check. Expected failures
// (cap exceeded, active block) never surface as errors.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
}

// Limiter implements fixed-window counting over Redis. All store calls are
// time-bounded; on store failure the limiter fails open so an unavailable
// Redis never takes request handling down with it.
type Limiter struct {
	rdb      *redis.Client
	policies *PolicySet
	timeout  time.Duration
	now      func() time.Time
}

// Option configures Limiter construction.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithStoreTimeout bounds each Redis round-trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewLimiter constructs a limiter over the shared counter store.
func NewLimiter(rdb *redis.Client, policies *PolicySet, opts ...Option) (*Limiter, error) {
	if rdb == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if policies == nil {
		policies = NewPolicySet(DefaultPolicies())
	}
	l := &Limiter{
		rdb:      rdb,
		policies: policies,
		timeout:  defaultStoreTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// bound caps a store round-trip at the configured timeout.
func (l *Limiter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeout)
}

// Policies exposes the policy set for callers that key limits by name.
func (l *Limiter) Policies() *PolicySet {
	return l.policies
}

// Check reports whether another request for key would be admitted under the
// named policy. It does not consume quota; pair with Record, or use
// CheckAndRecord for the atomic path.
func (l *Limiter) Check(ctx context.Context, key, policyName string) Decision {
	policy := l.policies.Resolve(policyName)
	ctx, cancel := l.bound(ctx)
	defer cancel()
	now := l.now()

	if d, blocked, err := l.blockDecision(ctx, key, policy, now); err != nil {
		return l.failOpen(policy, now, err)
	} else if blocked {
		obs.RateLimitDecision(policy.Name, "blocked")
		return d
	}

	count, err := l.rdb.Get(ctx, l.counterKey(key, policy, now)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return l.failOpen(policy, now, err)
	}

	if count >= int64(policy.MaxRequests) {
		return l.deny(ctx, key, policy, now)
	}

	obs.RateLimitDecision(policy.Name, "allowed")
	return Decision{
		Allowed:   true,
		Remaining: policy.MaxRequests - int(count) - 1,
		ResetAt:   windowReset(policy, now),
		Delay:     progressiveDelay(policy, count),
	}
}

// Record consumes one unit of quota for key. The counter receives its TTL
// on the first increment of each window so stale windows expire on their
// own. Store failures are logged and swallowed; admission was already
// decided.
func (l *Limiter) Record(ctx context.Context, key, policyName string) {
	policy := l.policies.Resolve(policyName)
	ctx, cancel := l.bound(ctx)
	defer cancel()

	if err := l.increment(ctx, key, policy, l.now()); err != nil {
		l.degraded(policy, err)
	}
}

// CheckAndRecord admits and counts in one atomic store operation: the INCR
// return value is compared against the cap, so two concurrent callers at
// the boundary can never both be admitted as the Nth request.
func (l *Limiter) CheckAndRecord(ctx context.Context, key, policyName string) Decision {
	policy := l.policies.Resolve(policyName)
	ctx, cancel := l.bound(ctx)
	defer cancel()
	now := l.now()

	if d, blocked, err := l.blockDecision(ctx, key, policy, now); err != nil {
		return l.failOpen(policy, now, err)
	} else if blocked {
		obs.RateLimitDecision(policy.Name, "blocked")
		return d
	}

	count, err := l.rdb.Incr(ctx, l.counterKey(key, policy, now)).Result()
	if err != nil {
		return l.failOpen(policy, now, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, l.counterKey(key, policy, now), policy.Window+counterTTLBuffer).Err(); err != nil {
			l.degraded(policy, err)
		}
	}

	if count > int64(policy.MaxRequests) {
		return l.deny(ctx, key, policy, now)
	}

	obs.RateLimitDecision(policy.Name, "allowed")
	return Decision{
		Allowed:   true,
		Remaining: policy.MaxRequests - int(count),
		ResetAt:   windowReset(policy, now),
		Delay:     progressiveDelay(policy, count),
	}
}

// Status is the read-only view for admin and monitoring UIs. It neither
// consumes quota nor sets blocks.
func (l *Limiter) Status(ctx context.Context, key, policyName string) Decision {
	policy := l.policies.Resolve(policyName)
	ctx, cancel := l.bound(ctx)
	defer cancel()
	now := l.now()

	if d, blocked, err := l.blockDecision(ctx, key, policy, now); err != nil {
		return l.failOpen(policy, now, err)
	} else if blocked {
		return d
	}

	count, err := l.rdb.Get(ctx, l.counterKey(key, policy, now)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return l.failOpen(policy, now, err)
	}

	remaining := policy.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count < int64(policy.MaxRequests),
		Remaining: remaining,
		ResetAt:   windowReset(policy, now),
		Delay:     progressiveDelay(policy, count),
	}
	if !d.Allowed {
		d.RetryAfter = d.ResetAt.Sub(now)
	}
	return d
}

// Clear lifts all rate-limit state for key: the block marker and every
// window counter. Admin override; gate it accordingly.
func (l *Limiter) Clear(ctx context.Context, key string) error {
	ctx, cancel := l.bound(ctx)
	defer cancel()

	if err := l.rdb.Del(ctx, blockKeyPrefix+key).Err(); err != nil {
		return err
	}

	var cursor uint64
	pattern := keyPrefix + key + ":*"
	for {
		keys, next, err := l.rdb.Scan(ctx, cursor, pattern, 64).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// blockDecision checks the punitive lockout marker, which overrides window
// counting entirely while it lasts.
func (l *Limiter) blockDecision(ctx context.Context, key string, policy Policy, now time.Time) (Decision, bool, error) {
	unblockMillis, err := l.rdb.Get(ctx, blockKeyPrefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Decision{}, false, nil
		}
		return Decision{}, false, err
	}
	unblock := time.UnixMilli(unblockMillis)
	if !unblock.After(now) {
		// Marker outlived its own deadline; treat as expired.
		return Decision{}, false, nil
	}
	return Decision{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    unblock,
		RetryAfter: unblock.Sub(now),
	}, true, nil
}

// deny emits a denial and, when the policy carries a lockout, arms the
// block marker with the absolute unblock timestamp.
func (l *Limiter) deny(ctx context.Context, key string, policy Policy, now time.Time) Decision {
	reset := windowReset(policy, now)
	d := Decision{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    reset,
		RetryAfter: reset.Sub(now),
	}
	if policy.BlockDuration > 0 {
		unblock := now.Add(policy.BlockDuration)
		if err := l.rdb.Set(ctx, blockKeyPrefix+key, unblock.UnixMilli(), policy.BlockDuration).Err(); err != nil {
			l.degraded(policy, err)
		} else {
			d.ResetAt = unblock
			d.RetryAfter = policy.BlockDuration
		}
	}
	obs.RateLimitDecision(policy.Name, "denied")
	return d
}

func (l *Limiter) increment(ctx context.Context, key string, policy Policy, now time.Time) error {
	counterKey := l.counterKey(key, policy, now)
	count, err := l.rdb.Incr(ctx, counterKey).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		return l.rdb.Expire(ctx, counterKey, policy.Window+counterTTLBuffer).Err()
	}
	return nil
}

// failOpen favors availability over strict enforcement when the counter
// store is unreachable: the request is admitted with a conservative
// remaining count and the degradation is surfaced in logs and metrics.
func (l *Limiter) failOpen(policy Policy, now time.Time, err error) Decision {
	l.degraded(policy, err)
	return Decision{
		Allowed:   true,
		Remaining: policy.MaxRequests - 1,
		ResetAt:   windowReset(policy, now),
	}
}

func (l *Limiter) degraded(policy Policy, err error) {
	obs.RateLimitDegraded()
	obs.Warn("rate limiter store unavailable, failing open", map[string]any{
		"policy": policy.Name,
		"error":  err.Error(),
	})
}

func (l *Limiter) counterKey(key string, policy Policy, now time.Time) string {
	windowID := now.UnixMilli() / policy.Window.Milliseconds()
	return keyPrefix + key + ":" + strconv.FormatInt(windowID, 10)
}

// windowReset is the start of the next window.
func windowReset(policy Policy, now time.Time) time.Time {
	windowMillis := policy.Window.Milliseconds()
	windowID := now.UnixMilli() / windowMillis
	return time.UnixMilli((windowID + 1) * windowMillis)
}

// progressiveDelay computes the advisory backoff hint for the given request
// count: min(base * 2^(3*count/max), maxDelay).
func progressiveDelay(policy Policy, count int64) time.Duration {
	if !policy.Progressive.Enabled || policy.MaxRequests == 0 {
		return 0
	}
	exponent := 3 * float64(count) / float64(policy.MaxRequests)
	delay := float64(policy.Progressive.BaseDelay) * math.Pow(2, exponent)
	if ceiling := float64(policy.Progressive.MaxDelay); delay > ceiling {
		delay = ceiling
	}
	return time.Duration(delay)
}
