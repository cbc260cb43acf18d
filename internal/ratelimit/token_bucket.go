package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DualBucket implements Limiter using golang.org/x/time/rate.
//
// It uses two token buckets:
//   - requests: refills at rpm/60 per second, burst rpm
//   - cost: refills at cpm/60 per second, burst cpm
//
// Both buckets start full, so a fresh limiter can admit a whole minute's
// capacity at once and then refills gradually, never above its maximum.
//
// Thread safety: every check-then-debit runs under one mutex, which makes the
// dual debit atomic with respect to other callers.
type DualBucket struct {
	cooldownUntil time.Time
	requests      *rate.Limiter
	cost          *rate.Limiter
	now           func() time.Time
	rpm           int
	cpm           int
	mu            sync.Mutex
}

// Option configures a DualBucket.
type Option func(*DualBucket)

// WithClock replaces time.Now, mainly for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(l *DualBucket) {
		l.now = now
	}
}

// NewDualBucket creates a limiter with the given per-minute maximums.
// Both limits must be positive.
func NewDualBucket(rpm, cpm int, opts ...Option) (*DualBucket, error) {
	if rpm <= 0 || cpm <= 0 {
		return nil, fmt.Errorf("%w (rpm=%d, cpm=%d)", ErrInvalidLimit, rpm, cpm)
	}

	l := &DualBucket{
		requests: rate.NewLimiter(perMinute(rpm), rpm),
		cost:     rate.NewLimiter(perMinute(cpm), cpm),
		rpm:      rpm,
		cpm:      cpm,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// perMinute converts a per-minute maximum into a per-second refill rate.
func perMinute(limit int) rate.Limit {
	return rate.Limit(float64(limit) / 60.0)
}

// TryAdmit debits (1 request, cost units) if both buckets hold enough.
// Negative costs and costs above the cost maximum are refused.
func (l *DualBucket) TryAdmit(cost int) bool {
	if cost < 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if cost > l.cpm {
		return false
	}

	now := l.now()
	if now.Before(l.cooldownUntil) {
		return false
	}

	if l.requests.TokensAt(now) < 1 || l.cost.TokensAt(now) < float64(cost) {
		return false
	}

	// Both checks ran under l.mu, so neither AllowN can fail here.
	l.requests.AllowN(now, 1)
	l.cost.AllowN(now, cost)

	return true
}

// Cooldown pauses admission until the given instant.
func (l *DualBucket) Cooldown(until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if until.After(l.cooldownUntil) {
		l.cooldownUntil = until
	}
}

// SetLimits updates both maximums and refill rates without resetting the
// available amounts.
func (l *DualBucket) SetLimits(rpm, cpm int) error {
	if rpm <= 0 || cpm <= 0 {
		return fmt.Errorf("%w (rpm=%d, cpm=%d)", ErrInvalidLimit, rpm, cpm)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.requests.SetLimitAt(now, perMinute(rpm))
	l.requests.SetBurstAt(now, rpm)
	l.cost.SetLimitAt(now, perMinute(cpm))
	l.cost.SetBurstAt(now, cpm)
	l.rpm = rpm
	l.cpm = cpm

	return nil
}

// MaxCost returns the cost budget maximum.
func (l *DualBucket) MaxCost() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cpm
}

// Usage returns the current budget snapshot.
func (l *DualBucket) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	return Usage{
		RequestsLimit:     l.rpm,
		CostLimit:         l.cpm,
		RequestsAvailable: clampUsage(l.requests.TokensAt(now), l.rpm),
		CostAvailable:     clampUsage(l.cost.TokensAt(now), l.cpm),
		CooldownUntil:     l.cooldownUntil,
	}
}

func clampUsage(available float64, limit int) float64 {
	if available < 0 {
		return 0
	}
	if available > float64(limit) {
		return float64(limit)
	}
	return available
}

var _ Limiter = (*DualBucket)(nil)
