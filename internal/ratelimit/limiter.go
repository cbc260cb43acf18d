// Package ratelimit provides admission control for batch dispatch against
// rate-limited APIs.
//
// Limiters track two budgets at once, mirroring how LLM providers meter traffic:
//   - Requests per minute (RPM): one unit per request
//   - Cost units per minute (CPM): an estimated cost per request, usually tokens
//
// Admission is all-or-nothing: a request is admitted only when both budgets can
// cover it, and a refused admission leaves both budgets untouched.
//
// Basic usage:
//
//	limiter, err := ratelimit.NewDualBucket(60, 90000) // 60 RPM, 90K tokens/min
//	if err != nil {
//		return err
//	}
//
//	if !limiter.TryAdmit(cost) {
//		// try again shortly
//	}
//
//	// After a 429 from the remote side
//	limiter.Cooldown(time.Now().Add(15 * time.Second))
package ratelimit

import (
	"errors"
	"time"
)

// Common errors returned by rate limiters.
var (
	// ErrInvalidLimit is returned when a limit is zero or negative.
	ErrInvalidLimit = errors.New("ratelimit: limits must be positive")

	// ErrCostExceedsBudget marks a cost that can never be admitted because it is
	// larger than the cost budget maximum.
	ErrCostExceedsBudget = errors.New("ratelimit: cost exceeds budget maximum")
)

// Usage is a snapshot of both budgets.
type Usage struct {
	// CooldownUntil is the end of the current admission pause (zero if none).
	CooldownUntil time.Time `json:"cooldown_until"`

	// RequestsLimit is the request budget maximum (requests per minute).
	RequestsLimit int `json:"requests_limit"`

	// CostLimit is the cost budget maximum (cost units per minute).
	CostLimit int `json:"cost_limit"`

	// RequestsAvailable is the request budget currently available.
	RequestsAvailable float64 `json:"requests_available"`

	// CostAvailable is the cost budget currently available.
	CostAvailable float64 `json:"cost_available"`
}

// Limiter defines admission control over a request budget and a cost budget.
// All implementations must be safe for concurrent use.
type Limiter interface {
	// TryAdmit debits one request and cost units if both budgets can cover
	// them, and reports whether it did. It never blocks and never debits
	// partially.
	TryAdmit(cost int) bool

	// Cooldown refuses every admission until the given instant.
	// An earlier instant than the current cooldown is ignored.
	Cooldown(until time.Time)

	// SetLimits retunes both budget maximums in place.
	// Available amounts are kept, clamped to the new maximums.
	SetLimits(rpm, cpm int) error

	// MaxCost returns the largest cost that can ever be admitted.
	MaxCost() int

	// Usage returns the current budget snapshot.
	Usage() Usage
}
