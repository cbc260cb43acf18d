// Package health guards the remote endpoint: a circuit breaker that stops
// admitting attempts while the endpoint keeps failing, and a reachability
// probe run before a batch starts.
package health

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// State represents the circuit breaker state.
type State = gobreaker.State

// Circuit breaker state constants.
const (
	StateClosed   = gobreaker.StateClosed
	StateOpen     = gobreaker.StateOpen
	StateHalfOpen = gobreaker.StateHalfOpen
)

// StateObserver is told about every breaker transition, after it is logged.
type StateObserver func(from, to State)

// CircuitBreaker wraps sony/gobreaker TwoStepCircuitBreaker for endpoint health tracking.
type CircuitBreaker struct {
	cb   *gobreaker.TwoStepCircuitBreaker[struct{}]
	name string
}

// NewCircuitBreaker creates a new CircuitBreaker with the given configuration.
func NewCircuitBreaker(
	name string,
	cfg CircuitBreakerConfig,
	logger *zerolog.Logger,
	observers ...StateObserver,
) *CircuitBreaker {
	halfOpenProbes := cfg.GetHalfOpenProbes()
	failureThreshold := cfg.GetFailureThreshold()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(halfOpenProbes), //nolint:gosec // getters never return negatives
		Timeout:     cfg.GetOpenDuration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold) //nolint:gosec // getters never return negatives
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				event := logger.Info()
				if to == gobreaker.StateOpen {
					event = logger.Warn().Dur("open_for", cfg.GetOpenDuration())
				}
				event.
					Str("endpoint", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state change")
			}
			for _, observe := range observers {
				observe(from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &CircuitBreaker{
		cb:   gobreaker.NewTwoStepCircuitBreaker[struct{}](settings),
		name: name,
	}
}

// Allow checks if an attempt is allowed through the circuit breaker.
// The returned callback must be called exactly once with the attempt's result.
func (c *CircuitBreaker) Allow() (done func(err error), err error) {
	d, err := c.cb.Allow()
	if err != nil {
		return nil, ErrCircuitOpen
	}
	return d, nil
}

// Ready reports whether the breaker is not open. A half-open breaker is
// ready but may still refuse Allow once its probe quota is taken.
func (c *CircuitBreaker) Ready() bool {
	return c.cb.State() != gobreaker.StateOpen
}

// State returns the current circuit breaker state.
func (c *CircuitBreaker) State() State {
	return c.cb.State()
}

// Name returns the circuit breaker's name.
func (c *CircuitBreaker) Name() string {
	return c.name
}

// ShouldCountAsFailure determines if an attempt result says something bad about
// the endpoint. Client errors (4xx other than 429) do not.
func ShouldCountAsFailure(statusCode int, err error) bool {
	if statusCode > 0 {
		return statusCode >= 500 || statusCode == 429
	}
	return err != nil && !errors.Is(err, context.Canceled)
}
