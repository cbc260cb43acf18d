// Package dispatch drives a batch of independent requests against a
// rate-limited API.
//
// A single loop goroutine pulls requests lazily from a Source, admits them in
// strict FIFO order through a dual-budget Limiter, hands them to a Sender on
// bounded concurrency, and records exactly one ResultRecord per request in a
// Sink. Retryable failures are re-queued up to a bounded number of attempts.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rcatullo/talazo-kg/internal/ratelimit"
)

// Request is one unit of input: an opaque JSON object payload and opaque
// metadata that is carried through to the result untouched.
type Request struct {
	Payload  json.RawMessage
	Metadata json.RawMessage
}

// WorkItem is a request after it has been pulled by the loop.
// It is never modified after creation.
type WorkItem struct {
	Payload  json.RawMessage
	Metadata json.RawMessage
	Seq      int64
	Cost     int
}

// Source yields requests lazily. Next returns io.EOF once the input is
// exhausted.
type Source interface {
	Next(ctx context.Context) (Request, error)
}

// Sink durably records terminal results. Record is called from the loop
// goroutine only, but implementations must still be safe for concurrent use.
type Sink interface {
	Record(rec ResultRecord) error
}

// Sender performs one attempt for an item and classifies the raw result.
// Send must not retry on its own and must return within its own timeout.
type Sender interface {
	Send(ctx context.Context, item WorkItem) Outcome
}

// Estimator predicts the cost of a payload before it is sent.
type Estimator interface {
	Estimate(payload []byte) (int, error)
}

// Limiter is the admission control the loop consults for every attempt.
type Limiter interface {
	TryAdmit(cost int) bool
	Cooldown(until time.Time)
	MaxCost() int
	Usage() ratelimit.Usage
}

// Breaker guards the endpoint. Ready reports whether the breaker is not
// open; Allow starts a tracked attempt and returns the callback that reports
// its outcome.
type Breaker interface {
	Ready() bool
	Allow() (done func(error), err error)
}
