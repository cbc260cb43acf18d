package dispatch

import (
	"time"

	"github.com/rs/zerolog"
)

// Summary holds the counters of a run.
type Summary struct {
	LastRateLimitAt time.Time     `json:"last_rate_limit_at,omitzero"`
	Elapsed         time.Duration `json:"elapsed"`
	Read            int64         `json:"read"`
	Started         int64         `json:"started"`
	InProgress      int64         `json:"in_progress"`
	Succeeded       int64         `json:"succeeded"`
	Failed          int64         `json:"failed"`
	Exhausted       int64         `json:"exhausted"`
	Unrecorded      int64         `json:"unrecorded"`
	Attempts        int64         `json:"attempts"`
	Retries         int64         `json:"retries"`
	RateLimitErrors int64         `json:"rate_limit_errors"`
	APIErrors       int64         `json:"api_errors"`
	OtherErrors     int64         `json:"other_errors"`
}

// Recorded is the number of items with a terminal record.
func (s Summary) Recorded() int64 {
	return s.Succeeded + s.Failed + s.Exhausted
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (s Summary) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("read", s.Read).
		Int64("started", s.Started).
		Int64("in_progress", s.InProgress).
		Int64("succeeded", s.Succeeded).
		Int64("failed", s.Failed).
		Int64("exhausted", s.Exhausted).
		Int64("attempts", s.Attempts).
		Int64("retries", s.Retries).
		Int64("rate_limit_errors", s.RateLimitErrors).
		Int64("api_errors", s.APIErrors).
		Int64("other_errors", s.OtherErrors).
		Dur("elapsed", s.Elapsed)
	if !s.LastRateLimitAt.IsZero() {
		e.Time("last_rate_limit_at", s.LastRateLimitAt)
	}
}

// statusTracker accumulates Summary counters. Owned by the loop goroutine.
type statusTracker struct {
	started time.Time
	summary Summary
}

func (t *statusTracker) itemRead() {
	t.summary.Read++
}

func (t *statusTracker) attemptStarted(first bool) {
	t.summary.Attempts++
	if first {
		t.summary.Started++
		t.summary.InProgress++
	} else {
		t.summary.Retries++
	}
}

func (t *statusTracker) attemptFailed(out Outcome, at time.Time) {
	switch {
	case out.RateLimited:
		t.summary.RateLimitErrors++
		t.summary.LastRateLimitAt = at
	case out.Status > 0 || (out.Err != nil && out.Err.Kind == KindAPI):
		t.summary.APIErrors++
	default:
		t.summary.OtherErrors++
	}
}

func (t *statusTracker) recorded(status RecordStatus, wasStarted bool) {
	if wasStarted {
		t.summary.InProgress--
	}
	switch status {
	case StatusSuccess:
		t.summary.Succeeded++
	case StatusFailed:
		t.summary.Failed++
	case StatusExhausted:
		t.summary.Exhausted++
	}
}

func (t *statusTracker) snapshot(now time.Time) Summary {
	s := t.summary
	s.Elapsed = now.Sub(t.started)
	return s
}
