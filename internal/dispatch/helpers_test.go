package dispatch_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rcatullo/talazo-kg/internal/dispatch"
	"github.com/rcatullo/talazo-kg/internal/ratelimit"
)

// fixedCost prices every payload the same.
type fixedCost int

func (c fixedCost) Estimate([]byte) (int, error) {
	return int(c), nil
}

// costByInput prices {"input":"...","cost":N} payloads at N.
type costByInput struct{}

func (costByInput) Estimate(payload []byte) (int, error) {
	var body struct {
		Cost int `json:"cost"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return 0, err
	}
	return body.Cost, nil
}

func requests(n int) []dispatch.Request {
	reqs := make([]dispatch.Request, n)
	for i := range reqs {
		reqs[i] = dispatch.Request{
			Payload:  json.RawMessage(fmt.Sprintf(`{"input":"item-%d"}`, i)),
			Metadata: json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)),
		}
	}
	return reqs
}

func retryable(msg string) dispatch.Outcome {
	return dispatch.Retry(&dispatch.AttemptError{Kind: dispatch.KindServer, Status: 500, Message: msg})
}

func terminal(msg string) dispatch.Outcome {
	return dispatch.Fail(&dispatch.AttemptError{Kind: dispatch.KindClient, Status: 400, Message: msg})
}

func success(seq int64) dispatch.Outcome {
	return dispatch.Succeeded(json.RawMessage(fmt.Sprintf(`{"ok":%d}`, seq)))
}

// scriptedSender returns scripted outcomes per item and attempt. Attempts past
// the end of a script repeat its last outcome; items without a script succeed.
type scriptedSender struct {
	scripts map[int64][]dispatch.Outcome
	calls   map[int64]int
	order   []int64
	mu      sync.Mutex
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{
		scripts: make(map[int64][]dispatch.Outcome),
		calls:   make(map[int64]int),
	}
}

func (s *scriptedSender) script(seq int64, outcomes ...dispatch.Outcome) *scriptedSender {
	s.scripts[seq] = outcomes
	return s
}

func (s *scriptedSender) Send(_ context.Context, item dispatch.WorkItem) dispatch.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := s.calls[item.Seq]
	s.calls[item.Seq]++
	s.order = append(s.order, item.Seq)

	script, ok := s.scripts[item.Seq]
	if !ok || len(script) == 0 {
		return success(item.Seq)
	}
	if attempt >= len(script) {
		attempt = len(script) - 1
	}
	return script[attempt]
}

func (s *scriptedSender) Calls(seq int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[seq]
}

func (s *scriptedSender) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *scriptedSender) Order() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.order...)
}

// steppingClock advances by step on every read.
type steppingClock struct {
	now  time.Time
	step time.Duration
	mu   sync.Mutex
}

func newSteppingClock(step time.Duration) *steppingClock {
	return &steppingClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), step: step}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *steppingClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// recordingLimiter wraps a real limiter and records what the loop asked of it.
type recordingLimiter struct {
	*ratelimit.DualBucket
	cooldowns []time.Duration
	admitted  []int
	peek      func() time.Time
	mu        sync.Mutex
}

func (l *recordingLimiter) TryAdmit(cost int) bool {
	ok := l.DualBucket.TryAdmit(cost)
	if ok {
		l.mu.Lock()
		l.admitted = append(l.admitted, cost)
		l.mu.Unlock()
	}
	return ok
}

func (l *recordingLimiter) Cooldown(until time.Time) {
	l.mu.Lock()
	if l.peek != nil {
		l.cooldowns = append(l.cooldowns, until.Sub(l.peek()))
	} else {
		l.cooldowns = append(l.cooldowns, 0)
	}
	l.mu.Unlock()
	l.DualBucket.Cooldown(until)
}

func (l *recordingLimiter) Admits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.admitted)
}

// Admitted returns the costs debited, in admission order.
func (l *recordingLimiter) Admitted() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.admitted...)
}

func newLimiter(t *testing.T, rpm, cpm int, opts ...ratelimit.Option) *ratelimit.DualBucket {
	t.Helper()
	limiter, err := ratelimit.NewDualBucket(rpm, cpm, opts...)
	require.NoError(t, err)
	return limiter
}

func testConfig() dispatch.Config {
	return dispatch.Config{
		MaxAttempts:      3,
		MaxInFlight:      8,
		PollInterval:     time.Millisecond,
		ProgressInterval: -1,
	}
}

func newDispatcher(t *testing.T, cfg dispatch.Config, limiter dispatch.Limiter, est dispatch.Estimator,
	sender dispatch.Sender, opts ...dispatch.Option,
) *dispatch.Dispatcher {
	t.Helper()
	d, err := dispatch.New(cfg, limiter, est, sender, opts...)
	require.NoError(t, err)
	return d
}

// runWithTimeout fails the test instead of hanging when Run never returns.
func runWithTimeout(t *testing.T, ctx context.Context, d *dispatch.Dispatcher, src dispatch.Source,
	sink dispatch.Sink,
) (dispatch.Summary, error) {
	t.Helper()

	type result struct {
		err     error
		summary dispatch.Summary
	}
	done := make(chan result, 1)
	go func() {
		summary, err := d.Run(ctx, src, sink)
		done <- result{summary: summary, err: err}
	}()

	select {
	case res := <-done:
		return res.summary, res.err
	case <-time.After(10 * time.Second):
		t.Fatal("dispatcher did not finish")
		return dispatch.Summary{}, nil
	}
}
