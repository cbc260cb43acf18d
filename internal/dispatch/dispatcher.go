package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcatullo/talazo-kg/internal/health"
	"github.com/rcatullo/talazo-kg/internal/metrics"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultMaxAttempts       = 5
	DefaultMaxInFlight       = 32
	DefaultPollInterval      = 10 * time.Millisecond
	DefaultRateLimitCooldown = 15 * time.Second
	DefaultProgressInterval  = 10 * time.Second
)

// Admission results reported to metrics.
const (
	admissionAdmitted    = "admitted"
	admissionDeferred    = "deferred"
	admissionBreakerOpen = "breaker_open"
)

// Config tunes a Dispatcher.
type Config struct {
	// RetryPlacement defaults to RetryFront.
	RetryPlacement RetryPlacement

	// PollInterval is the sleep between refused admissions. Default: 10ms
	PollInterval time.Duration

	// RateLimitCooldown is the minimum admission pause after a rate-limited
	// attempt. Default: 15s
	RateLimitCooldown time.Duration

	// ProgressInterval between progress logs. Negative disables. Default: 10s
	ProgressInterval time.Duration

	// MaxAttempts bounds attempts per item, first attempt included. Default: 5
	MaxAttempts int

	// MaxInFlight bounds concurrent attempts. Default: 32
	MaxInFlight int
}

func (c Config) withDefaults() (Config, error) {
	if c.MaxAttempts < 0 {
		return c, fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.MaxInFlight < 0 {
		return c, fmt.Errorf("%w: max in flight must be at least 1, got %d", ErrInvalidConfig, c.MaxInFlight)
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	placement, err := ParseRetryPlacement(string(c.RetryPlacement))
	if err != nil {
		return c, err
	}
	c.RetryPlacement = placement
	return c, nil
}

// Dispatcher runs batches. A Dispatcher can run several batches one after
// another; the limiter and breaker carry over between them.
type Dispatcher struct {
	limiter   Limiter
	estimator Estimator
	sender    Sender
	breaker   Breaker
	metrics   *metrics.Metrics
	logger    *zerolog.Logger
	now       func() time.Time
	cfg       Config
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBreaker gates every attempt through b.
func WithBreaker(b Breaker) Option {
	return func(d *Dispatcher) {
		d.breaker = b
	}
}

// WithMetrics records loop activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithLogger sets the logger. Default: zerolog.Nop.
func WithLogger(l *zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithClock replaces time.Now for cooldown deadlines and elapsed time.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// New creates a Dispatcher.
func New(cfg Config, limiter Limiter, estimator Estimator, sender Sender, opts ...Option) (*Dispatcher, error) {
	if limiter == nil || estimator == nil || sender == nil {
		return nil, fmt.Errorf("%w: limiter, estimator and sender are required", ErrInvalidConfig)
	}
	resolved, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	nop := zerolog.Nop()
	d := &Dispatcher{
		cfg:       resolved,
		limiter:   limiter,
		estimator: estimator,
		sender:    sender,
		logger:    &nop,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the resolved configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// Run dispatches every request from src and records one result per request
// in sink, in completion order.
//
// Run returns when the source is exhausted and every item is recorded, when
// a fatal condition occurs (ErrEmptyInput, *CostExceedsBudgetError, a source
// or sink failure), or when ctx is canceled. On the last two, in-flight
// attempts are allowed to finish and items still owed a retry are recorded as
// exhausted; items never attempted are not recorded. Run does not close sink.
func (d *Dispatcher) Run(ctx context.Context, src Source, sink Sink) (Summary, error) {
	r := &run{
		d:           d,
		src:         src,
		sink:        sink,
		sendCtx:     context.WithoutCancel(ctx),
		completions: make(chan completion, d.cfg.MaxInFlight),
		status:      statusTracker{started: d.now()},
	}

	d.logger.Info().
		Int("max_attempts", d.cfg.MaxAttempts).
		Int("max_in_flight", d.cfg.MaxInFlight).
		Int("max_cost", d.limiter.MaxCost()).
		Str("retry_placement", string(d.cfg.RetryPlacement)).
		Msg("dispatch started")

	err := r.loop(ctx)

	summary := r.status.snapshot(d.now())
	summary.Unrecorded = summary.Read - summary.Recorded()
	d.logSummary(summary, err)
	return summary, err
}

type completion struct {
	state   *attemptState
	outcome Outcome
	elapsed time.Duration
}

// run is the state of one Run call. Every field is owned by the loop goroutine.
type run struct {
	d           *Dispatcher
	src         Source
	sink        Sink
	sendCtx     context.Context
	fatal       error
	completions chan completion
	head        *attemptState
	queue       retryQueue
	status      statusTracker
	nextSeq     int64
	inFlight    int
	srcDone     bool
	stopping    bool
}

func (r *run) loop(ctx context.Context) error {
	var progress <-chan time.Time
	if interval := r.d.cfg.ProgressInterval; interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		progress = ticker.C
	}

	for {
		r.collect()

		if r.fatal != nil || ctx.Err() != nil {
			r.drain()
			break
		}

		if r.step(ctx) {
			continue
		}
		if r.fatal != nil || ctx.Err() != nil {
			continue
		}
		if r.finished() {
			break
		}
		r.wait(ctx, progress)
	}

	if r.fatal != nil {
		return r.fatal
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dispatch: run interrupted: %w", err)
	}
	return nil
}

// step fills the head slot and tries to launch it. It reports whether it
// made progress, in which case the loop goes round again without sleeping.
func (r *run) step(ctx context.Context) bool {
	// A retry queued after the head was read is older than it, so a fresh
	// head steps back behind the retries.
	if r.head != nil && r.head.attempts == 0 && !r.head.debited &&
		r.queue.Len() > 0 && r.d.cfg.RetryPlacement == RetryFront {
		r.queue.Push(r.head, RetryBack)
		r.head = nil
	}
	if r.head == nil {
		r.head = r.queue.Pop()
	}
	if r.head == nil && !r.srcDone && r.inFlight < r.d.cfg.MaxInFlight {
		var progressed bool
		r.head, progressed = r.pull(ctx)
		if r.head == nil {
			return progressed
		}
	}
	if r.head == nil || r.inFlight >= r.d.cfg.MaxInFlight {
		return false
	}
	if !r.admit(r.head) {
		return false
	}
	r.launch(r.head)
	r.head = nil
	return true
}

// pull reads and prices the next request.
func (r *run) pull(ctx context.Context) (*attemptState, bool) {
	req, err := r.src.Next(ctx)
	if errors.Is(err, io.EOF) {
		r.srcDone = true
		if r.nextSeq == 0 {
			r.fatal = ErrEmptyInput
		}
		return nil, true
	}
	if err != nil {
		if ctx.Err() == nil {
			r.fatal = fmt.Errorf("dispatch: read input: %w", err)
		}
		return nil, false
	}

	item := WorkItem{
		Seq:      r.nextSeq,
		Payload:  req.Payload,
		Metadata: req.Metadata,
	}
	r.nextSeq++
	r.status.itemRead()

	cost, err := price(r.d.estimator, req.Payload)
	if err != nil {
		r.rejectInvalid(item, err)
		return nil, true
	}
	item.Cost = cost
	r.d.metrics.RecordItemCost(cost)

	if maxCost := r.d.limiter.MaxCost(); cost > maxCost {
		r.fatal = &CostExceedsBudgetError{
			Seq:      item.Seq,
			Cost:     cost,
			Max:      maxCost,
			Metadata: item.Metadata,
		}
		return nil, false
	}

	return newAttemptState(item), true
}

// rejectInvalid records an item whose payload cannot be sent at all.
func (r *run) rejectInvalid(item WorkItem, cause error) {
	if !json.Valid(item.Payload) {
		quoted, err := json.Marshal(string(item.Payload))
		if err == nil {
			item.Payload = quoted
		}
	}
	s := newAttemptState(item)
	s.errs = append(s.errs, &AttemptError{
		Kind:    KindInvalidPayload,
		Message: cause.Error(),
	})
	r.d.logger.Warn().Int64("seq", item.Seq).Err(cause).Msg("invalid request payload, not sent")
	r.finish(s, StatusFailed, nil)
}

// admit runs breaker readiness, limiter debit and breaker admission, in that
// order. A debit survives a breaker refusal so it is never charged twice.
func (r *run) admit(s *attemptState) bool {
	if !s.debited {
		if r.d.breaker != nil && !r.d.breaker.Ready() {
			r.d.metrics.RecordAdmission(admissionBreakerOpen)
			return false
		}
		if !r.d.limiter.TryAdmit(s.item.Cost) {
			r.d.metrics.RecordAdmission(admissionDeferred)
			return false
		}
		s.debited = true
	}

	if r.d.breaker != nil {
		done, err := r.d.breaker.Allow()
		if err != nil {
			r.d.metrics.RecordAdmission(admissionBreakerOpen)
			return false
		}
		s.breakerDone = done
	}

	r.d.metrics.RecordAdmission(admissionAdmitted)
	return true
}

func (r *run) launch(s *attemptState) {
	s.debited = false
	s.attempts++
	r.inFlight++
	r.status.attemptStarted(s.attempts == 1)
	r.d.metrics.UpdateLoop(r.inFlight, r.queue.Len())

	item := s.item
	sender := r.d.sender
	ctx := r.sendCtx
	out := r.completions
	go func() {
		start := time.Now()
		outcome := sender.Send(ctx, item)
		out <- completion{state: s, outcome: outcome, elapsed: time.Since(start)}
	}()
}

// collect applies every completion that is already waiting.
func (r *run) collect() {
	for {
		select {
		case c := <-r.completions:
			r.complete(c)
		default:
			return
		}
	}
}

// drain stops admission and waits for every in-flight attempt.
func (r *run) drain() {
	r.stopping = true
	if r.inFlight > 0 {
		r.d.logger.Info().Int("in_flight", r.inFlight).Msg("stopping, waiting for in-flight attempts")
	}
	for r.inFlight > 0 {
		r.complete(<-r.completions)
	}

	// Items that already failed an attempt keep their errors; items that
	// were never attempted stay unrecorded.
	if r.head != nil {
		r.queue.Push(r.head, RetryFront)
		r.head = nil
	}
	pending := 0
	for s := r.queue.Pop(); s != nil; s = r.queue.Pop() {
		if s.attempts == 0 {
			pending++
			continue
		}
		r.finish(s, StatusExhausted, nil)
	}
	if pending > 0 {
		r.d.logger.Warn().Int("pending", pending).Msg("items left without a result record")
	}
}

func (r *run) finished() bool {
	return r.srcDone && r.head == nil && r.queue.Len() == 0 && r.inFlight == 0
}

func (r *run) wait(ctx context.Context, progress <-chan time.Time) {
	var poll <-chan time.Time
	if r.head != nil && r.inFlight < r.d.cfg.MaxInFlight {
		timer := time.NewTimer(r.d.cfg.PollInterval)
		defer timer.Stop()
		poll = timer.C
	}

	select {
	case c := <-r.completions:
		r.complete(c)
	case <-poll:
	case <-progress:
		r.logProgress()
	case <-ctx.Done():
	}
}

// complete applies the state transition for one finished attempt.
func (r *run) complete(c completion) {
	r.inFlight--
	s, out := c.state, c.outcome
	defer func() {
		r.d.metrics.UpdateLoop(r.inFlight, r.queue.Len())
	}()

	if s.breakerDone != nil {
		s.breakerDone(breakerResult(out))
		s.breakerDone = nil
	}

	switch out.Kind {
	case OutcomeSuccess:
		r.d.metrics.RecordAttempt(out.Kind.String(), "", c.elapsed)
		r.finish(s, StatusSuccess, out.Response)
		return
	case OutcomeRetryable, OutcomeTerminal:
	default:
		out = Fail(&AttemptError{
			Kind:    KindClient,
			Message: fmt.Sprintf("sender returned unknown outcome kind %d", out.Kind),
		})
	}

	attemptErr := AttemptError{Kind: KindAPI, Status: out.Status, Message: "attempt failed without error detail"}
	if out.Err != nil {
		attemptErr = *out.Err
	}
	attemptErr.Attempt = s.attempts
	s.errs = append(s.errs, &attemptErr)

	r.d.metrics.RecordAttempt(out.Kind.String(), string(attemptErr.Kind), c.elapsed)
	r.status.attemptFailed(out, r.d.now())
	if out.RateLimited {
		r.cooldown(out.RetryAfter)
	}

	event := r.d.logger.Debug().
		Int64("seq", s.item.Seq).
		Int("attempt", s.attempts).
		Str("kind", string(attemptErr.Kind)).
		Int("status", attemptErr.Status).
		Str("error", attemptErr.Message)

	switch {
	case out.Kind == OutcomeTerminal:
		event.Msg("attempt failed, not retryable")
		r.finish(s, StatusFailed, nil)
	case s.attempts >= r.d.cfg.MaxAttempts || r.stopping:
		event.Msg("attempt failed, no attempts left")
		r.finish(s, StatusExhausted, nil)
	default:
		event.Msg("attempt failed, will retry")
		r.queue.Push(s, r.d.cfg.RetryPlacement)
	}
}

func (r *run) cooldown(retryAfter time.Duration) {
	pause := r.d.cfg.RateLimitCooldown
	if retryAfter > pause {
		pause = retryAfter
	}
	until := r.d.now().Add(pause)
	r.d.limiter.Cooldown(until)
	r.d.metrics.RecordCooldown()
	r.d.logger.Warn().
		Dur("pause", pause).
		Time("until", until).
		Msg("rate limited, pausing admission")
}

func (r *run) finish(s *attemptState, status RecordStatus, response json.RawMessage) {
	rec := ResultRecord{
		Seq:      s.item.Seq,
		Payload:  s.item.Payload,
		Metadata: s.item.Metadata,
		Status:   status,
		Attempts: s.attempts,
	}
	if status == StatusSuccess {
		rec.Response = response
	} else {
		rec.Errors = s.errs
	}

	if err := r.sink.Record(rec); err != nil {
		if r.fatal == nil {
			r.fatal = fmt.Errorf("dispatch: record result %d: %w", rec.Seq, err)
		}
		return
	}
	r.status.recorded(status, s.attempts > 0)
	r.d.metrics.RecordResult(string(status))
}

func (r *run) logProgress() {
	usage := r.d.limiter.Usage()
	r.d.metrics.UpdateBudgets(usage.RequestsAvailable, usage.CostAvailable)
	r.d.logger.Info().
		EmbedObject(r.status.snapshot(r.d.now())).
		Int("queued", r.queue.Len()).
		Float64("requests_available", usage.RequestsAvailable).
		Float64("cost_available", usage.CostAvailable).
		Msg("dispatch progress")
}

func (d *Dispatcher) logSummary(s Summary, err error) {
	event := d.logger.Info()
	msg := "dispatch complete"
	if err != nil {
		event = d.logger.Error().Err(err)
		msg = "dispatch stopped"
	}
	event.EmbedObject(s).Int64("unrecorded", s.Unrecorded).Msg(msg)

	if failed := s.Failed + s.Exhausted; failed > 0 {
		d.logger.Warn().
			Int64("failed", failed).
			Int64("recorded", s.Recorded()).
			Msgf("%d of %d requests failed, see result records for errors", failed, s.Recorded())
	}
	if s.RateLimitErrors > 0 {
		d.logger.Warn().
			Int64("rate_limit_errors", s.RateLimitErrors).
			Msg("rate limit errors received, consider lowering the configured limits")
	}
}

// breakerResult is the error reported to the breaker for an outcome, nil
// when the outcome says nothing bad about the endpoint.
func breakerResult(out Outcome) error {
	if out.Kind == OutcomeSuccess {
		return nil
	}
	var err error
	if out.Err != nil {
		err = out.Err
	}
	if !health.ShouldCountAsFailure(out.Status, err) {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("status %d", out.Status)
	}
	return err
}
