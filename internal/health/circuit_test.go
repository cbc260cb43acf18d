package health_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcatullo/talazo-kg/internal/health"
)

const testEndpointName = "https://api.example.test/v1/chat/completions"

func newTestBreaker(threshold, openMS, probes int) *health.CircuitBreaker {
	logger := zerolog.Nop()
	return health.NewCircuitBreaker(testEndpointName, health.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: threshold,
		OpenDurationMS:   openMS,
		HalfOpenProbes:   probes,
	}, &logger)
}

func tripBreaker(t *testing.T, breaker *health.CircuitBreaker, failures int) {
	t.Helper()
	testErr := errors.New("test error")
	for i := 0; i < failures; i++ {
		done, err := breaker.Allow()
		if err != nil {
			t.Fatalf("iteration %d: Allow failed before threshold: %v", i, err)
		}
		done(testErr)
	}
}

func TestNewCircuitBreakerDefaultSettings(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(0, 0, 0)

	if breaker.Name() != testEndpointName {
		t.Errorf("expected name %q, got %q", testEndpointName, breaker.Name())
	}
	if breaker.State() != health.StateClosed {
		t.Errorf("expected initial state CLOSED, got %s", breaker.State().String())
	}
	if !breaker.Ready() {
		t.Error("expected a closed breaker to be ready")
	}
}

func TestCircuitBreakerOpensAfterThresholdFailures(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(3, 1000, 1)
	tripBreaker(t, breaker, 3)

	if breaker.State() != health.StateOpen {
		t.Errorf("expected state OPEN after %d failures, got %s", 3, breaker.State().String())
	}
	if breaker.Ready() {
		t.Error("expected an open breaker not to be ready")
	}

	_, err := breaker.Allow()
	if !errors.Is(err, health.ErrCircuitOpen) {
		t.Errorf("expected health.ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(3, 1000, 1)
	tripBreaker(t, breaker, 2)

	done, err := breaker.Allow()
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	done(nil)

	tripBreaker(t, breaker, 2)
	if breaker.State() != health.StateClosed {
		t.Errorf("expected state CLOSED, got %s", breaker.State().String())
	}
}

func TestCircuitBreakerHalfOpenProbeQuota(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(2, 50, 1)
	tripBreaker(t, breaker, 2)

	time.Sleep(100 * time.Millisecond)

	if !breaker.Ready() {
		t.Fatal("expected a half-open breaker to be ready")
	}

	done, err := breaker.Allow()
	if err != nil {
		t.Fatalf("expected the first half-open probe to be allowed, got %v", err)
	}
	if breaker.State() != health.StateHalfOpen {
		t.Errorf("expected state HALF-OPEN, got %s", breaker.State().String())
	}

	if _, err := breaker.Allow(); err == nil {
		t.Error("expected a second concurrent probe to be refused")
	}

	done(nil)
	if breaker.State() != health.StateClosed {
		t.Errorf("expected state CLOSED after a successful probe, got %s", breaker.State().String())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(2, 50, 1)
	tripBreaker(t, breaker, 2)

	time.Sleep(100 * time.Millisecond)

	done, err := breaker.Allow()
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	done(errors.New("still down"))

	if breaker.State() != health.StateOpen {
		t.Errorf("expected state OPEN after a failed probe, got %s", breaker.State().String())
	}
}

func TestCircuitBreakerContextCanceledNotFailure(t *testing.T) {
	t.Parallel()

	breaker := newTestBreaker(2, 1000, 1)
	for i := 0; i < 5; i++ {
		done, err := breaker.Allow()
		if err != nil {
			t.Fatalf("iteration %d: Allow failed: %v", i, err)
		}
		done(context.Canceled)
	}

	if breaker.State() != health.StateClosed {
		t.Errorf("expected canceled attempts to keep the circuit CLOSED, got %s", breaker.State().String())
	}
}

func TestShouldCountAsFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err        error
		name       string
		statusCode int
		want       bool
	}{
		{name: "200 OK", statusCode: 200, err: nil, want: false},
		{name: "200 with api error", statusCode: 200, err: errors.New("invalid_request_error"), want: false},
		{name: "400 Bad Request", statusCode: 400, err: errors.New("bad request"), want: false},
		{name: "401 Unauthorized", statusCode: 401, err: nil, want: false},
		{name: "404 Not Found", statusCode: 404, err: nil, want: false},
		{name: "context canceled", statusCode: 0, err: context.Canceled, want: false},
		{name: "no status no error", statusCode: 0, err: nil, want: false},
		{name: "429 Rate Limited", statusCode: 429, err: nil, want: true},
		{name: "500 Internal Server Error", statusCode: 500, err: nil, want: true},
		{name: "503 Service Unavailable", statusCode: 503, err: nil, want: true},
		{name: "network error", statusCode: 0, err: errors.New("connection refused"), want: true},
		{name: "timeout error", statusCode: 0, err: context.DeadlineExceeded, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := health.ShouldCountAsFailure(tt.statusCode, tt.err)
			if got != tt.want {
				t.Errorf("health.ShouldCountAsFailure(%d, %v) = %v, want %v", tt.statusCode, tt.err, got, tt.want)
			}
		})
	}
}

func TestShouldCountAsFailureWrappedContextCanceled(t *testing.T) {
	t.Parallel()
	wrappedErr := errors.Join(errors.New("request failed"), context.Canceled)

	if health.ShouldCountAsFailure(0, wrappedErr) {
		t.Error("expected wrapped context.Canceled to NOT count as failure")
	}
}

func TestCircuitBreakerConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := health.CircuitBreakerConfig{FailureThreshold: -1, OpenDurationMS: 0, HalfOpenProbes: -5}

	if got := cfg.GetFailureThreshold(); got != health.DefaultFailureThreshold {
		t.Errorf("GetFailureThreshold() = %d, want %d", got, health.DefaultFailureThreshold)
	}
	if got := cfg.GetOpenDuration(); got != 30*time.Second {
		t.Errorf("GetOpenDuration() = %v, want 30s", got)
	}
	if got := cfg.GetHalfOpenProbes(); got != health.DefaultHalfOpenProbes {
		t.Errorf("GetHalfOpenProbes() = %d, want %d", got, health.DefaultHalfOpenProbes)
	}

	custom := health.CircuitBreakerConfig{FailureThreshold: 2, OpenDurationMS: 1500, HalfOpenProbes: 1}
	if got := custom.GetOpenDuration(); got != 1500*time.Millisecond {
		t.Errorf("GetOpenDuration() = %v, want 1.5s", got)
	}
}

func TestCircuitBreakerNotifiesObservers(t *testing.T) {
	t.Parallel()

	var transitions []string
	logger := zerolog.Nop()
	breaker := health.NewCircuitBreaker(testEndpointName, health.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		OpenDurationMS:   1000,
		HalfOpenProbes:   1,
	}, &logger, func(from, to health.State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	tripBreaker(t, breaker, 2)

	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("expected a single closed->open transition, got %v", transitions)
	}
}
