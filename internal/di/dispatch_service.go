package di

import (
	"fmt"
	"os"

	"github.com/samber/do/v2"

	"github.com/rcatullo/talazo-kg/internal/config"
	"github.com/rcatullo/talazo-kg/internal/dispatch"
	"github.com/rcatullo/talazo-kg/internal/estimate"
	"github.com/rcatullo/talazo-kg/internal/health"
	"github.com/rcatullo/talazo-kg/internal/ratelimit"
	"github.com/rcatullo/talazo-kg/internal/sender"
)

// LimiterService wraps the dual budget limiter for DI.
type LimiterService struct {
	Limiter *ratelimit.DualBucket
}

// BreakerService wraps the endpoint circuit breaker. Breaker is nil when
// health.circuit_breaker.enabled is false.
type BreakerService struct {
	Breaker *health.CircuitBreaker
}

// EstimatorService wraps the cost estimator for DI.
type EstimatorService struct {
	Estimator *estimate.TokenEstimator
}

// SenderService wraps the HTTP sender for DI.
type SenderService struct {
	Sender *sender.HTTPSender
}

// DispatcherService wraps the dispatcher for DI.
type DispatcherService struct {
	Dispatcher *dispatch.Dispatcher
}

// NewLimiter creates the limiter and retunes it whenever the config file
// changes its limits.
func NewLimiter(i do.Injector) (*LimiterService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	limits := cfgSvc.Config.Limits
	limiter, err := ratelimit.NewDualBucket(limits.MaxRequestsPerMinute, limits.MaxCostUnitsPerMinute)
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter: %w", err)
	}

	cfgSvc.OnReload(func(newCfg *config.Config) error {
		l := newCfg.Limits
		if err := limiter.SetLimits(l.MaxRequestsPerMinute, l.MaxCostUnitsPerMinute); err != nil {
			return fmt.Errorf("apply reloaded limits: %w", err)
		}
		loggerSvc.Logger.Info().
			Int("max_requests_per_minute", l.MaxRequestsPerMinute).
			Int("max_cost_units_per_minute", l.MaxCostUnitsPerMinute).
			Msg("rate limits updated")
		return nil
	})

	return &LimiterService{Limiter: limiter}, nil
}

// NewBreaker creates the circuit breaker when it is enabled and mirrors its
// state into the breaker_state gauge.
func NewBreaker(i do.Injector) (*BreakerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)

	cbCfg := cfgSvc.Config.Health.CircuitBreaker
	if !cbCfg.Enabled {
		return &BreakerService{}, nil
	}

	m := metricsSvc.Metrics
	breaker := health.NewCircuitBreaker(cfgSvc.Config.Endpoint.URL, cbCfg, loggerSvc.Logger,
		func(_, to health.State) { m.SetBreakerState(to.String()) })
	m.SetBreakerState(breaker.State().String())

	return &BreakerService{Breaker: breaker}, nil
}

// NewEstimator creates the cost estimator from the cost section.
func NewEstimator(i do.Injector) (*EstimatorService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	cost := cfgSvc.Config.Cost
	est, err := estimate.New(estimate.Config{
		Scheme:              cost.Scheme,
		CharsPerToken:       cost.CharsPerToken,
		CompletionAllowance: cost.DefaultCompletionAllowance,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create estimator: %w", err)
	}
	return &EstimatorService{Estimator: est}, nil
}

// NewSender creates the HTTP sender. The credential falls back to the
// configured environment variable.
func NewSender(i do.Injector) (*SenderService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	cfg := cfgSvc.Config
	s, err := sender.New(sender.Config{
		URL:                 cfg.Endpoint.URL,
		Credential:          ResolveCredential(cfg.Endpoint),
		AuthHeader:          cfg.Endpoint.AuthHeader,
		AuthScheme:          cfg.Endpoint.AuthScheme,
		Headers:             cfg.Endpoint.Headers,
		Timeout:             cfg.Endpoint.GetTimeout(),
		MaxIdleConnsPerHost: cfg.Dispatch.MaxInFlight,
	}, loggerSvc.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}
	return &SenderService{Sender: s}, nil
}

// ResolveCredential returns the configured credential or, when empty, the
// value of the credential environment variable.
func ResolveCredential(e config.EndpointConfig) string {
	if e.Credential != "" {
		return e.Credential
	}
	return os.Getenv(e.GetCredentialEnv())
}

// NewDispatcher assembles the dispatcher from the other services.
func NewDispatcher(i do.Injector) (*DispatcherService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)
	limiterSvc := do.MustInvoke[*LimiterService](i)
	breakerSvc := do.MustInvoke[*BreakerService](i)
	estimatorSvc := do.MustInvoke[*EstimatorService](i)
	senderSvc, err := do.Invoke[*SenderService](i)
	if err != nil {
		return nil, err
	}

	cfg := cfgSvc.Config
	opts := []dispatch.Option{
		dispatch.WithLogger(loggerSvc.Logger),
		dispatch.WithMetrics(metricsSvc.Metrics),
	}
	if breakerSvc.Breaker != nil {
		opts = append(opts, dispatch.WithBreaker(breakerSvc.Breaker))
	}

	d, err := dispatch.New(dispatch.Config{
		RetryPlacement:    dispatch.RetryPlacement(cfg.Retry.Placement),
		PollInterval:      cfg.Dispatch.GetPollIntervalOption().OrEmpty(),
		RateLimitCooldown: cfg.Retry.GetRateLimitCooldownOption().OrEmpty(),
		ProgressInterval:  cfg.Dispatch.GetProgressInterval(),
		MaxAttempts:       cfg.Retry.MaxAttempts,
		MaxInFlight:       cfg.Dispatch.MaxInFlight,
	}, limiterSvc.Limiter, estimatorSvc.Estimator, senderSvc.Sender, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	return &DispatcherService{Dispatcher: d}, nil
}
