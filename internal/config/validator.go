package config

import (
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/rcatullo/talazo-kg/internal/estimate"
	"github.com/rcatullo/talazo-kg/internal/sink"
)

// Valid logging levels.
var validLogLevels = map[string]bool{
	"":      true, // Empty defaults to info
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid logging formats.
var validLogFormats = map[string]bool{
	"":        true, // Empty defaults to json
	"json":    true,
	"console": true,
	"text":    true, // Alias for console
	"pretty":  true,
}

// Valid retry placements.
var validPlacements = map[string]bool{
	"":      true, // Empty defaults to front
	"front": true,
	"back":  true,
}

// Validate checks the configuration for errors.
// It validates all required fields, valid values, and cross-field constraints.
// Returns a ValidationError containing all errors found, or nil if valid.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateEndpoint(c, errs)
	validateLimits(c, errs)
	validateCost(c, errs)
	validateRetry(c, errs)
	validateDispatch(c, errs)
	validateOutput(c, errs)
	validateLogging(c, errs)
	validateHealth(c, errs)
	validateMetrics(c, errs)

	return errs.ToError()
}

// ValidateBudgets checks only what cost estimation needs: limits, cost and
// logging. Used by commands that never contact the endpoint.
func (c *Config) ValidateBudgets() error {
	errs := &ValidationError{}

	validateLimits(c, errs)
	validateCost(c, errs)
	validateLogging(c, errs)

	return errs.ToError()
}

func validateEndpoint(c *Config, errs *ValidationError) {
	if c.Endpoint.URL == "" {
		errs.Add("endpoint.url is required")
	} else {
		u, err := url.Parse(c.Endpoint.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.Addf("endpoint.url must be an absolute http(s) URL (got %q)", c.Endpoint.URL)
		}
	}

	if c.Endpoint.TimeoutMS < 0 {
		errs.Add("endpoint.timeout_ms must be >= 0")
	}

	for name := range c.Endpoint.Headers {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t\r\n:") {
			errs.Addf("endpoint.headers has an invalid header name %q", name)
		}
	}
}

func validateLimits(c *Config, errs *ValidationError) {
	if c.Limits.MaxRequestsPerMinute <= 0 {
		errs.Addf("limits.max_requests_per_minute must be > 0 (got %d)", c.Limits.MaxRequestsPerMinute)
	}
	if c.Limits.MaxCostUnitsPerMinute <= 0 {
		errs.Addf("limits.max_cost_units_per_minute must be > 0 (got %d)", c.Limits.MaxCostUnitsPerMinute)
	}
}

func validateCost(c *Config, errs *ValidationError) {
	if c.Cost.Scheme != "" && !slices.Contains(estimate.Schemes(), c.Cost.Scheme) {
		errs.Addf("cost.scheme is invalid (got %q, valid: %s)",
			c.Cost.Scheme, strings.Join(estimate.Schemes(), ", "))
	}
	if c.Cost.CharsPerToken < 0 {
		errs.Add("cost.chars_per_token must be >= 0")
	}
	if c.Cost.DefaultCompletionAllowance < 0 {
		errs.Add("cost.default_completion_allowance must be >= 0")
	}
}

func validateRetry(c *Config, errs *ValidationError) {
	if c.Retry.MaxAttempts < 0 {
		errs.Addf("retry.max_attempts must be >= 1 (got %d)", c.Retry.MaxAttempts)
	}
	if !validPlacements[c.Retry.Placement] {
		errs.Addf("retry.placement is invalid (got %q, valid: front, back)", c.Retry.Placement)
	}
	if c.Retry.RateLimitCooldownMS < 0 {
		errs.Add("retry.rate_limit_cooldown_ms must be >= 0")
	}
}

func validateDispatch(c *Config, errs *ValidationError) {
	if c.Dispatch.MaxInFlight < 0 {
		errs.Addf("dispatch.max_in_flight must be >= 1 (got %d)", c.Dispatch.MaxInFlight)
	}
	if c.Dispatch.PollIntervalMS < 0 {
		errs.Add("dispatch.poll_interval_ms must be >= 0")
	}
}

func validateOutput(c *Config, errs *ValidationError) {
	switch c.Output.Format {
	case "", sink.FormatJSONL, sink.FormatSQLite:
	default:
		errs.Addf("output.format is invalid (got %q, valid: %s, %s)",
			c.Output.Format, sink.FormatJSONL, sink.FormatSQLite)
	}
}

// validateLogging validates the logging configuration section.
func validateLogging(c *Config, errs *ValidationError) {
	if !validLogLevels[c.Logging.Level] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)",
			c.Logging.Level)
	}

	if !validLogFormats[c.Logging.Format] {
		errs.Addf("logging.format is invalid (got %q, valid: json, console, text, pretty)",
			c.Logging.Format)
	}
}

func validateHealth(c *Config, errs *ValidationError) {
	cb := c.Health.CircuitBreaker
	if cb.FailureThreshold < 0 {
		errs.Add("health.circuit_breaker.failure_threshold must be >= 0")
	}
	if cb.OpenDurationMS < 0 {
		errs.Add("health.circuit_breaker.open_duration_ms must be >= 0")
	}
	if cb.HalfOpenProbes < 0 {
		errs.Add("health.circuit_breaker.half_open_probes must be >= 0")
	}
	if c.Health.Probe.TimeoutMS < 0 {
		errs.Add("health.probe.timeout_ms must be >= 0")
	}
}

func validateMetrics(c *Config, errs *ValidationError) {
	if c.Metrics.Listen == "" {
		return
	}
	if _, port, err := net.SplitHostPort(c.Metrics.Listen); err != nil || port == "" {
		errs.Addf("metrics.listen must be in host:port format (got %q)", c.Metrics.Listen)
	}
}
