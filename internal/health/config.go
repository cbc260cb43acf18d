package health

import "time"

// Default configuration values.
const (
	DefaultFailureThreshold = 5     // consecutive failures to open circuit
	DefaultOpenDurationMS   = 30000 // 30 seconds before half-open
	DefaultHalfOpenProbes   = 3     // probes allowed in half-open state
	DefaultProbeTimeoutMS   = 5000  // 5 seconds for the start-up probe
)

// CircuitBreakerConfig defines circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Enabled turns the breaker on. Default: false
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// FailureThreshold is the number of consecutive failures before opening the circuit.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold" toml:"failure_threshold"`

	// OpenDurationMS is the duration in milliseconds the circuit stays open before
	// transitioning to half-open state. Default: 30000 (30 seconds)
	OpenDurationMS int `yaml:"open_duration_ms" toml:"open_duration_ms"`

	// HalfOpenProbes is the number of probe attempts allowed in half-open state.
	// If all probes succeed, circuit closes. If any fails, circuit reopens.
	// Default: 3
	HalfOpenProbes int `yaml:"half_open_probes" toml:"half_open_probes"`
}

// GetFailureThreshold returns the configured failure threshold or default 5.
func (c *CircuitBreakerConfig) GetFailureThreshold() int {
	if c.FailureThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return c.FailureThreshold
}

// GetOpenDuration returns the open duration as time.Duration.
// Returns default 30s if not set or negative.
func (c *CircuitBreakerConfig) GetOpenDuration() time.Duration {
	if c.OpenDurationMS <= 0 {
		return time.Duration(DefaultOpenDurationMS) * time.Millisecond
	}
	return time.Duration(c.OpenDurationMS) * time.Millisecond
}

// GetHalfOpenProbes returns the configured half-open probes or default 3.
func (c *CircuitBreakerConfig) GetHalfOpenProbes() int {
	if c.HalfOpenProbes <= 0 {
		return DefaultHalfOpenProbes
	}
	return c.HalfOpenProbes
}

// ProbeConfig defines the start-up reachability probe.
type ProbeConfig struct {
	// Enabled runs a TCP dial against the endpoint before dispatch.
	// Default: true
	Enabled *bool `yaml:"enabled" toml:"enabled"`

	// TimeoutMS bounds the dial. Default: 5000
	TimeoutMS int `yaml:"timeout_ms" toml:"timeout_ms"`
}

// IsEnabled reports whether the endpoint is dialed before dispatch.
func (c *ProbeConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GetTimeout returns the probe timeout as time.Duration.
func (c *ProbeConfig) GetTimeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return time.Duration(DefaultProbeTimeoutMS) * time.Millisecond
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Config combines circuit breaker and probe configuration.
type Config struct {
	Probe          ProbeConfig          `yaml:"probe" toml:"probe"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" toml:"circuit_breaker"`
}
