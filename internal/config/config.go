// Package config provides configuration loading and parsing for talazo.
package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/rcatullo/talazo-kg/internal/health"
)

// RuntimeConfig gives access to configuration that may change during a run.
// Components that must observe hot reloads hold a RuntimeConfig instead of a
// *Config, which would go stale.
type RuntimeConfig interface {
	Get() *Config
}

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Defaults for optional settings.
const (
	DefaultCredentialEnv   = "OPENAI_API_KEY"
	DefaultMetadataField   = "metadata"
	DefaultEndpointTimeout = 120 * time.Second
)

// Config represents the complete talazo configuration.
type Config struct {
	Endpoint EndpointConfig `yaml:"endpoint" toml:"endpoint"`
	Limits   LimitsConfig   `yaml:"limits" toml:"limits"`
	Cost     CostConfig     `yaml:"cost" toml:"cost"`
	Retry    RetryConfig    `yaml:"retry" toml:"retry"`
	Dispatch DispatchConfig `yaml:"dispatch" toml:"dispatch"`
	Input    InputConfig    `yaml:"input" toml:"input"`
	Output   OutputConfig   `yaml:"output" toml:"output"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Health   health.Config  `yaml:"health" toml:"health"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// EndpointConfig describes the JSON API every request is POSTed to.
type EndpointConfig struct {
	// Headers are added to every request.
	Headers map[string]string `yaml:"headers" toml:"headers"`

	// URL of the endpoint, e.g. https://api.openai.com/v1/chat/completions.
	URL string `yaml:"url" toml:"url"`

	// Credential is the API key (supports ${ENV_VAR}). When empty it is read
	// from CredentialEnv.
	Credential string `yaml:"credential" toml:"credential"`

	// CredentialEnv names the environment variable holding the API key.
	// Default: OPENAI_API_KEY
	CredentialEnv string `yaml:"credential_env" toml:"credential_env"`

	// AuthHeader defaults to Authorization.
	AuthHeader string `yaml:"auth_header" toml:"auth_header"`

	// AuthScheme prefixes the credential. Default: Bearer. "-" sends the bare key.
	AuthScheme string `yaml:"auth_scheme" toml:"auth_scheme"`

	// TimeoutMS bounds one HTTP call. Default: 120000 (2 minutes)
	TimeoutMS int `yaml:"timeout_ms" toml:"timeout_ms"`
}

// GetCredentialEnv returns the credential variable name with default fallback.
func (e *EndpointConfig) GetCredentialEnv() string {
	if e.CredentialEnv == "" {
		return DefaultCredentialEnv
	}
	return e.CredentialEnv
}

// GetTimeout returns the per-call timeout with default fallback.
func (e *EndpointConfig) GetTimeout() time.Duration {
	return e.GetTimeoutOption().OrElse(DefaultEndpointTimeout)
}

// GetTimeoutOption returns the timeout as an Option.
// Returns None if TimeoutMS is zero (use default).
func (e *EndpointConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if e.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(e.TimeoutMS) * time.Millisecond)
}

// LimitsConfig holds the two per-minute budgets. Both are required.
type LimitsConfig struct {
	MaxRequestsPerMinute  int `yaml:"max_requests_per_minute" toml:"max_requests_per_minute"`
	MaxCostUnitsPerMinute int `yaml:"max_cost_units_per_minute" toml:"max_cost_units_per_minute"`
}

// CostConfig selects the cost estimation scheme.
type CostConfig struct {
	// Scheme is one of cl100k_base (default), o200k_base, chars, bytes, requests.
	Scheme string `yaml:"scheme" toml:"scheme"`

	// CharsPerToken overrides the ratio for the chars scheme.
	CharsPerToken float64 `yaml:"chars_per_token" toml:"chars_per_token"`

	// DefaultCompletionAllowance is charged per completion when a request
	// sets no max_tokens. Default: 15
	DefaultCompletionAllowance int `yaml:"default_completion_allowance" toml:"default_completion_allowance"`
}

// RetryConfig bounds attempts per item.
type RetryConfig struct {
	// Placement is front (default) or back.
	Placement string `yaml:"placement" toml:"placement"`

	// MaxAttempts includes the first attempt. Default: 5
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`

	// RateLimitCooldownMS is the admission pause after a rate-limited
	// attempt. Default: 15000
	RateLimitCooldownMS int `yaml:"rate_limit_cooldown_ms" toml:"rate_limit_cooldown_ms"`
}

// GetRateLimitCooldownOption returns the cooldown as an Option.
func (r *RetryConfig) GetRateLimitCooldownOption() mo.Option[time.Duration] {
	if r.RateLimitCooldownMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(r.RateLimitCooldownMS) * time.Millisecond)
}

// DispatchConfig tunes the dispatch loop.
type DispatchConfig struct {
	// PreflightCosts scans the whole input before dispatching and refuses to
	// start when any item can never be admitted. Default: true
	PreflightCosts *bool `yaml:"preflight_costs" toml:"preflight_costs"`

	// MaxInFlight bounds concurrent attempts. Default: 32
	MaxInFlight int `yaml:"max_in_flight" toml:"max_in_flight"`

	// PollIntervalMS is the sleep between refused admissions. Default: 10
	PollIntervalMS int `yaml:"poll_interval_ms" toml:"poll_interval_ms"`

	// ProgressIntervalMS between progress logs. Negative disables. Default: 10000
	ProgressIntervalMS int `yaml:"progress_interval_ms" toml:"progress_interval_ms"`
}

// IsPreflightEnabled reports whether costs are checked before dispatch.
func (d *DispatchConfig) IsPreflightEnabled() bool {
	return d.PreflightCosts == nil || *d.PreflightCosts
}

// GetPollIntervalOption returns the poll interval as an Option.
func (d *DispatchConfig) GetPollIntervalOption() mo.Option[time.Duration] {
	if d.PollIntervalMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(d.PollIntervalMS) * time.Millisecond)
}

// GetProgressInterval returns the progress interval. Zero means default and
// a negative value disables progress logs.
func (d *DispatchConfig) GetProgressInterval() time.Duration {
	return time.Duration(d.ProgressIntervalMS) * time.Millisecond
}

// InputConfig locates the request file.
type InputConfig struct {
	Path string `yaml:"path" toml:"path"`

	// MetadataField is the top-level member holding caller metadata.
	// Default: metadata. Set to "-" to send lines unchanged.
	MetadataField string `yaml:"metadata_field" toml:"metadata_field"`
}

// GetMetadataField returns the metadata member name, empty when disabled.
func (i *InputConfig) GetMetadataField() string {
	switch i.MetadataField {
	case "":
		return DefaultMetadataField
	case "-":
		return ""
	default:
		return i.MetadataField
	}
}

// OutputConfig locates the result file.
type OutputConfig struct {
	Path string `yaml:"path" toml:"path"`

	// Format is jsonl or sqlite. Empty picks by file extension.
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the host:port to serve /metrics on. Empty disables it.
	Listen string `yaml:"listen" toml:"listen"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console
	Output string `yaml:"output" toml:"output"` // stdout, stderr, or file path
	Pretty bool   `yaml:"pretty" toml:"pretty"` // enable colored console output
}

// ParseLevel converts a string log level to zerolog.Level.
// Returns zerolog.InfoLevel if the level string is invalid.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
