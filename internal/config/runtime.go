package config

import "sync/atomic"

// Runtime holds the live configuration of a run. The watcher stores reloaded
// configs; readers call Get whenever they need a value that may be reloaded.
//
//	runtime := config.NewRuntime(initial)
//	rpm := runtime.Get().Limits.MaxRequestsPerMinute
type Runtime struct {
	ptr atomic.Pointer[Config]
}

// NewRuntime creates a Runtime holding initial.
func NewRuntime(initial *Config) *Runtime {
	r := &Runtime{}
	r.ptr.Store(initial)
	return r
}

// Get returns the current configuration.
func (r *Runtime) Get() *Config {
	return r.ptr.Load()
}

// Store replaces the configuration. Holders of the previous *Config keep
// seeing the old values.
func (r *Runtime) Store(cfg *Config) {
	r.ptr.Store(cfg)
}

var _ RuntimeConfig = (*Runtime)(nil)
