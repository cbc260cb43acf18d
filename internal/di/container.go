// Package di wires talazo's services with samber/do v2.
package di

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/rcatullo/talazo-kg/internal/config"
)

// Named values provided by NewContainer.
const (
	// ConfigPathKey is the named key for the config path string.
	ConfigPathKey = "config.path"

	// OverridesKey is the named key for the Overrides applied after every load.
	OverridesKey = "config.overrides"
)

// Overrides adjusts a freshly loaded config, typically from CLI flags. It is
// applied again on every hot reload so flags keep winning over the file.
type Overrides func(*config.Config)

// Container wraps the do.Injector with talazo's services registered.
type Container struct {
	injector *do.RootScope
}

// NewContainer creates the container for the config file at configPath.
// Services are created lazily on first Invoke.
func NewContainer(configPath string, overrides Overrides) (*Container, error) {
	if overrides == nil {
		overrides = func(*config.Config) {}
	}

	injector := do.New()
	do.ProvideNamedValue(injector, ConfigPathKey, configPath)
	do.ProvideNamedValue(injector, OverridesKey, overrides)

	RegisterSingletons(injector)

	return &Container{injector: injector}, nil
}

// Injector returns the underlying do.Injector for service resolution.
func (c *Container) Injector() *do.RootScope {
	return c.injector
}

// Invoke resolves a service from the container.
func Invoke[T any](c *Container) (T, error) {
	return do.Invoke[T](c.injector)
}

// MustInvoke resolves a service from the container or panics.
// Use this only during application startup where errors are fatal.
func MustInvoke[T any](c *Container) T {
	return do.MustInvoke[T](c.injector)
}

// Shutdown shuts services down in reverse order of initialization.
func (c *Container) Shutdown() error {
	report := c.injector.Shutdown()
	if report != nil && !report.Succeed {
		return fmt.Errorf("shutdown failed: %s", report.Error())
	}
	return nil
}

// ShutdownWithContext shuts down with context for timeout control.
func (c *Container) ShutdownWithContext(ctx context.Context) error {
	done := make(chan *do.ShutdownReport, 1)
	go func() {
		done <- c.injector.ShutdownWithContext(ctx)
	}()

	select {
	case report := <-done:
		if report != nil && !report.Succeed {
			return fmt.Errorf("shutdown failed: %s", report.Error())
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
