package di

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/rcatullo/talazo-kg/internal/config"
)

// ConfigService holds the loaded configuration and, once started, the file
// watcher that hot-reloads it.
type ConfigService struct {
	Runtime   *config.Runtime
	Config    *config.Config
	watcher   *config.Watcher
	overrides Overrides
	path      string
	callbacks []config.ReloadCallback
	mu        sync.Mutex
}

// Get returns the current configuration.
func (c *ConfigService) Get() *config.Config {
	return c.Runtime.Get()
}

// Path returns the config file path.
func (c *ConfigService) Path() string {
	return c.path
}

// OnReload registers a callback run after each successful reload, once the
// new config is visible through Get.
func (c *ConfigService) OnReload(cb config.ReloadCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// StartWatching starts hot reload. The watcher stops when ctx is canceled or
// the container shuts down. A watcher that cannot be created only disables
// hot reload.
func (c *ConfigService) StartWatching(ctx context.Context, logger *zerolog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		return
	}

	watcher, err := config.NewWatcher(c.path, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn().Err(err).Str("path", c.path).Msg("config watcher creation failed, hot-reload disabled")
		return
	}
	c.watcher = watcher

	watcher.OnReload(func(newCfg *config.Config) error {
		c.overrides(newCfg)
		c.Runtime.Store(newCfg)

		c.mu.Lock()
		callbacks := append([]config.ReloadCallback(nil), c.callbacks...)
		c.mu.Unlock()

		for _, cb := range callbacks {
			if err := cb(newCfg); err != nil {
				return err
			}
		}
		return nil
	})

	go func() {
		if err := watcher.Watch(ctx); err != nil {
			logger.Error().Err(err).Msg("config watcher error")
		}
	}()

	logger.Info().Str("path", c.path).Msg("config file watcher started")
}

// Shutdown implements do.Shutdowner for graceful watcher cleanup.
func (c *ConfigService) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// NewConfig loads the configuration from the config path and applies the
// overrides.
func NewConfig(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)
	overrides := do.MustInvokeNamed[Overrides](i, OverridesKey)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	overrides(cfg)

	return &ConfigService{
		Runtime:   config.NewRuntime(cfg),
		Config:    cfg,
		overrides: overrides,
		path:      path,
	}, nil
}
