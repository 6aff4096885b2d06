package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
	"github.com/tjfontaine/polyglot-lingua/internal/telemetry"
)

// Option is a functional option for configuring an App.
type Option func(*App) error

// WithFileConfig reads configuration from a YAML file that Watch reloads
// on change. The provider logs through the App's logger.
func WithFileConfig(path string) Option {
	return func(a *App) error {
		if path == "" {
			return fmt.Errorf("create file config provider: config path cannot be empty")
		}
		a.configPath = path
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
// For advanced use cases where you need full control over config loading.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(a *App) error {
		a.config = provider
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		a.logger = logger
		return nil
	}
}

// WithStore replaces the configured document store. The App closes it on
// Shutdown.
func WithStore(store ports.DocumentStore) Option {
	return func(a *App) error {
		a.store = store
		return nil
	}
}

// WithModel replaces the configured generative model.
func WithModel(model ports.Model) Option {
	return func(a *App) error {
		a.model = model
		return nil
	}
}

// WithMetrics shares a metrics registry with the embedding program.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *App) error {
		a.metrics = m
		return nil
	}
}
