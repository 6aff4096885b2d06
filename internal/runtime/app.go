// Package runtime assembles the service from configuration and manages its
// lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tjfontaine/polyglot-lingua/internal/action"
	"github.com/tjfontaine/polyglot-lingua/internal/adapters/config/file"
	"github.com/tjfontaine/polyglot-lingua/internal/auth"
	"github.com/tjfontaine/polyglot-lingua/internal/bridge"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
	"github.com/tjfontaine/polyglot-lingua/internal/flow"
	"github.com/tjfontaine/polyglot-lingua/internal/pkg/config"
	"github.com/tjfontaine/polyglot-lingua/internal/prompt"
	"github.com/tjfontaine/polyglot-lingua/internal/records"
	"github.com/tjfontaine/polyglot-lingua/internal/server"
	"github.com/tjfontaine/polyglot-lingua/internal/telemetry"
)

// App owns every long-lived component. It can be embedded in a larger
// program or run standalone by cmd/lingua.
type App struct {
	// Dependencies (injected via options)
	configPath string
	config     ports.ConfigProvider
	store      ports.DocumentStore
	model      ports.Model
	logger     *slog.Logger
	metrics    *telemetry.Metrics

	// Assembled from config
	cfg           *config.Config
	auth          *auth.Authenticator
	flows         *flow.Executor
	actions       *action.Service
	records       *records.Service
	bridge        *bridge.Bridge
	notifications *server.Notifications
	server        *server.Server

	mu       sync.Mutex
	watching context.CancelFunc
	closed   bool
}

// New loads configuration and builds the service. Store and model are
// created from configuration unless supplied with WithStore / WithModel.
func New(ctx context.Context, opts ...Option) (*App, error) {
	app := &App{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if app.config == nil && app.configPath != "" {
		provider, err := file.NewProvider(app.configPath, file.WithLogger(app.logger))
		if err != nil {
			return nil, fmt.Errorf("create file config provider: %w", err)
		}
		app.config = provider
	}
	if app.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}
	if app.metrics == nil {
		app.metrics = telemetry.NewMetrics()
	}

	cfg, err := app.config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.cfg = cfg

	if err := app.build(ctx, cfg); err != nil {
		if app.store != nil {
			app.store.Close()
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	if a.store == nil {
		store, err := newStore(ctx, cfg.Storage, a.logger)
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		a.store = store
	}
	if a.model == nil {
		model, err := newModel(ctx, cfg.Model, a.logger)
		if err != nil {
			return fmt.Errorf("init model: %w", err)
		}
		a.model = model
	}

	library, err := prompt.LoadLibrary()
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	budget, err := prompt.NewBudget(cfg.History.MaxPromptTokens)
	if err != nil {
		return fmt.Errorf("init prompt budget: %w", err)
	}

	a.flows, err = flow.NewExecutor(a.model, library,
		flow.WithLogger(a.logger),
		flow.WithMetrics(a.metrics),
		flow.WithBudget(budget),
	)
	if err != nil {
		return fmt.Errorf("init flows: %w", err)
	}

	a.notifications = server.NewNotifications(a.logger)
	a.records = records.New(a.store)
	a.bridge = bridge.New(a.records, a.notifications, bridge.Config{
		QueueSize:    cfg.Bridge.QueueSize,
		Workers:      cfg.Bridge.Workers,
		WriteTimeout: cfg.Bridge.WriteTimeout,
		SessionTTL:   cfg.Bridge.SessionTTL,
		MaxSessions:  cfg.Bridge.MaxSessions,
	}, bridge.WithLogger(a.logger), bridge.WithMetrics(a.metrics))

	a.actions = action.New(a.flows,
		action.WithLogger(a.logger),
		action.WithMetrics(a.metrics),
		action.WithHistorySink(a.bridge),
		action.WithPolicy(policyFrom(cfg)),
	)
	a.auth = auth.NewAuthenticator(cfg.Users)
	if a.auth.Len() == 0 {
		a.logger.Warn("no users configured, every /v1 request will be rejected")
	}

	a.server = server.New(cfg.Server.Port, a.logger, server.Deps{
		Auth:           a.auth,
		Flows:          a.flows,
		Actions:        a.actions,
		Records:        a.records,
		Bridge:         a.bridge,
		Notifications:  a.notifications,
		Metrics:        a.metrics,
		RateLimit:      cfg.Server.RateLimit,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	a.logger.Info("service assembled",
		slog.String("storage", cfg.Storage.Type),
		slog.String("model", cfg.Model.Model),
		slog.Int("flows", len(a.flows.Names())),
		slog.Int("users", a.auth.Len()))
	return nil
}

func policyFrom(cfg *config.Config) action.Policy {
	return action.Policy{PremiumRequiresSubscription: cfg.Access.PremiumRequiresSubscription}
}

// Handler returns the HTTP handler, for embedding or tests.
func (a *App) Handler() http.Handler {
	return a.server.Router
}

// Flows returns the flow executor.
func (a *App) Flows() *flow.Executor {
	return a.flows
}

// Actions returns the action service.
func (a *App) Actions() *action.Service {
	return a.actions
}

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Serve listens on the configured port until Shutdown.
func (a *App) Serve() error {
	return a.server.Start()
}

// Watch reloads users and access switches whenever the configuration
// changes. It returns once the watch is installed; the watch ends with ctx
// or Shutdown.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		cancel()
		return errors.New("app is shut down")
	}
	a.watching = cancel
	a.mu.Unlock()

	onChange := func(cfg *config.Config) {
		a.logger.Info("config changed, reloading")
		a.Reload(cfg)
	}
	if err := a.config.Watch(ctx, onChange); err != nil {
		cancel()
		return fmt.Errorf("watch config: %w", err)
	}
	return nil
}

// Reload applies the hot-reloadable parts of cfg: user keys, admin flags
// and premium gating. Everything else requires a restart.
func (a *App) Reload(cfg *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	a.auth.Reload(cfg.Users)
	a.actions.SetPolicy(policyFrom(cfg))

	if prev != nil && prev.Server.Port != cfg.Server.Port {
		a.logger.Warn("server.port changed, restart to apply",
			slog.Int("current", prev.Server.Port),
			slog.Int("configured", cfg.Server.Port))
	}
	a.logger.Info("reload complete",
		slog.Int("users", a.auth.Len()),
		slog.Bool("premium_requires_subscription", cfg.Access.PremiumRequiresSubscription))
}

// Shutdown stops the HTTP server, drains the persistence queue and closes
// the store. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.watching != nil {
		a.watching()
	}
	a.mu.Unlock()

	a.logger.Info("shutting down")

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop server: %w", err))
	}
	// drain after the server so requests in flight can still enqueue
	if err := a.bridge.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain persistence queue: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if err := a.config.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close config: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.Error("shutdown incomplete", slog.String("error", err.Error()))
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
