// Package file serves configuration from a YAML file and reloads it when
// the file changes.
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tjfontaine/polyglot-lingua/internal/pkg/config"
)

// DefaultDebounce is how long the provider waits after the last change
// event before reloading. Editors often emit several events per save.
const DefaultDebounce = 100 * time.Millisecond

// Provider implements ports.ConfigProvider for a config file.
type Provider struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current *config.Config
	watcher *fsnotify.Watcher
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the logger used for reload messages.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) ProviderOption {
	return func(p *Provider) { p.debounce = d }
}

// NewProvider returns a provider for path. The file is not read until Load.
func NewProvider(path string, opts ...ProviderOption) (*Provider, error) {
	if path == "" {
		return nil, errors.New("config path cannot be empty")
	}
	p := &Provider{path: path, logger: slog.Default(), debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Load reads the file, falling back to environment and defaults when it
// does not exist.
func (p *Provider) Load(ctx context.Context) (*config.Config, error) {
	cfg, err := p.read()
	if err != nil {
		return nil, err
	}
	p.logger.Info("config loaded", slog.String("path", p.path))
	return cfg, nil
}

func (p *Provider) read() (*config.Config, error) {
	cfg, err := config.Load(p.path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", p.path, err)
	}
	p.mu.Lock()
	p.current = cfg
	p.mu.Unlock()
	return cfg, nil
}

// Current returns the last configuration read successfully, or nil.
func (p *Provider) Current() *config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Watch calls onChange after the file is written, created or renamed into
// place. The parent directory is watched rather than the file so that
// atomic replace-on-save still registers. A file that fails to parse keeps
// the previous configuration in effect.
func (p *Provider) Watch(ctx context.Context, onChange func(*config.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	p.mu.Lock()
	if p.watcher != nil {
		p.mu.Unlock()
		watcher.Close()
		return errors.New("config is already being watched")
	}
	p.watcher = watcher
	p.mu.Unlock()

	p.logger.Info("watching config file", slog.String("path", p.path))
	go p.loop(ctx, watcher, onChange)
	return nil
}

func (p *Provider) loop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(*config.Config)) {
	target := filepath.Clean(p.path)

	// pending fires once per burst of events
	pending := time.NewTimer(time.Hour)
	pending.Stop()
	defer pending.Stop()
	defer p.release(watcher)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending.Reset(p.debounce)
			}

		case <-pending.C:
			cfg, err := p.read()
			if err != nil {
				p.logger.Error("config reload failed, keeping previous",
					slog.String("path", p.path),
					slog.String("error", err.Error()))
				continue
			}
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("config watch error", slog.String("error", err.Error()))
		}
	}
}

func (p *Provider) release(watcher *fsnotify.Watcher) {
	p.mu.Lock()
	if p.watcher == watcher {
		p.watcher = nil
	}
	p.mu.Unlock()
	watcher.Close()
}

// Close stops an active watch.
func (p *Provider) Close() error {
	p.mu.Lock()
	watcher := p.watcher
	p.watcher = nil
	p.mu.Unlock()

	if watcher == nil {
		return nil
	}
	return watcher.Close()
}
