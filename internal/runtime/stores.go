package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
	"github.com/tjfontaine/polyglot-lingua/internal/model/gemini"
	"github.com/tjfontaine/polyglot-lingua/internal/pkg/config"
	"github.com/tjfontaine/polyglot-lingua/internal/pkg/safehttp"
	"github.com/tjfontaine/polyglot-lingua/internal/storage/firestore"
	"github.com/tjfontaine/polyglot-lingua/internal/storage/memory"
	"github.com/tjfontaine/polyglot-lingua/internal/storage/sqlite"
)

// newStore opens the document store named by cfg.Type.
func newStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (ports.DocumentStore, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory":
		logger.Warn("using in-memory storage, records are lost on exit")
		return memory.New(), nil

	case "sqlite", "":
		path := cfg.SQLite.Path
		if path == "" {
			return nil, fmt.Errorf("storage.sqlite.path is required")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		store, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite storage opened", slog.String("path", path))
		return store, nil

	case "firestore":
		store, err := firestore.New(ctx, firestore.Config{
			ProjectID:       cfg.Firestore.ProjectID,
			CredentialsFile: cfg.Firestore.CredentialsFile,
			Root:            cfg.Firestore.Root,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("firestore storage connected", slog.String("project", cfg.Firestore.ProjectID))
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}

// newModel creates the generative model client named by cfg.Provider.
func newModel(ctx context.Context, cfg config.ModelConfig, logger *slog.Logger) (ports.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		gcfg := gemini.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			SpeechModel: cfg.SpeechModel,
			Voice:       cfg.Voice,
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.Timeout,
		}
		if !cfg.AllowPrivateNetworks {
			gcfg.HTTPClient = safehttp.NewClient(0)
		}
		return gemini.New(ctx, gcfg, logger)
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}
