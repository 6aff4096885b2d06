package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/polyglot-lingua/internal/telemetry"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Starts the HTTP service and watches the config file. Changes to users,
admin flags and premium gating apply without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed to drain requests and queued writes")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	tcfg := app.Config().Telemetry
	shutdownTracer, err := telemetry.InitTracer(serviceName, tcfg.Tracing, tcfg.TraceOutput, logger)
	if err != nil {
		_ = app.Shutdown(context.Background())
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	if err := app.Watch(ctx); err != nil {
		// serving with the startup config is still useful
		logger.Warn("config hot-reload disabled", slog.String("error", err.Error()))
	}

	g.Go(app.Serve)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received, stopping")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
