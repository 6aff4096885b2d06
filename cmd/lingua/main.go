// Command lingua runs the language learning service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-lingua/internal/pkg/config"
	"github.com/tjfontaine/polyglot-lingua/pkg/lingua"
)

const serviceName = "polyglot-lingua"

var (
	// Global flags
	configPath string
	verbose    bool

	logger *slog.Logger
)

// newApp builds the service; tests replace it to inject fakes.
var newApp = func(ctx context.Context) (*lingua.App, error) {
	return lingua.New(ctx,
		lingua.WithFileConfig(configPath),
		lingua.WithLogger(logger),
	)
}

var rootCmd = &cobra.Command{
	Use:   "lingua",
	Short: "Language learning service backed by a generative model",
	Long: `lingua serves translation, conversation and speech flows over HTTP.

Every model call goes through a typed contract: inputs are validated before
the prompt is composed and outputs are validated before they are returned.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env file if it exists
		_ = godotenv.Load()

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, flowCmd, callCmd, keygenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
