package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-lingua/internal/auth"
)

var keygenUser string

var keygenCmd = &cobra.Command{
	Use:   "keygen [api-key]",
	Short: "Hash an API key for config.yaml",
	Long: `Prints the SHA-256 hash of an API key in the form config.yaml expects.
Without an argument a random key is generated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().StringVar(&keygenUser, "user", "my-user", "user id for the config snippet")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	apiKey := ""
	if len(args) == 1 {
		apiKey = args[0]
	} else {
		apiKey = "lk-" + uuid.NewString()
	}
	if apiKey == "" {
		return fmt.Errorf("api key cannot be empty")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API Key: %s\n", apiKey)
	fmt.Fprintf(out, "SHA-256 Hash: %s\n", auth.HashAPIKey(apiKey))
	fmt.Fprintln(out, "\nAdd this to your config.yaml:")
	fmt.Fprintf(out, "  users:\n")
	fmt.Fprintf(out, "    - id: %q\n", keygenUser)
	fmt.Fprintf(out, "      key_hash: %q\n", auth.HashAPIKey(apiKey))
	return nil
}
