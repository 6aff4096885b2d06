package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var flowInput string

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Inspect and run flows",
}

var flowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the registered flows",
	Args:  cobra.NoArgs,
	RunE:  runFlowList,
}

var flowRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run one flow against the configured model",
	Long: `Validates the input against the flow's contract, calls the model and
prints the validated output as JSON.

Example:
  lingua flow run translateText --input '{"text":"Hello","sourceLanguage":"english","targetLanguage":"spanish"}'
  echo '{"phrase":"break a leg","language":"english"}' | lingua flow run explainIdiom --input -`,
	Args: cobra.ExactArgs(1),
	RunE: runFlow,
}

func init() {
	flowRunCmd.Flags().StringVarP(&flowInput, "input", "i", "{}", "JSON object input, or - to read stdin")
	flowCmd.AddCommand(flowListCmd, flowRunCmd)
}

func runFlowList(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	out := cmd.OutOrStdout()
	for _, name := range app.Flows().Names() {
		fmt.Fprintln(out, name)
	}
	return nil
}

func runFlow(cmd *cobra.Command, args []string) error {
	raw := flowInput
	if raw == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		raw = string(data)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var input map[string]any
	if err := dec.Decode(&input); err != nil {
		return fmt.Errorf("input must be a JSON object: %w", err)
	}
	if input == nil {
		return fmt.Errorf("input must be a JSON object")
	}

	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	inv := app.Flows().Invoke(cmd.Context(), args[0], input)
	if inv.Err != nil {
		return fmt.Errorf("flow %s: %w", args[0], inv.Err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if inv.Gated {
		fmt.Fprintln(cmd.ErrOrStderr(), "answered locally, the model was not called")
	}
	return enc.Encode(inv.Output)
}
