package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-lingua/internal/action"
	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/speech"
)

var (
	callLanguage string
	callPivot    string
	callVoice    string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Hold a live call from the terminal",
	Long: `Reads recognized speech from stdin, one segment per line. A blank line
ends the utterance, which is then translated into the pivot language,
answered, and translated back. The conversation continues until EOF.

Example:
  lingua call --language hindi`,
	Args: cobra.NoArgs,
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVarP(&callLanguage, "language", "l", "english", "language the caller speaks")
	callCmd.Flags().StringVar(&callPivot, "pivot", action.DefaultPivotLanguage, "language of the conversation model")
	callCmd.Flags().StringVar(&callVoice, "voice", "", "voice for synthesized replies")
}

func runCall(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	// the terminal operator has local config access, so premium is on
	caller := action.Caller{UserID: "cli", SessionID: "cli", Caps: action.Capabilities{Admin: true}}
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	var (
		listener speech.Listener
		history  domain.History
	)
	if err := listener.Start(callLanguage); err != nil {
		return err
	}
	fmt.Fprintf(errOut, "listening (%s), blank line to send, EOF to hang up\n", listener.Locale())

	send := func() {
		utterance := listener.Stop()
		defer listener.Start(callLanguage)
		if utterance == "" {
			return
		}

		res := app.Actions().LiveCall(cmd.Context(), caller, action.LiveCallRequest{
			Utterance:      utterance,
			CallerLanguage: callLanguage,
			PivotLanguage:  callPivot,
			Voice:          callVoice,
			History:        history,
		})
		history = res.History

		if res.FailedStage != "" {
			fmt.Fprintf(errOut, "call stopped at %s: %s\n", res.FailedStage, res.Error)
		}
		if res.TranslatedReply != "" {
			fmt.Fprintf(out, "< %s\n", res.TranslatedReply)
		}
		if res.CulturalInsights != "" {
			fmt.Fprintf(out, "  (%s)\n", res.CulturalInsights)
		}
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			send()
			continue
		}
		listener.Accept(line, true)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("read input: %w", err)
	}
	send()
	listener.Stop()
	return nil
}
