package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nugget/korb/internal/agent"
)

func newAskCmd(g *globals) *cobra.Command {
	var sessionID string
	var ephemeral bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question",
		Long: `Ask a single question and print the streamed answer.

Without --session the question runs without history and nothing is
stored. With --session the exchange is appended to that transcript.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openConfigured(g, appOptions{Ephemeral: ephemeral})
			if err != nil {
				return err
			}
			defer a.Close()
			return runAsk(cmd.Context(), a, g, sessionID, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to continue")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep the transcript in memory only")
	return cmd
}

// runAsk answers question once. Text mode streams the reply; json mode
// prints only the final outcome.
func runAsk(ctx context.Context, a *app, g *globals, sessionID, question string) error {
	jsonOut := g.output == "json"

	emit := func(ev agent.Event) error {
		if jsonOut {
			return nil
		}
		return printEvent(g.stdout, ev)
	}

	outcome, err := a.generate(ctx, sessionID, question, emit)
	if err != nil && !errors.Is(err, agent.ErrTurnLimit) {
		return fmt.Errorf("ask: %w", err)
	}

	if jsonOut {
		enc := json.NewEncoder(g.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}
	fmt.Fprintln(g.stdout)
	return nil
}

// printEvent renders one stream event for a terminal. Commands the
// server would hand to a client are shown on their own line.
func printEvent(w io.Writer, ev agent.Event) error {
	if ev.Command != nil {
		args, err := json.Marshal(ev.Command.Args)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "\n%s %s %s\n", color.YellowString("command:"), ev.Command.Name, args)
		return err
	}
	_, err := io.WriteString(w, ev.Text)
	return err
}
