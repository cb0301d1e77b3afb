package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nugget/korb/internal/agent"
	"github.com/nugget/korb/internal/memory"
)

func newChatCmd(g *globals) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat in the terminal",
		Long: `Chat with korb line by line. Each line is one message.

  /new       start a new session
  /history   show the current transcript
  /quit      leave (Ctrl-D works too)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openConfigured(g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return runChat(cmd.Context(), a, cmd.InOrStdin(), g.stdout, sessionID)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to continue (default: a new one)")
	return cmd
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// runChat reads messages from in until EOF or /quit. Prompts are only
// written when in is a terminal.
func runChat(ctx context.Context, a *app, in io.Reader, out io.Writer, sessionID string) error {
	interactive := isTerminal(in)
	prompt := color.New(color.FgGreen, color.Bold)
	dim := color.New(color.Faint)

	newSession := func() error {
		sess, err := a.sessions.CreateSession("Terminal Chat")
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = sess.ID
		if interactive {
			dim.Fprintf(out, "session %s\n", sessionID)
		}
		return nil
	}
	if sessionID == "" {
		if err := newSession(); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		if interactive {
			prompt.Fprint(out, "you> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			if err := newSession(); err != nil {
				return err
			}
			continue
		case "/history":
			if err := printHistory(out, a.sessions, sessionID); err != nil {
				return err
			}
			continue
		}

		if interactive {
			prompt.Fprint(out, "korb> ")
		}
		_, err := a.generate(ctx, sessionID, line, func(ev agent.Event) error {
			return printEvent(out, ev)
		})
		fmt.Fprintln(out)
		if err != nil && !errors.Is(err, agent.ErrTurnLimit) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			color.New(color.FgRed).Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func printHistory(w io.Writer, transcript memory.Transcript, sessionID string) error {
	msgs, err := transcript.Load(sessionID, 0)
	if err != nil && !errors.Is(err, memory.ErrSessionNotFound) {
		return fmt.Errorf("load history: %w", err)
	}
	for _, m := range msgs {
		label := color.GreenString("you")
		if m.Role == memory.RoleModel {
			label = color.CyanString("korb")
		}
		fmt.Fprintf(w, "%s: %s\n", label, m.Content)
	}
	return nil
}
