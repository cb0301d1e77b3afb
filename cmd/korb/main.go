// Korb is a self-hosted personal assistant backend.
//
// It streams chat over HTTP (SSE and WebSocket), runs a tool-using
// orchestration loop against Ollama, Anthropic or OpenAI models, keeps
// sessions, memories and uploaded documents in SQLite, and can publish
// its status to Home Assistant over MQTT. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	korb serve                Start the API server
//	korb init [dir]           Initialize a working directory with defaults
//	korb ask <question>       Ask a single question
//	korb chat                 Interactive chat in the terminal
//	korb ingest <file>...     Add documents to the knowledge base
//	korb workflow [name]      List workflows, or run one
//	korb version              Print version and build information
//	korb -o json version      Output version information as JSON
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nugget/korb/internal/config"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main only gathers the OS environment and hands it to [run], so the
// whole command lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the korb command. Output goes to
// stdout and stderr; args excludes the program name. It returns nil on
// clean shutdown.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// globals are the persistent flags every subcommand sees.
type globals struct {
	configPath string
	output     string // "text" or "json"
	stdout     io.Writer
	stderr     io.Writer
}

const logo = `
 _              _
| | _____  _ __| |__
| |/ / _ \| '__| '_ \
|   < (_) | |  | |_) |
|_|\_\___/|_|  |_.__/
`

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "korb",
		Short: "Korb - self-hosted assistant backend",
		Long: color.CyanString(logo) + `
Korb answers chat messages with a tool-using model loop, remembers what
you ask it to, reads the documents you upload and can drive the desktop
it runs on.

Config search order:
  ./config.yaml, ~/.config/korb/config.yaml, /etc/korb/config.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if g.output != "text" && g.output != "json" {
				return fmt.Errorf("unknown output format: %q (expected text or json)", g.output)
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to config file (default: auto-discover)")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServeCmd(g),
		newInitCmd(g),
		newAskCmd(g),
		newChatCmd(g),
		newIngestCmd(g),
		newWorkflowCmd(g),
		newVersionCmd(g),
	)
	return root
}

// newLogger creates the structured logger for a subcommand from the
// logging section of cfg.
func newLogger(w io.Writer, lc config.LoggingConfig) *slog.Logger {
	logger, err := config.NewLogger(w, lc)
	if err != nil {
		logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{ReplaceAttr: config.ReplaceLogLevelNames}))
		logger.Warn("invalid logging config, using defaults", "error", err)
	}
	return logger
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// openConfigured loads the config and builds the app for a one-shot
// subcommand. Logs go to stderr so stdout carries only the answer.
func openConfigured(g *globals, opts appOptions) (*app, error) {
	cfg, cfgPath, err := loadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(g.stderr, cfg.Logging)
	logger.Debug("config loaded", "path", cfgPath)
	return newApp(cfg, logger, opts)
}
