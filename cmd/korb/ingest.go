package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nugget/korb/internal/knowledge"
)

func newIngestCmd(g *globals) *cobra.Command {
	var list, clear bool

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Add documents to the knowledge base",
		Long: `Split text documents into chunks and store them for retrieval during
chat. Re-ingesting a file replaces its earlier chunks.

  korb ingest notes.md manual.txt
  korb ingest --list
  korb ingest --clear`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !list && !clear && len(args) == 0 {
				return fmt.Errorf("usage: korb ingest <file>...")
			}
			a, err := openConfigured(g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			switch {
			case clear:
				if err := a.knowledge.Clear(); err != nil {
					return fmt.Errorf("clear knowledge base: %w", err)
				}
				fmt.Fprintln(g.stdout, "Knowledge base cleared")
				return nil
			case list:
				return printSources(g, a.knowledge)
			}
			return runIngest(cmd.Context(), g, a.knowledge, args)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list ingested documents")
	cmd.Flags().BoolVar(&clear, "clear", false, "remove every document")
	return cmd
}

// documentStore is the part of the knowledge base ingest writes to.
type documentStore interface {
	Ingest(ctx context.Context, filename string, content []byte) (string, error)
}

// runIngest stores each file under its base name. Unsupported files are
// skipped; any other failure stops the run.
func runIngest(ctx context.Context, g *globals, store documentStore, paths []string) error {
	for _, path := range paths {
		name := filepath.Base(path)
		if !knowledge.Supported(name) {
			fmt.Fprintf(g.stderr, "  - %s: unsupported file type, skipped\n", path)
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		msg, err := store.Ingest(ctx, name, content)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Fprintf(g.stdout, "  ✓ %s: %s\n", path, msg)
	}
	return nil
}

func printSources(g *globals, store *knowledge.Store) error {
	sources, err := store.Sources()
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if g.output == "json" {
		enc := json.NewEncoder(g.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sources)
	}
	if len(sources) == 0 {
		fmt.Fprintln(g.stdout, "No documents ingested")
		return nil
	}
	tw := tabwriter.NewWriter(g.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tCHUNKS\tINGESTED")
	for _, s := range sources {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Filename, s.Chunks, s.IngestedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
