package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nugget/korb/internal/workflow"
)

func newWorkflowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "workflow [name]",
		Short: "List workflows, or run one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openConfigured(g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.workflows == nil {
				return errors.New("workflows need sysctl.enabled in the config")
			}

			if len(args) == 0 {
				names := a.workflows.List()
				if g.output == "json" {
					return json.NewEncoder(g.stdout).Encode(map[string]any{"workflows": names})
				}
				for _, name := range names {
					steps, _ := a.workflows.Steps(name)
					fmt.Fprintf(g.stdout, "%-16s %d steps\n", name, len(steps))
				}
				return nil
			}

			name := workflow.Normalize(args[0])
			result, err := a.workflows.Run(cmd.Context(), name)
			if err != nil {
				return err
			}
			if g.output == "json" {
				return json.NewEncoder(g.stdout).Encode(map[string]string{"workflow": name, "result": result})
			}
			fmt.Fprintln(g.stdout, result)
			return nil
		},
	}
}
