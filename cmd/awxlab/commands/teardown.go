package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openfroyo/awxlab/pkg/engine"
	"github.com/spf13/cobra"
)

func newTeardownCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Delete the declared lab from the controller",
		Long: `Delete the job template, the project, every host and group of the
inventory and finally the inventory itself.

Each step runs even when an earlier one failed. The inventory is kept when
any of its hosts or groups could not be deleted. Teardown exits non-zero
when any step failed.`,
		Example: `  # Tear down after confirming interactively
  awxlab teardown

  # Tear down without a prompt
  awxlab teardown --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "teardown", func(ctx context.Context, a *app) error {
				decl, err := loadDeclaration()
				if err != nil {
					return err
				}

				result, err := a.checkPolicies(ctx, decl, "teardown")
				if err != nil {
					return err
				}
				if err := result.Err(); err != nil {
					return err
				}

				if !yes {
					ok, err := confirm(cmd.InOrStdin(), a.out, fmt.Sprintf("Delete inventory %q, project %q and job template %q from %s?",
						decl.Inventory.Name, decl.Project.Name, decl.JobTemplate.Name, decl.Controller.URL))
					if err != nil {
						return err
					}
					if !ok {
						a.printf("Teardown cancelled\n")
						return nil
					}
				}

				bp, err := decl.Blueprint(ctx)
				if err != nil {
					return err
				}
				client, err := a.newClient(ctx, decl)
				if err != nil {
					return err
				}
				store, err := a.openStore(ctx, decl)
				if err != nil {
					return err
				}
				defer store.Close()

				summary, err := a.newOrchestrator(ctx, client, store).Teardown(ctx, bp)
				if summary != nil {
					tagRun(ctx, summary.RunID)
				}
				if err != nil {
					return err
				}
				if err := a.printTeardown(summary); err != nil {
					return err
				}
				if !summary.Succeeded() {
					return fmt.Errorf("teardown finished with status %s", summary.Status())
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func (a *app) printTeardown(s *engine.TeardownSummary) error {
	if jsonOutput {
		return a.printJSON(s)
	}

	a.printf("Run %s: %s in %s\n", s.RunID, s.Status(), s.Duration.Round(time.Millisecond))
	for _, action := range s.Actions {
		line := fmt.Sprintf("  %-13s %-24s %s", action.Kind, action.Name, action.Decision)
		if action.Err != nil {
			line += fmt.Sprintf(" (%v)", action.Err)
		}
		a.printf("%s\n", line)
	}
	return nil
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
