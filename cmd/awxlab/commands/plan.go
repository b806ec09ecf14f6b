package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/openfroyo/awxlab/pkg/engine"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var dotFile string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the setup and teardown order",
		Long: `Show the steps setup and teardown would take, in execution order,
without contacting the controller.

Steps on the same level do not depend on each other. Teardown runs the
setup order in reverse.`,
		Example: `  # Print the plan
  awxlab plan

  # Write the dependency graph for Graphviz
  awxlab plan --dot plan.dot && dot -Tpng plan.dot -o plan.png

  # Print the graph to stdout
  awxlab plan --dot -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "plan", func(ctx context.Context, a *app) error {
				decl, err := loadDeclaration()
				if err != nil {
					return err
				}
				bp, err := decl.Blueprint(ctx)
				if err != nil {
					return err
				}
				plan, err := engine.NewPlanner().Build(bp)
				if err != nil {
					return err
				}

				switch {
				case dotFile == "-":
					a.printf("%s", plan.ToDOT())
					return nil
				case dotFile != "":
					if err := os.WriteFile(dotFile, []byte(plan.ToDOT()), 0o644); err != nil {
						return fmt.Errorf("failed to write graph: %w", err)
					}
					a.logger.Info().Str("path", dotFile).Msg("Graph written")
				}

				if jsonOutput {
					return a.printJSON(plan)
				}
				a.printf("Setup (%d steps):\n", len(plan.Setup))
				printSteps(a, plan.Setup)
				a.printf("\nTeardown (%d steps):\n", len(plan.Teardown))
				printSteps(a, plan.Teardown)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", "write the setup graph in DOT format to this file (- for stdout)")

	return cmd
}

func printSteps(a *app, steps []engine.PlanStep) {
	for i, step := range steps {
		a.printf("  %2d. [level %d] %-9s %s\n", i+1, step.Level, step.Action, step.ID)
	}
}
