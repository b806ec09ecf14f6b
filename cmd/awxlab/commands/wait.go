package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/awxlab/pkg/engine"
	"github.com/spf13/cobra"
)

func newWaitCommand() *cobra.Command {
	var (
		timeout  time.Duration
		interval time.Duration
		sync     bool
	)

	cmd := &cobra.Command{
		Use:   "wait [project]",
		Short: "Wait for the latest sync of a project",
		Long: `Wait until the most recent update of a project reaches a terminal
status, or until the timeout elapses. The project defaults to the one in
the declaration. With --sync a new update is requested first.

wait exits non-zero unless the update succeeded.`,
		Example: `  # Wait for the declared project
  awxlab wait

  # Start a sync of another project and wait up to ten minutes
  awxlab wait "Network Automation" --sync --timeout 10m`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "wait", func(ctx context.Context, a *app) error {
				decl, err := loadDeclaration()
				if err != nil {
					return err
				}
				name := decl.Project.Name
				if len(args) > 0 {
					name = args[0]
				}
				if !cmd.Flags().Changed("timeout") {
					timeout = decl.Wait.Timeout
				}
				if !cmd.Flags().Changed("interval") {
					interval = decl.Wait.PollInterval
				}

				client, err := a.newClient(ctx, decl)
				if err != nil {
					return err
				}

				projects, err := client.List(ctx, engine.KindProject)
				if err != nil {
					return err
				}
				project, ok := engine.FindByName(projects, engine.Desired{Kind: engine.KindProject, Name: name})
				if !ok {
					return fmt.Errorf("project %q not found", name)
				}

				if sync {
					started, err := client.TriggerProjectUpdate(ctx, project.ID, map[string]interface{}{})
					if err != nil {
						return err
					}
					if !started {
						return fmt.Errorf("controller refused to start an update of project %q", name)
					}
				}

				waiter := engine.NewWaiter(client, a.logger, engine.WithWaiterMetrics(a.tel.Metrics))
				outcome, err := waiter.Wait(ctx, project.ID, timeout, interval)
				if err != nil {
					return err
				}

				if jsonOutput {
					if err := a.printJSON(outcome); err != nil {
						return err
					}
				} else {
					a.printf("Project %s (id %d): %s after %d polls in %s\n",
						project.Name, project.ID, outcome, outcome.Polls, outcome.Elapsed.Round(time.Millisecond))
				}
				if outcome.Kind != engine.OutcomeSuccess {
					return fmt.Errorf("project %q sync ended with %s", name, outcome)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", engine.DefaultWaitTimeout, "give up after this long")
	cmd.Flags().DurationVar(&interval, "interval", engine.DefaultPollInterval, "time between polls")
	cmd.Flags().BoolVar(&sync, "sync", false, "request a new project update before waiting")

	return cmd
}
