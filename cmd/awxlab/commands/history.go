package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/awxlab/pkg/engine"
	"github.com/openfroyo/awxlab/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		runID     string
		events    bool
		resources bool
		operation string
		limit     int
		prune     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded setup and teardown runs",
		Long: `Show the runs recorded in the local history store, newest first.

With --run the decisions of one run are listed, and with --events its
timeline as well. --resources shows the last known controller id of every
declared resource.`,
		Example: `  # List the last 20 runs
  awxlab history

  # Show what one run decided, with its event timeline
  awxlab history --run 3f1c... --events

  # Show the resources the last runs left behind
  awxlab history --resources

  # Forget runs older than 30 days
  awxlab history --prune 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "history", func(ctx context.Context, a *app) error {
				decl, err := loadDeclaration()
				if err != nil {
					return err
				}
				store, err := a.openStore(ctx, decl)
				if err != nil {
					return err
				}
				defer store.Close()

				switch {
				case prune > 0:
					n, err := store.DeleteRunsBefore(ctx, time.Now().Add(-prune))
					if err != nil {
						return err
					}
					a.printf("Deleted %d runs\n", n)
					return nil
				case resources:
					return a.showResources(ctx, store)
				case runID != "":
					return a.showRun(ctx, store, runID, events)
				default:
					return a.listRuns(ctx, store, stores.RunFilter{Operation: operation, Limit: limit})
				}
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "show the decisions of this run id, or 'latest'")
	cmd.Flags().BoolVar(&events, "events", false, "with --run, also show the event timeline")
	cmd.Flags().BoolVar(&resources, "resources", false, "show the last known state of every resource")
	cmd.Flags().StringVar(&operation, "operation", "", "only list runs of this operation (setup, teardown)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete runs older than this")

	return cmd
}

func (a *app) listRuns(ctx context.Context, store *stores.SQLiteStore, filter stores.RunFilter) error {
	runs, err := store.ListRuns(ctx, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		return a.printJSON(runs)
	}
	if len(runs) == 0 {
		a.printf("No runs recorded\n")
		return nil
	}

	for _, r := range runs {
		a.printf("%s  %-8s %-9s %s  decisions=%d failures=%d\n",
			r.ID, r.Operation, r.Status, r.StartedAt.Local().Format(time.DateTime), r.Decisions, r.Failures)
	}
	return nil
}

type runReport struct {
	Run       *stores.RunSummary `json:"run"`
	Decisions []*stores.Decision `json:"decisions"`
	Events    []*engine.Event    `json:"events,omitempty"`
}

func (a *app) showRun(ctx context.Context, store *stores.SQLiteStore, id string, withEvents bool) error {
	var (
		run *stores.RunSummary
		err error
	)
	if id == "latest" {
		run, err = store.LatestRun(ctx)
	} else {
		run, err = store.GetRun(ctx, id)
	}
	if errors.Is(err, stores.ErrNotFound) {
		return fmt.Errorf("run %q not found", id)
	}
	if err != nil {
		return err
	}

	report := runReport{Run: run}
	if report.Decisions, err = store.ListDecisions(ctx, run.ID); err != nil {
		return err
	}
	if withEvents {
		if report.Events, err = store.ListEvents(ctx, run.ID); err != nil {
			return err
		}
	}
	if jsonOutput {
		return a.printJSON(report)
	}

	a.printf("Run %s (%s of %s): %s\n", run.ID, run.Operation, run.Declaration, run.Status)
	for _, d := range report.Decisions {
		line := fmt.Sprintf("  %-13s %-24s %-9s", d.Kind, d.Name, d.Decision)
		if d.ResourceID != 0 {
			line += fmt.Sprintf(" id %d", d.ResourceID)
		}
		if d.Detail != "" {
			line += " " + d.Detail
		}
		a.printf("%s\n", line)
	}
	if withEvents {
		a.printf("Events:\n")
		for _, e := range report.Events {
			a.printf("  %s %-7s %-20s %s\n", e.Timestamp.Local().Format("15:04:05.000"), e.Level, e.Type, e.Message)
		}
	}
	return nil
}

func (a *app) showResources(ctx context.Context, store *stores.SQLiteStore) error {
	states, err := store.ListResources(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return a.printJSON(states)
	}
	if len(states) == 0 {
		a.printf("No resources recorded\n")
		return nil
	}

	for _, s := range states {
		a.printf("  %-13s %-24s id %-6d %-8s %s\n", s.Kind, s.Name, s.ResourceID, s.LastDecision, s.LastRunID)
	}
	return nil
}
