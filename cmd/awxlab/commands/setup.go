package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/awxlab/pkg/config"
	"github.com/openfroyo/awxlab/pkg/engine"
	"github.com/spf13/cobra"
)

func newSetupCommand() *cobra.Command {
	var (
		noWait bool
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Bring the controller to the declared lab state",
		Long: `Reconcile the inventory, group, hosts, project and job template on the
controller. Existing resources are reused by name and missing ones are
created; nothing is updated in place. Running setup twice is safe.

The first sync of a newly created project is awaited before the job
template is created, unless --no-wait is given. Setup exits non-zero when
any resource or host membership failed.`,
		Example: `  # Run setup against the controller in awxlab.yaml
  awxlab setup

  # Point at another controller and take the token from Kubernetes
  awxlab setup --url https://awx.lab --token-source k8s:awx/awx-admin-password

  # Re-run setup whenever the declaration changes
  awxlab setup --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "setup", func(ctx context.Context, a *app) error {
				decl, err := loadDeclaration()
				if err != nil {
					return err
				}

				err = a.setup(ctx, decl, noWait)
				if !watch {
					return err
				}
				if err != nil {
					a.logger.Error().Err(err).Msg("Setup failed, waiting for changes")
				}
				if err := a.watchPolicies(ctx, decl); err != nil {
					return err
				}

				return config.Watch(ctx, configPath, config.DefaultDebounce, a.logger, func(changed *config.Declaration, loadErr error) {
					if loadErr != nil {
						return
					}
					changed, loadErr = applyOverrides(changed)
					if loadErr != nil {
						a.logger.Warn().Err(loadErr).Msg("Declaration rejected")
						return
					}
					if err := a.setup(ctx, changed, noWait); err != nil {
						a.logger.Error().Err(err).Msg("Setup failed, waiting for changes")
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for the first project sync")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run setup when the declaration file changes")

	return cmd
}

// watchPolicies keeps the local policies of a watching setup current.
func (a *app) watchPolicies(ctx context.Context, decl *config.Declaration) error {
	if decl.State.PolicyDir == "" {
		return nil
	}
	eng, err := a.policyEngine(ctx, decl)
	if err != nil {
		return err
	}
	return eng.Watch(ctx, []string{decl.Resolve(decl.State.PolicyDir)})
}

// setup runs one policy-gated setup and prints its summary.
func (a *app) setup(ctx context.Context, decl *config.Declaration, noWait bool) error {
	result, err := a.checkPolicies(ctx, decl, "setup")
	if err != nil {
		return err
	}
	if err := result.Err(); err != nil {
		return err
	}

	bp, err := decl.Blueprint(ctx)
	if err != nil {
		return err
	}
	if noWait {
		bp.Wait.Disabled = true
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

	summary, err := a.newOrchestrator(ctx, client, store).Setup(ctx, bp)
	if summary != nil {
		tagRun(ctx, summary.RunID)
		if perr := a.printSetup(summary); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if !summary.Succeeded() {
		return fmt.Errorf("setup finished with status %s", summary.Status())
	}
	return nil
}

func (a *app) printSetup(s *engine.SetupSummary) error {
	if jsonOutput {
		return a.printJSON(s)
	}

	a.printf("Run %s: %s in %s\n", s.RunID, s.Status(), s.Duration.Round(time.Millisecond))
	printResult(a, engine.KindInventory, s.Inventory)
	printResult(a, engine.KindGroup, s.Group)
	for _, h := range s.Hosts {
		line := fmt.Sprintf("  %-13s %-24s %-9s", engine.KindHost, h.Name, h.Result.Decision)
		if h.Membership != "" {
			line += fmt.Sprintf(" membership %s", h.Membership)
		}
		if h.Err != nil {
			line += fmt.Sprintf(" (%v)", h.Err)
		}
		a.printf("%s\n", line)
	}
	printResult(a, engine.KindProject, s.Project)
	if s.Wait != nil {
		a.printf("  %-13s %s\n", "sync", s.Wait)
	}
	printResult(a, engine.KindJobTemplate, s.JobTemplate)
	if s.Err != nil {
		a.printf("Stopped: %v\n", s.Err)
	}
	return nil
}

func printResult(a *app, kind engine.Kind, r engine.Result) {
	name := "-"
	if r.Record != nil {
		name = fmt.Sprintf("%s (id %d)", r.Record.Name, r.Record.ID)
	}
	if r.Decision == "" {
		return
	}
	line := fmt.Sprintf("  %-13s %-24s %s", kind, name, r.Decision)
	switch {
	case r.Rejected != nil:
		line += fmt.Sprintf(" (%v)", r.Rejected)
	case r.Err != nil:
		line += fmt.Sprintf(" (%v)", r.Err)
	}
	a.printf("%s\n", line)
}
