package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/awxlab/pkg/config"
	"github.com/openfroyo/awxlab/pkg/transports/ssh"
	"github.com/spf13/cobra"
)

type probeReport struct {
	Host      string `json:"host"`
	Address   string `json:"address"`
	Port      int    `json:"port"`
	Reachable bool   `json:"reachable"`
	Hostname  string `json:"hostname,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newProbeCommand() *cobra.Command {
	var (
		dryRun      bool
		concurrency int
		timeout     time.Duration
		command     string
	)

	cmd := &cobra.Command{
		Use:   "probe [host...]",
		Short: "Check that the declared hosts accept SSH logins",
		Long: `Connect to each declared host with the declaration's SSH settings and
run a command, by default 'hostname'. Hosts are probed in parallel.

The controller is not contacted. probe exits non-zero when any host is
unreachable.`,
		Example: `  # Probe every declared host
  awxlab probe

  # Probe two hosts with a longer timeout
  awxlab probe wslkali1 wslubuntu1 --timeout 30s

  # Show what would be probed
  awxlab probe --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "probe", func(ctx context.Context, a *app) error {
				decl, err := loadDeclaration()
				if err != nil {
					return err
				}
				targets, err := probeTargets(decl, args)
				if err != nil {
					return err
				}

				prober := ssh.NewProber(a.logger,
					ssh.WithDryRun(dryRun),
					ssh.WithConcurrency(concurrency),
					ssh.WithTimeout(timeout),
					ssh.WithCommand(command),
				)
				results := prober.Probe(ctx, targets)

				if err := a.printProbe(results); err != nil {
					return err
				}
				return ssh.Summarize(results).Err()
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the targets without connecting")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "hosts probed at once")
	cmd.Flags().DurationVar(&timeout, "timeout", ssh.DefaultConnectionTimeout, "connection timeout per host")
	cmd.Flags().StringVar(&command, "command", ssh.DefaultProbeCommand, "command run on each host")

	return cmd
}

// probeTargets returns the declared hosts, limited to names when given, in
// declaration order.
func probeTargets(decl *config.Declaration, names []string) ([]ssh.Target, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	seen := make(map[string]bool, len(names))

	targets := make([]ssh.Target, 0, len(decl.Hosts))
	for _, h := range decl.Hosts {
		if len(names) > 0 && !wanted[h.Name] {
			continue
		}
		seen[h.Name] = true

		address, user := decl.HostAddress(h)
		targets = append(targets, ssh.Target{
			Name:       h.Name,
			Address:    address,
			Port:       h.Port,
			User:       user,
			KeyFile:    decl.Resolve(decl.Connection.KeyFile),
			KnownHosts: decl.Resolve(decl.Connection.KnownHosts),
		})
	}

	for _, n := range names {
		if !seen[n] {
			return nil, fmt.Errorf("host %q is not declared", n)
		}
	}
	return targets, nil
}

func (a *app) printProbe(results []ssh.Result) error {
	reports := make([]probeReport, len(results))
	for i, r := range results {
		reports[i] = probeReport{
			Host:      r.Target.Name,
			Address:   r.Target.Address,
			Port:      r.Target.Port,
			Reachable: r.Reachable,
			Hostname:  r.Hostname,
			LatencyMS: r.Latency.Milliseconds(),
			DryRun:    r.DryRun,
		}
		if r.Err != nil {
			reports[i].Error = r.Err.Error()
		}
	}
	if jsonOutput {
		return a.printJSON(reports)
	}

	for _, r := range reports {
		status := "reachable"
		switch {
		case r.DryRun:
			status = "dry run"
		case !r.Reachable:
			status = "unreachable"
		}
		line := fmt.Sprintf("  %-16s %s:%-6d %-11s", r.Host, r.Address, r.Port, status)
		if r.Hostname != "" {
			line += fmt.Sprintf(" %s (%dms)", r.Hostname, r.LatencyMS)
		}
		if r.Error != "" {
			line += " " + r.Error
		}
		a.printf("%s\n", line)
	}

	s := ssh.Summarize(results)
	a.printf("%d of %d hosts reachable\n", s.Reachable, s.Total)
	return nil
}
