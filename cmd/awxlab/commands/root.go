package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath    string
	verbose       bool
	jsonOutput    bool
	controllerURL string
	tokenSource   string
	statePath     string
	policyDir     string
	metricsAddr   string
	traceExporter string
	traceEndpoint string

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "awxlab",
		Short: "awxlab - idempotent AWX lab provisioning",
		Long: `awxlab brings an AWX controller to a declared lab state: an inventory,
a group, its hosts, a git project and a job template.

Every run is idempotent. Resources that already exist are reused by name,
missing ones are created, and teardown removes them in reverse order.

Features:
  - YAML or CUE declarations with Starlark host variables
  - Tokens from the environment, files, Kubernetes secrets or Vault
  - OPA policy checks before anything is changed
  - Run history in a local SQLite store
  - SSH reachability probe of the declared hosts`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "awxlab.yaml", "declaration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&controllerURL, "url", "", "controller URL (overrides the declaration and AWX_URL)")
	rootCmd.PersistentFlags().StringVar(&tokenSource, "token-source", "", "token source, e.g. env:AWX_TOKEN, file:PATH, k8s:NS/SECRET#KEY, vault:MOUNT/PATH#FIELD")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "run history database path")
	rootCmd.PersistentFlags().StringVar(&policyDir, "policy-dir", "", "directory of additional .rego and .json policies")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace", "none", "trace exporter (stdout, otlp, none)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP collector endpoint")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newSetupCommand())
	rootCmd.AddCommand(newTeardownCommand())
	rootCmd.AddCommand(newWaitCommand())
	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
