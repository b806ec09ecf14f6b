package commands

import (
	"context"

	"github.com/openfroyo/awxlab/pkg/config"
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default lab declaration",
		Long: `Write a declaration describing the default lab: the WSL Lab inventory,
the all_servers group, six WSL hosts, the automation project and the
service management job template.

Edit the file, then run 'awxlab validate' and 'awxlab setup'.`,
		Example: `  # Write awxlab.yaml in the current directory
  awxlab init

  # Write to a custom path, replacing an existing file
  awxlab init --config lab.yaml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "init", func(ctx context.Context, a *app) error {
				if err := config.Write(config.Default(), configPath, force); err != nil {
					return err
				}
				a.logger.Info().Str("path", configPath).Msg("Declaration written")
				a.printf("Wrote %s\n", configPath)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}
