package commands

import (
	"context"
	"errors"

	"github.com/openfroyo/awxlab/pkg/config"
	"github.com/openfroyo/awxlab/pkg/policy"
	"github.com/spf13/cobra"
)

type validateReport struct {
	Path     string                   `json:"path"`
	Valid    bool                     `json:"valid"`
	Problems []config.ValidationError `json:"problems,omitempty"`
	Policy   *policy.Result           `json:"policy,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var operation string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a lab declaration",
		Long: `Validate a declaration without contacting the controller.

This command checks:
  - YAML or CUE syntax
  - Schema conformance and field constraints
  - Policy compliance (built-in and local OPA/rego policies)`,
		Example: `  # Validate awxlab.yaml
  awxlab validate

  # Validate a CUE declaration and print the report as JSON
  awxlab validate --config lab.cue --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "validate", func(ctx context.Context, a *app) error {
				report := validateReport{Path: configPath}

				decl, err := loadDeclaration()
				if err != nil {
					var loadErr *config.LoadError
					if !errors.As(err, &loadErr) {
						return err
					}
					report.Problems = loadErr.Problems
					if perr := a.printValidation(report); perr != nil {
						return perr
					}
					return err
				}

				result, err := a.checkPolicies(ctx, decl, operation)
				if err != nil {
					return err
				}
				report.Policy = result
				report.Valid = result.Allowed
				if err := a.printValidation(report); err != nil {
					return err
				}
				return result.Err()
			})
		},
	}

	cmd.Flags().StringVar(&operation, "operation", "setup", "operation the policies are evaluated for (setup, teardown)")

	return cmd
}

func (a *app) printValidation(r validateReport) error {
	if jsonOutput {
		return a.printJSON(r)
	}

	for _, p := range r.Problems {
		a.printf("error: %s\n", p)
	}
	if r.Policy != nil {
		for _, v := range r.Policy.Violations {
			a.printf("%s\n", v)
		}
		for _, w := range r.Policy.Warnings {
			a.printf("%s\n", w)
		}
	}
	if r.Valid {
		a.printf("%s is valid\n", r.Path)
	}
	return nil
}
