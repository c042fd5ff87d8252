package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/ilm/pkg/cli"
	"mercator-hq/ilm/pkg/lifecycle"
	"mercator-hq/ilm/pkg/lifecycle/policyfile"
)

var validateFlags struct {
	policies string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and retention policies",
	Long: `Load the configuration and the policy file and report every problem found.

A policy is valid when rollover_max_age and rollover_max_size are positive and
delete_min_age is greater than rollover_max_age.

Examples:
  # Validate the config and the policy file it references
  ilm validate --config config.yaml

  # Validate a policy file on its own
  ilm validate --policies policies.yaml -o json`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.policies, "policies", "", "policy file to validate (overrides policies.file)")
}

type validateResult struct {
	Config   string                      `json:"config"`
	Source   string                      `json:"source"`
	Policies []lifecycle.RetentionPolicy `json:"policies"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	f, err := format()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if validateFlags.policies != "" {
		cfg.Policies.File = validateFlags.policies
	}

	policies, err := loadPolicies(cfg)
	if err != nil {
		return cli.NewConfigError("policies.file", err.Error())
	}

	result := validateResult{
		Config:   cfgFile,
		Source:   cfg.Policies.File,
		Policies: policies,
	}
	if result.Source == "" {
		result.Source = "built-in defaults"
	}

	if f == cli.FormatText {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration valid\n✓ %d policies valid (%s)\n\n", len(policies), result.Source)
	}
	return cli.Render(cmd.OutOrStdout(), f, policyTable(policies), result)
}

func policyTable(policies []lifecycle.RetentionPolicy) *cli.Table {
	table := cli.NewTable("STREAM", "ROLLOVER_MAX_AGE", "ROLLOVER_MAX_SIZE", "DELETE_MIN_AGE")
	for _, p := range policies {
		table.AddRow(p.Stream,
			policyfile.FormatAge(p.RolloverMaxAge),
			cli.FormatBytes(p.RolloverMaxSize),
			policyfile.FormatAge(p.DeleteMinAge),
		)
	}
	return table
}
