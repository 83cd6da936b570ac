package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fixhunt/internal/config"
	"fixhunt/internal/errors"
)

func newConfigCmd(global *globalOptions) *cobra.Command {
	var (
		format string
		repo   string
		write  string
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Display the configuration fixhunt would run with, after merging
defaults, .fixhunt/config.* in the repository, --config and FIXHUNT_*
environment overrides.

Examples:
  fixhunt config                         # JSON
  fixhunt config --format toml           # TOML
  fixhunt config --repo ~/src/linux --write ~/src/linux/.fixhunt/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(config.LoadOptions{RepoRoot: repo, ConfigFile: global.configFile})
			if err != nil {
				return errors.New(errors.ConfigInvalid, "cannot load configuration", err,
					errors.GetSuggestedFixes(errors.ConfigInvalid))
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			}

			if write != "" {
				if err := cfg.Save(write); err != nil {
					return errors.New(errors.ConfigInvalid, "cannot write configuration", err, nil).
						WithDetails(map[string]interface{}{"path": write})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", write)
				return nil
			}
			return cfg.Encode(cmd.OutOrStdout(), format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format (json, yaml, toml)")
	cmd.Flags().StringVar(&repo, "repo", ".", "Repository whose .fixhunt/config.* is read")
	cmd.Flags().StringVar(&write, "write", "", "Save the configuration to this file instead of printing it")

	return cmd
}
