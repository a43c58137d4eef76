// Package initconfig implements the init-config command.
package initconfig

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-edge/internal/conf"
)

// Command creates the init-config command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		resolved bool
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a config file",
		Long:  "Write the commented default config, or with --resolved the effective settings including environment and flag overrides.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}

			if resolved {
				if err := conf.SaveYAMLConfig(path, settings); err != nil {
					return err
				}
			} else {
				data, err := conf.GetDefaultConfig()
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config is not secret by default
					return fmt.Errorf("error writing config file: %w", err)
				}
			}

			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&resolved, "resolved", false, "Write the effective settings instead of the commented template")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
