package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/livefeed/internal/config"
)

func newValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long:  "Load the file with strict YAML parsing, apply environment overrides and run every validation rule. Exits non-zero on the first failure.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPathFlag(file)
			if path == "" {
				return errors.New("--file is required")
			}
			// Load validates as its last step.
			if _, err := config.NewLoader(path).Load(); err != nil {
				return fmt.Errorf("configuration error in %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to YAML configuration file")
	return cmd
}
