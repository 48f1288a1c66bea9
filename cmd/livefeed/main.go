// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// livefeed polls live sports feeds and fans fresh values out to subscribers.
//
// Usage:
//
//	livefeed serve --config livefeed.yaml
//	livefeed validate -f livefeed.yaml
//	livefeed status --addr localhost:8080
//	livefeed healthcheck --mode ready
//	livefeed version
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuGH/livefeed/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "livefeed",
		Short:         "Live sports data fan-out service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newStatusCmd(),
		newHealthcheckCmd(),
		newVersionCmd(),
	)
	return root
}

// configPathFlag resolves --config, falling back to LIVEFEED_CONFIG.
func configPathFlag(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(config.EnvConfigPath)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
