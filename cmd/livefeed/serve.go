package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/livefeed/internal/daemon"
	xglog "github.com/ManuGH/livefeed/internal/log"
	"github.com/ManuGH/livefeed/internal/version"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the service",
		Long:  "Poll every configured source and serve the HTTP API until SIGINT or SIGTERM. SIGHUP reloads the config file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPathFlag(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML); defaults to $LIVEFEED_CONFIG")
	return cmd
}

func runServe(ctx context.Context, path string) error {
	// Safe defaults until the config file sets the level.
	xglog.Configure(xglog.Config{Level: "info", Service: daemon.ServiceName, Version: version.Version})
	logger := xglog.WithComponent("main")

	app, err := daemon.Bootstrap(ctx, daemon.Options{ConfigPath: path, Version: version.Version})
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "startup.failed").Str("config_path", path).Msg("failed to start")
		return err
	}

	logger.Info().
		Str(xglog.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("config_path", path).
		Msg("starting livefeed")

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "shutdown.failed").Msg("livefeed stopped with error")
		return err
	}
	logger.Info().Str(xglog.FieldEvent, "shutdown").Msg("livefeed stopped")
	return nil
}
