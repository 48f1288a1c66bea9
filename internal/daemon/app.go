// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/livefeed/internal/api"
	"github.com/ManuGH/livefeed/internal/config"
	"github.com/ManuGH/livefeed/internal/log"
	"github.com/ManuGH/livefeed/internal/online"
	"github.com/ManuGH/livefeed/internal/supervisor"
)

var defaultReloadSignal os.Signal = syscall.SIGHUP

// App owns the long-lived runtime lifecycle (watcher, reload wiring, the
// supervisor) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	supervisor   *supervisor.Supervisor
	apiServer    *api.Server
	probe        *online.Probe
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator from already built parts.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder, sup *supervisor.Supervisor) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		supervisor:   sup,
		reloadSignal: defaultReloadSignal,
	}
}

// Supervisor returns the running supervisor.
func (a *App) Supervisor() *supervisor.Supervisor { return a.supervisor }

// Config returns the holder of the active configuration.
func (a *App) Config() *config.Holder { return a.cfgHolder }

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	if a.supervisor == nil {
		return ErrMissingSupervisor
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		defer a.cfgHolder.Stop()

		applyCh := make(chan *config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					if cfg != nil {
						a.apply(ctx, cfg)
					}
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(ctx); err != nil {
						a.logger.Warn().
							Err(err).
							Str(log.FieldEvent, "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	if a.probe != nil {
		a.probe.Start(ctx)
	}

	// Workers outlive ctx; the supervisor shutdown hook stops them in order.
	if err := a.supervisor.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// apply hands a reloaded configuration to the running components. Listener
// addresses and the mirror need a restart and are not changed here.
func (a *App) apply(ctx context.Context, cfg *config.AppConfig) {
	log.SetLevel(cfg.Log.Level)

	sources, err := cfg.SupervisorSources()
	if err != nil {
		a.logger.Error().Err(err).Str(log.FieldEvent, "config.apply_failed").Msg("reloaded sources could not be built")
		return
	}
	if err := a.supervisor.Reconfigure(ctx, sources); err != nil {
		a.logger.Error().Err(err).Str(log.FieldEvent, "config.apply_failed").Msg("supervisor rejected reloaded sources")
		return
	}
	a.logger.Info().
		Str(log.FieldEvent, "config.applied").
		Int("sources", len(sources)).
		Msg("reloaded configuration applied")
}
