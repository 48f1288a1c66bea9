// Package daemon assembles the service from its configuration and runs it
// until the process is asked to stop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/livefeed/internal/api"
	"github.com/ManuGH/livefeed/internal/api/middleware"
	"github.com/ManuGH/livefeed/internal/clock"
	"github.com/ManuGH/livefeed/internal/config"
	"github.com/ManuGH/livefeed/internal/health"
	"github.com/ManuGH/livefeed/internal/log"
	"github.com/ManuGH/livefeed/internal/mirror"
	"github.com/ManuGH/livefeed/internal/online"
	"github.com/ManuGH/livefeed/internal/supervisor"
	"github.com/ManuGH/livefeed/internal/telemetry"
)

// ServiceName is attached to every log line and trace.
const ServiceName = "livefeed"

// Options controls Bootstrap. Zero values select production behavior.
type Options struct {
	ConfigPath string
	Version    string

	Lookup   config.LookupFunc // environment; nil means os.LookupEnv
	Resolver health.Resolver   // nil means net.DefaultResolver
	Clock    clock.Clock       // nil means the wall clock
	Dial     online.DialFunc   // probe dialer; nil means net.Dialer
}

// Bootstrap loads the configuration and builds every component. Nothing is
// started; App.Run does that. On error everything opened so far is closed.
func Bootstrap(ctx context.Context, opts Options) (_ *App, err error) {
	loader := config.NewLoader(opts.ConfigPath)
	if opts.Lookup != nil {
		loader.WithLookup(opts.Lookup)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log.Reconfigure(log.Config{
		Level:   cfg.Log.Level,
		Output:  os.Stdout,
		Service: ServiceName,
		Version: opts.Version,
	})
	logger := log.WithComponent("daemon")

	resolver := opts.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if err := health.PerformStartupChecks(ctx, cfg, resolver); err != nil {
		return nil, fmt.Errorf("startup checks: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.NewWall()
	}

	// Undo partial construction in reverse order.
	var undo []func()
	defer func() {
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
	}()

	telCfg := cfg.Telemetry
	telCfg.ServiceVersion = opts.Version
	if telCfg.ServiceName == "" {
		telCfg.ServiceName = ServiceName
	}
	provider, err := telemetry.NewProvider(ctx, telCfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	undo = append(undo, func() { _ = provider.Shutdown(context.Background()) })

	var sink mirror.Sink
	if cfg.Cache.DurableMirror != nil {
		sink, err = mirror.Open(ctx, *cfg.Cache.DurableMirror, log.WithComponent("mirror"))
		if err != nil {
			return nil, err
		}
		undo = append(undo, func() { _ = sink.Close() })
	}

	signal, probe, manual, err := buildOnline(cfg.Online, clk, opts.Dial)
	if err != nil {
		return nil, err
	}

	supCfg, err := cfg.SupervisorConfig()
	if err != nil {
		return nil, err
	}
	supLogger := log.WithComponent("supervisor")
	supCfg.Clock = clk
	supCfg.Mirror = sink
	supCfg.Online = signal
	supCfg.Logger = &supLogger
	sup, err := supervisor.New(supCfg)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	hm := health.NewManager(opts.Version)
	hm.RegisterChecker(health.NewPhaseChecker(sup.Phase))
	hm.RegisterChecker(health.NewFreshnessChecker(sup))
	if hc, ok := sink.(mirror.HealthChecker); ok {
		hm.RegisterChecker(health.NewMirrorChecker(hc, 0))
	}

	apiLogger := log.WithComponent("api")
	apiSrv, err := api.New(api.Deps{
		Supervisor: sup,
		Health:     hm,
		Online:     manual,
		Stack:      stackConfig(cfg),
		EventQueue: cfg.Server.EventQueue,
		Logger:     &apiLogger,
	})
	if err != nil {
		return nil, err
	}

	mgr, err := NewManager(ServerConfigFrom(cfg.Server), Deps{
		Logger:         logger,
		APIHandler:     apiSrv.Handler(),
		Streams:        apiSrv,
		MetricsHandler: promhttp.Handler(),
	})
	if err != nil {
		return nil, err
	}

	// Hooks run newest first: probe, supervisor, mirror, telemetry.
	mgr.RegisterShutdownHook("telemetry", provider.Shutdown)
	if sink != nil {
		mgr.RegisterShutdownHook("mirror", func(context.Context) error { return sink.Close() })
	}
	mgr.RegisterShutdownHook("supervisor", sup.Stop)
	if probe != nil {
		mgr.RegisterShutdownHook("online-probe", func(context.Context) error {
			probe.Stop()
			return nil
		})
	}

	logger.Info().
		Str(log.FieldEvent, "daemon.bootstrapped").
		Int("sources", len(cfg.Sources)).
		Bool("durable_mirror", sink != nil).
		Bool("telemetry", telCfg.Enabled).
		Msg("service assembled")

	return &App{
		logger:       logger,
		manager:      mgr,
		cfgHolder:    config.NewHolder(cfg, loader),
		supervisor:   sup,
		apiServer:    apiSrv,
		probe:        probe,
		reloadSignal: defaultReloadSignal,
	}, nil
}

// buildOnline picks the connectivity signal: a TCP probe, the manual toggle
// or always online.
func buildOnline(cfg config.OnlineConfig, clk clock.Clock, dial online.DialFunc) (online.Signal, *online.Probe, *online.Manual, error) {
	switch {
	case cfg.Probe != nil && cfg.Manual:
		return nil, nil, nil, errors.New("online: probe and manual are mutually exclusive")
	case cfg.Probe != nil:
		p, err := online.NewProbe(*cfg.Probe, clk, dial)
		if err != nil {
			return nil, nil, nil, err
		}
		return p, p, nil, nil
	case cfg.Manual:
		m := online.NewManual(true)
		return m, nil, m, nil
	default:
		return online.Always{}, nil, nil, nil
	}
}

func stackConfig(cfg *config.AppConfig) middleware.StackConfig {
	sc := middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		EnableLogging:         true,
		EnableRateLimit:       cfg.Server.RateLimit.Enabled,
		RateLimit:             cfg.Server.RateLimit.Limit,
		RateLimitWindow:       cfg.Server.RateLimit.Window,
	}
	if cfg.Telemetry.Enabled {
		sc.TracingService = cfg.Telemetry.ServiceName
		if sc.TracingService == "" {
			sc.TracingService = ServiceName
		}
	}
	return sc
}
