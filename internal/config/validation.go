// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"

	"github.com/ManuGH/livefeed/internal/schedule"
	"github.com/ManuGH/livefeed/internal/validate"
)

// Validate checks the whole configuration and reports every problem at once.
func Validate(cfg *AppConfig) error {
	v := validate.New()

	if len(cfg.Sources) == 0 {
		v.AddError("sources", "at least one source is required", nil)
	}
	seen := make(map[string]int, len(cfg.Sources))
	for i, sc := range cfg.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		v.NotEmpty(field+".id", sc.ID)
		if sc.ID != "" {
			if prev, dup := seen[sc.ID]; dup {
				v.AddError(field+".id", fmt.Sprintf("duplicate source id (also sources[%d])", prev), sc.ID)
			} else {
				seen[sc.ID] = i
			}
			if strings.ContainsAny(sc.ID, ":*") {
				v.AddError(field+".id", "must not contain ':' or '*'", sc.ID)
			}
		}
		validateSchedule(v, field+".schedule", sc.Schedule)
		validateFetcher(v, field+".fetcher", sc.Fetcher)
		v.NonNegativeDuration(field+".staleness", sc.Staleness)
		v.NonNegativeDuration(field+".timeout", sc.Timeout)
		if sc.Retry != nil {
			validateRetry(v, field+".retry", *sc.Retry)
		}
		if sc.Breaker != nil {
			v.Positive(field+".breaker.threshold", sc.Breaker.Threshold)
			v.NonNegativeDuration(field+".breaker.reset", sc.Breaker.Reset)
		}
	}

	v.Positive("cache.maxEntries", cfg.Cache.MaxEntries)
	v.NonNegativeDuration("cache.durableGrace", cfg.Cache.DurableGrace)
	if cfg.Cache.DurableMirror != nil {
		if err := cfg.Cache.DurableMirror.Validate(); err != nil {
			v.AddError("cache.durableMirror", err.Error(), cfg.Cache.DurableMirror.Kind)
		}
	}

	validateRetry(v, "retry", cfg.Retry)
	v.NonNegativeDuration("network.perAttemptTimeout", cfg.Network.PerAttemptTimeout)

	if p := cfg.Online.Probe; p != nil {
		if cfg.Online.Manual {
			v.AddError("online", "probe and manual are mutually exclusive", nil)
		}
		v.HostPort("online.probe.addr", p.Addr)
		v.NonNegativeDuration("online.probe.interval", p.Interval)
		v.NonNegativeDuration("online.probe.timeout", p.Timeout)
	}

	v.ListenAddr("server.listen", cfg.Server.Listen)
	if cfg.Server.MetricsListen != "" {
		v.ListenAddr("server.metricsListen", cfg.Server.MetricsListen)
	}
	v.NonNegative("server.eventQueue", cfg.Server.EventQueue)
	v.NonNegativeDuration("server.shutdownTimeout", cfg.Server.ShutdownTimeout)
	if cfg.Server.RateLimit.Enabled {
		v.Positive("server.rateLimit.limit", cfg.Server.RateLimit.Limit)
		v.PositiveDuration("server.rateLimit.window", cfg.Server.RateLimit.Window)
	}

	if _, err := validate.ParseLogLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		v.AddError("log.level", "must be one of debug, info, warn, error", cfg.Log.Level)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.ExporterType, []string{"grpc", "http"})
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate", "must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	return v.Err()
}

func validateSchedule(v *validate.Validator, field string, sc ScheduleConfig) {
	switching := sc.GameDay != 0 || sc.OffDay != 0
	switch {
	case sc.Interval != 0 && switching:
		v.AddError(field, "interval and gameDay/offDay are mutually exclusive", nil)
		return
	case sc.Interval != 0:
		v.PositiveDuration(field+".interval", sc.Interval)
		if len(sc.GameDays) > 0 || len(sc.GameDates) > 0 {
			v.AddError(field, "gameDays and gameDates need gameDay/offDay intervals", nil)
		}
		return
	case !switching:
		v.AddError(field, "interval or gameDay/offDay is required", nil)
		return
	}
	v.PositiveDuration(field+".gameDay", sc.GameDay)
	v.PositiveDuration(field+".offDay", sc.OffDay)
	if _, err := schedule.NewGameDayCalendar(sc.GameDays, sc.GameDates, sc.Timezone); err != nil {
		v.AddError(field, err.Error(), nil)
	}
}

func validateFetcher(v *validate.Validator, field string, fc FetcherConfig) {
	switch fc.Kind {
	case FetcherHTTP:
		v.URL(field+".url", fc.URL, []string{"http", "https"})
		v.NonNegativeDuration(field+".minInterval", fc.MinInterval)
		if len(fc.Values) > 0 {
			v.AddError(field+".values", "only valid for static fetchers", nil)
		}
	case FetcherStatic:
		if len(fc.Values) == 0 {
			v.AddError(field+".values", "at least one value is required", nil)
		}
		if fc.URL != "" {
			v.AddError(field+".url", "only valid for http fetchers", fc.URL)
		}
	default:
		v.OneOf(field+".kind", fc.Kind, []string{FetcherHTTP, FetcherStatic})
	}
}

func validateRetry(v *validate.Validator, field string, rc RetryConfig) {
	v.NonNegativeDuration(field+".base", rc.Base)
	v.NonNegativeDuration(field+".maxBackoff", rc.MaxBackoff)
	v.NonNegative(field+".maxAttempts", rc.MaxAttempts)
	if rc.Base > 0 && rc.MaxBackoff > 0 && rc.Base > rc.MaxBackoff {
		v.AddError(field, fmt.Sprintf("base %s exceeds maxBackoff %s", rc.Base, rc.MaxBackoff), nil)
	}
}

