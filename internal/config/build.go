package config

import (
	"fmt"

	"github.com/ManuGH/livefeed/internal/retry"
	"github.com/ManuGH/livefeed/internal/schedule"
	"github.com/ManuGH/livefeed/internal/supervisor"
	"github.com/ManuGH/livefeed/internal/upstream"
	"github.com/ManuGH/livefeed/internal/upstream/httpjson"
	"github.com/ManuGH/livefeed/internal/upstream/static"
)

// SupervisorConfig translates the file-level settings into a supervisor
// configuration. Clock, mirror, online signal and logger are runtime
// dependencies and are left for the caller.
func (c *AppConfig) SupervisorConfig() (supervisor.Config, error) {
	sources, err := c.SupervisorSources()
	if err != nil {
		return supervisor.Config{}, err
	}
	return supervisor.Config{
		Sources:      sources,
		MaxEntries:   c.Cache.MaxEntries,
		DurableGrace: c.Cache.DurableGrace,
		Retry:        c.Retry.policy(),
		Timeout:      c.Network.PerAttemptTimeout,
	}, nil
}

// SupervisorSources builds one runnable source per configured entry, in
// configuration order.
func (c *AppConfig) SupervisorSources() ([]supervisor.SourceConfig, error) {
	out := make([]supervisor.SourceConfig, 0, len(c.Sources))
	for _, sc := range c.Sources {
		sched, err := BuildSchedule(sc.Schedule)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.ID, err)
		}
		fetcher, err := BuildFetcher(sc.Fetcher)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.ID, err)
		}
		built := supervisor.SourceConfig{
			ID:        sc.ID,
			Schedule:  sched,
			Staleness: sc.Staleness,
			Timeout:   sc.Timeout,
			Fetcher:   fetcher,
		}
		if sc.Retry != nil {
			built.Retry = sc.Retry.policy()
		}
		if sc.Breaker != nil {
			built.Breaker = &supervisor.BreakerConfig{
				Threshold: sc.Breaker.Threshold,
				Reset:     sc.Breaker.Reset,
			}
		}
		out = append(out, built)
	}
	return out, nil
}

// BuildSchedule returns a FixedInterval or a calendar-driven ContextSwitching
// schedule.
func BuildSchedule(sc ScheduleConfig) (schedule.Schedule, error) {
	if sc.Interval > 0 {
		return schedule.FixedInterval(sc.Interval), nil
	}
	cal, err := schedule.NewGameDayCalendar(sc.GameDays, sc.GameDates, sc.Timezone)
	if err != nil {
		return nil, err
	}
	s := schedule.ContextSwitching{
		GameDay:   sc.GameDay,
		OffDay:    sc.OffDay,
		IsGameDay: cal.IsGameDay,
	}
	if err := schedule.Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// BuildFetcher constructs the upstream named by fc.Kind.
func BuildFetcher(fc FetcherConfig) (upstream.Fetcher, error) {
	switch fc.Kind {
	case FetcherHTTP:
		f, err := httpjson.New(httpjson.Options{
			URL:         fc.URL,
			Headers:     fc.Headers,
			MinInterval: fc.MinInterval,
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	case FetcherStatic:
		f, err := static.New(fc.Values...)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown fetcher kind %q", fc.Kind)
	}
}

func (rc RetryConfig) policy() retry.Policy {
	return retry.Policy{
		Base:        rc.Base,
		MaxBackoff:  rc.MaxBackoff,
		MaxAttempts: rc.MaxAttempts,
	}
}
