package supervisor

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/livefeed/internal/cache"
	"github.com/ManuGH/livefeed/internal/clock"
	"github.com/ManuGH/livefeed/internal/mirror"
	"github.com/ManuGH/livefeed/internal/online"
	"github.com/ManuGH/livefeed/internal/retry"
	"github.com/ManuGH/livefeed/internal/schedule"
	"github.com/ManuGH/livefeed/internal/source"
	"github.com/ManuGH/livefeed/internal/upstream"
)

// BreakerConfig enables the per-source circuit breaker.
type BreakerConfig struct {
	Threshold int
	Reset     time.Duration
}

// SourceConfig describes one polled feed.
type SourceConfig struct {
	ID        string
	Schedule  schedule.Schedule
	Staleness time.Duration // Fresh threshold; zero means twice the longest interval
	Timeout   time.Duration // per attempt; zero inherits Config.Timeout
	Retry     retry.Policy  // non-zero fields override Config.Retry
	Fetcher   upstream.Fetcher
	Breaker   *BreakerConfig
}

// Config configures a Supervisor.
type Config struct {
	Sources []SourceConfig

	Clock        clock.Clock   // default wall clock
	MaxEntries   int           // cache cap, default 128
	Mirror       mirror.Sink   // durable mirror; nil keeps values in memory only
	DurableGrace time.Duration // default 1h
	Retry        retry.Policy  // defaults 1s/30s/3
	Timeout      time.Duration // per attempt, default 10s
	Online       online.Signal // default always online
	Logger       *zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = clock.NewWall()
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = cache.DefaultMaxEntries
	}
	if c.DurableGrace <= 0 {
		c.DurableGrace = cache.DefaultGrace
	}
	if c.Timeout <= 0 {
		c.Timeout = source.DefaultTimeout
	}
	c.Retry = c.Retry.WithDefaults()
	if c.Online == nil {
		c.Online = online.Always{}
	}
}

// validateSources checks ids are unique and every source is runnable.
func validateSources(sources []SourceConfig) error {
	if len(sources) == 0 {
		return ErrNoSources
	}
	seen := make(map[string]struct{}, len(sources))
	for _, sc := range sources {
		if sc.ID == "" {
			return fmt.Errorf("supervisor: source with empty id")
		}
		if _, dup := seen[sc.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateSource, sc.ID)
		}
		seen[sc.ID] = struct{}{}
		if sc.Fetcher == nil {
			return fmt.Errorf("supervisor: source %q has no fetcher", sc.ID)
		}
		if err := schedule.Validate(sc.Schedule); err != nil {
			return fmt.Errorf("supervisor: source %q: %w", sc.ID, err)
		}
		if sc.Staleness < 0 || sc.Timeout < 0 {
			return fmt.Errorf("supervisor: source %q: negative duration", sc.ID)
		}
	}
	return nil
}
