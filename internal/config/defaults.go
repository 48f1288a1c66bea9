package config

import (
	"time"

	"github.com/ManuGH/livefeed/internal/cache"
	"github.com/ManuGH/livefeed/internal/retry"
	"github.com/ManuGH/livefeed/internal/source"
)

const (
	DefaultListen          = ":8080"
	DefaultMetricsListen   = ":9090"
	DefaultEventQueue      = 64
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRateLimit       = 120
	DefaultRateWindow      = time.Minute
	DefaultLogLevel        = "info"
)

// Defaults returns the configuration used for every key the file and the
// environment leave unset.
func Defaults() AppConfig {
	return AppConfig{
		Cache: CacheConfig{
			MaxEntries:   cache.DefaultMaxEntries,
			DurableGrace: cache.DefaultGrace,
		},
		Retry: RetryConfig{
			Base:        retry.DefaultBase,
			MaxBackoff:  retry.DefaultMaxBackoff,
			MaxAttempts: retry.DefaultMaxAttempts,
		},
		Network: NetworkConfig{PerAttemptTimeout: source.DefaultTimeout},
		Server: ServerConfig{
			Listen:        DefaultListen,
			MetricsListen: DefaultMetricsListen,
			RateLimit: RateLimitConfig{
				Enabled: true,
				Limit:   DefaultRateLimit,
				Window:  DefaultRateWindow,
			},
			EventQueue:      DefaultEventQueue,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}
