// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/livefeed/internal/mirror"
	"github.com/ManuGH/livefeed/internal/online"
	"github.com/ManuGH/livefeed/internal/telemetry"
)

// Fetcher kinds.
const (
	FetcherHTTP   = "http"
	FetcherStatic = "static"
)

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	Sources   []SourceConfig   `yaml:"sources"`
	Cache     CacheConfig      `yaml:"cache,omitempty"`
	Retry     RetryConfig      `yaml:"retry,omitempty"`
	Network   NetworkConfig    `yaml:"network,omitempty"`
	Online    OnlineConfig     `yaml:"online,omitempty"`
	Server    ServerConfig     `yaml:"server,omitempty"`
	Log       LogConfig        `yaml:"log,omitempty"`
	Telemetry telemetry.Config `yaml:"telemetry,omitempty"`
}

// SourceConfig describes one polled feed.
type SourceConfig struct {
	ID        string         `yaml:"id"`
	Schedule  ScheduleConfig `yaml:"schedule"`
	Staleness time.Duration  `yaml:"staleness,omitempty"`
	Timeout   time.Duration  `yaml:"timeout,omitempty"`
	Retry     *RetryConfig   `yaml:"retry,omitempty"`
	Breaker   *BreakerConfig `yaml:"breaker,omitempty"`
	Fetcher   FetcherConfig  `yaml:"fetcher"`
}

// ScheduleConfig is either a fixed interval or a game day / off day pair.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`

	GameDay   time.Duration `yaml:"gameDay,omitempty"`
	OffDay    time.Duration `yaml:"offDay,omitempty"`
	GameDays  []string      `yaml:"gameDays,omitempty"`  // weekday names
	GameDates []string      `yaml:"gameDates,omitempty"` // YYYY-MM-DD
	Timezone  string        `yaml:"timezone,omitempty"`
}

// FetcherConfig selects the upstream implementation of a source.
type FetcherConfig struct {
	Kind string `yaml:"kind"`

	// http
	URL         string            `yaml:"url,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	MinInterval time.Duration     `yaml:"minInterval,omitempty"`

	// static
	Values []any `yaml:"values,omitempty"`
}

// BreakerConfig enables the per-source circuit breaker.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Reset     time.Duration `yaml:"reset,omitempty"`
}

// RetryConfig holds backoff settings; zero fields inherit.
type RetryConfig struct {
	Base        time.Duration `yaml:"base,omitempty"`
	MaxBackoff  time.Duration `yaml:"maxBackoff,omitempty"`
	MaxAttempts int           `yaml:"maxAttempts,omitempty"`
}

// CacheConfig sizes the cache and selects the durable mirror.
type CacheConfig struct {
	MaxEntries    int            `yaml:"maxEntries,omitempty"`
	DurableMirror *mirror.Config `yaml:"durableMirror,omitempty"`
	DurableGrace  time.Duration  `yaml:"durableGrace,omitempty"`
}

// NetworkConfig holds fetch settings shared by all sources.
type NetworkConfig struct {
	PerAttemptTimeout time.Duration `yaml:"perAttemptTimeout,omitempty"`
}

// OnlineConfig selects the connectivity signal. Without a probe the service
// is always online unless Manual is set, in which case the admin endpoint
// toggles it.
type OnlineConfig struct {
	Probe  *online.ProbeConfig `yaml:"probe,omitempty"`
	Manual bool                `yaml:"manual,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen          string          `yaml:"listen,omitempty"`
	MetricsListen   string          `yaml:"metricsListen,omitempty"` // empty disables the metrics listener
	RateLimit       RateLimitConfig `yaml:"rateLimit,omitempty"`
	EventQueue      int             `yaml:"eventQueue,omitempty"` // per-client SSE buffer
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout,omitempty"`
}

// RateLimitConfig limits API requests per client IP.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int           `yaml:"limit,omitempty"`
	Window  time.Duration `yaml:"window,omitempty"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
}
