// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Environment variables that override the file.
const (
	EnvConfigPath      = "LIVEFEED_CONFIG"
	EnvListen          = "LIVEFEED_LISTEN"
	EnvMetricsListen   = "LIVEFEED_METRICS_LISTEN"
	EnvLogLevel        = "LIVEFEED_LOG_LEVEL"
	EnvCacheMaxEntries = "LIVEFEED_CACHE_MAX_ENTRIES"
	EnvCacheGrace      = "LIVEFEED_CACHE_GRACE"
	EnvRetryBase       = "LIVEFEED_RETRY_BASE"
	EnvRetryMaxBackoff = "LIVEFEED_RETRY_MAX_BACKOFF"
	EnvRetryMaxAttempt = "LIVEFEED_RETRY_MAX_ATTEMPTS"
	EnvFetchTimeout    = "LIVEFEED_FETCH_TIMEOUT"
)

// LookupFunc reads one environment variable; os.LookupEnv in production.
type LookupFunc func(key string) (string, bool)

// envReader resolves overrides and logs where each value came from.
type envReader struct {
	lookup LookupFunc
	logger zerolog.Logger
}

// String reads a string from the environment or returns defaultValue.
func (r envReader) String(key, defaultValue string) string {
	value, exists := r.lookup(key)
	if !exists {
		return defaultValue
	}
	if value == "" {
		r.logger.Debug().
			Str("key", key).
			Str("default", defaultValue).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return defaultValue
	}
	lowerKey := strings.ToLower(key)
	if strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "password") {
		r.logger.Debug().
			Str("key", key).
			Str("source", "environment").
			Bool("sensitive", true).
			Msg("using environment variable")
		return value
	}
	r.logger.Debug().
		Str("key", key).
		Str("value", value).
		Str("source", "environment").
		Msg("using environment variable")
	return value
}

// Int reads an integer. Invalid values fall back to defaultValue with a warning.
func (r envReader) Int(key string, defaultValue int) int {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	r.logger.Debug().
		Str("key", key).
		Int("value", i).
		Str("source", "environment").
		Msg("using environment variable")
	return i
}

// Duration reads a Go duration ("5s").
func (r envReader) Duration(key string, defaultValue time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	r.logger.Debug().
		Str("key", key).
		Dur("value", d).
		Str("source", "environment").
		Msg("using environment variable")
	return d
}

// mergeEnv applies the LIVEFEED_* overrides to cfg.
func (r envReader) mergeEnv(cfg *AppConfig) {
	cfg.Server.Listen = r.String(EnvListen, cfg.Server.Listen)
	cfg.Server.MetricsListen = r.String(EnvMetricsListen, cfg.Server.MetricsListen)
	cfg.Log.Level = r.String(EnvLogLevel, cfg.Log.Level)
	cfg.Cache.MaxEntries = r.Int(EnvCacheMaxEntries, cfg.Cache.MaxEntries)
	cfg.Cache.DurableGrace = r.Duration(EnvCacheGrace, cfg.Cache.DurableGrace)
	cfg.Retry.Base = r.Duration(EnvRetryBase, cfg.Retry.Base)
	cfg.Retry.MaxBackoff = r.Duration(EnvRetryMaxBackoff, cfg.Retry.MaxBackoff)
	cfg.Retry.MaxAttempts = r.Int(EnvRetryMaxAttempt, cfg.Retry.MaxAttempts)
	cfg.Network.PerAttemptTimeout = r.Duration(EnvFetchTimeout, cfg.Network.PerAttemptTimeout)
}
