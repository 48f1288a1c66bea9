// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mirror provides the durable text key/value sinks the cache mirrors
// its entries into. A sink only has to store and return strings; encoding and
// freshness decisions belong to the cache.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/livefeed/internal/log"
)

// Sink is a durable string key/value store.
type Sink interface {
	// Load returns the stored value and whether the key exists.
	Load(ctx context.Context, key string) (string, bool, error)
	// Store writes value under key, replacing any previous value.
	Store(ctx context.Context, key, value string) error
	// Close releases the underlying resources.
	Close() error
}

// HealthChecker is implemented by sinks that can report their own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Kinds understood by Open.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindRedis  = "redis"
	KindBadger = "badger"
	KindSQLite = "sqlite"
)

// ErrUnknownKind is returned by Open for an unsupported sink kind.
var ErrUnknownKind = errors.New("mirror: unknown sink kind")

// Config selects and configures a sink.
type Config struct {
	Kind     string `yaml:"kind"`
	Path     string `yaml:"path,omitempty"`     // file, badger, sqlite
	Addr     string `yaml:"addr,omitempty"`     // redis host:port
	Password string `yaml:"password,omitempty"` // redis
	DB       int    `yaml:"db,omitempty"`       // redis database number
}

// Validate checks that the fields required by Kind are present.
func (c Config) Validate() error {
	switch strings.ToLower(c.Kind) {
	case KindMemory:
		return nil
	case KindFile, KindBadger, KindSQLite:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("mirror %s: path is required", c.Kind)
		}
		return nil
	case KindRedis:
		if strings.TrimSpace(c.Addr) == "" {
			return fmt.Errorf("mirror redis: addr is required")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
}

// Open builds the sink described by cfg.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With().Str("mirror_kind", cfg.Kind).Logger()

	var (
		sink Sink
		err  error
	)
	switch strings.ToLower(cfg.Kind) {
	case KindMemory:
		sink = NewMemory()
	case KindFile:
		sink, err = OpenFile(cfg.Path, logger)
	case KindRedis:
		sink, err = NewRedis(ctx, RedisConfig{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}, logger)
	case KindBadger:
		sink, err = OpenBadger(cfg.Path)
	case KindSQLite:
		sink, err = OpenSQLite(ctx, cfg.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s mirror: %w", cfg.Kind, err)
	}

	logger.Info().
		Str(log.FieldEvent, "mirror.opened").
		Str("path", cfg.Path).
		Str("addr", cfg.Addr).
		Msg("durable mirror opened")
	return sink, nil
}
