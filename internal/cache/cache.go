// Package cache holds the last known good value of every source. Entries are
// kept in a bounded LRU and optionally written through to a durable mirror so
// a restarted process can serve recent values before its first fetch.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"

	"github.com/ManuGH/livefeed/internal/clock"
	xglog "github.com/ManuGH/livefeed/internal/log"
	"github.com/ManuGH/livefeed/internal/metrics"
	"github.com/ManuGH/livefeed/internal/mirror"
)

const (
	// DefaultMaxEntries caps the number of cached sources.
	DefaultMaxEntries = 128
	// DefaultGrace is how old a mirrored entry may be and still be preloaded.
	DefaultGrace = time.Hour
	// DefaultMirrorTimeout bounds a single write-through.
	DefaultMirrorTimeout = 2 * time.Second

	keyPrefix = "livefeed:cache:"
)

// Entry is the last good value of one source. It is never mutated; a refresh
// replaces it.
type Entry struct {
	SourceID  string    `json:"sourceId"`
	Value     any       `json:"value"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Age returns how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Stats holds cache counters.
type Stats struct {
	Hits           int64 // Get found an entry
	Misses         int64 // Get found nothing
	Puts           int64
	Evictions      int64 // LRU evictions
	MirrorFailures int64 // failed mirror loads and stores
	CurrentSize    int
}

// Options configures a Cache. Zero values pick the defaults.
type Options struct {
	MaxEntries    int
	Mirror        mirror.Sink // nil keeps the cache memory-only
	MirrorTimeout time.Duration
	Clock         clock.Clock
	Logger        *zerolog.Logger
}

// Cache is safe for concurrent use.
type Cache struct {
	mu            sync.Mutex
	lru           *simplelru.LRU[string, Entry]
	stats         Stats
	mirror        mirror.Sink
	mirrorTimeout time.Duration
	clock         clock.Clock
	logger        zerolog.Logger
}

// New creates an empty cache.
func New(opts Options) (*Cache, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MirrorTimeout <= 0 {
		opts.MirrorTimeout = DefaultMirrorTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewWall()
	}
	logger := xglog.WithComponent("cache")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Cache{
		mirror:        opts.Mirror,
		mirrorTimeout: opts.MirrorTimeout,
		clock:         opts.Clock,
		logger:        logger,
	}
	lru, err := simplelru.NewLRU[string, Entry](opts.MaxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.lru = lru
	return c, nil
}

// onEvict runs with c.mu held.
func (c *Cache) onEvict(id string, _ Entry) {
	c.stats.Evictions++
	metrics.IncCacheEviction()
	c.logger.Debug().Str(xglog.FieldSourceID, id).Msg("evicted least recently refreshed entry")
}

// Put replaces the entry for id and writes it through to the mirror. A mirror
// failure is logged and counted; the in-memory entry is kept regardless.
func (c *Cache) Put(ctx context.Context, id string, value any, fetchedAt time.Time) {
	e := Entry{SourceID: id, Value: value, FetchedAt: fetchedAt}

	c.mu.Lock()
	c.lru.Add(id, e)
	c.stats.Puts++
	size := c.lru.Len()
	c.mu.Unlock()
	metrics.SetCacheEntries(size)

	if c.mirror != nil {
		c.writeThrough(ctx, e)
	}
}

func (c *Cache) writeThrough(ctx context.Context, e Entry) {
	raw, err := encodeRecord(e)
	if err == nil {
		wctx, cancel := context.WithCancelCause(ctx)
		deadline := c.clock.Schedule(c.mirrorTimeout, func() {
			cancel(fmt.Errorf("mirror store exceeded %s: %w", c.mirrorTimeout, context.DeadlineExceeded))
		})
		err = c.mirror.Store(wctx, Key(e.SourceID), raw)
		deadline.Stop()
		if err != nil && wctx.Err() != nil {
			err = context.Cause(wctx)
		}
		cancel(nil)
	}
	if err != nil {
		c.mu.Lock()
		c.stats.MirrorFailures++
		c.mu.Unlock()
		metrics.IncMirrorFailure("store")
		c.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "cache.mirror_failed").
			Str(xglog.FieldSourceID, e.SourceID).
			Msg("durable mirror write failed; keeping in-memory entry")
	}
}

// Get returns the entry for id. It does not change LRU recency.
func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(id)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return e, ok
}

// AgeOf returns the age of the entry for id at the clock's now.
func (c *Cache) AgeOf(id string) (time.Duration, bool) {
	e, ok := c.Get(id)
	if !ok {
		return 0, false
	}
	return e.Age(c.clock.Now()), true
}

// IsFresh reports whether id has an entry no older than maxAge.
func (c *Cache) IsFresh(id string, maxAge time.Duration) bool {
	age, ok := c.AgeOf(id)
	return ok && age <= maxAge
}

// Snapshot copies every entry.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Entry, c.lru.Len())
	for _, id := range c.lru.Keys() {
		if e, ok := c.lru.Peek(id); ok {
			out[id] = e
		}
	}
	return out
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a copy of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.CurrentSize = c.lru.Len()
	return s
}

// Preload reads the mirrored entries of ids and keeps those no older than
// grace (inclusive). Entries already in memory that are at least as new win.
// Corrupt records are skipped. Sink errors are counted and returned joined;
// they never abort the remaining ids.
func (c *Cache) Preload(ctx context.Context, ids []string, grace time.Duration) (int, error) {
	if c.mirror == nil {
		return 0, nil
	}
	if grace <= 0 {
		grace = DefaultGrace
	}

	var (
		loaded int
		errs   []error
	)
	now := c.clock.Now()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		raw, ok, err := c.mirror.Load(ctx, Key(id))
		if err != nil {
			metrics.IncMirrorFailure("load")
			c.mu.Lock()
			c.stats.MirrorFailures++
			c.mu.Unlock()
			errs = append(errs, fmt.Errorf("load %s: %w", id, err))
			continue
		}
		if !ok {
			continue
		}
		e, err := decodeRecord(id, raw)
		if err != nil {
			metrics.IncMirrorPreload("corrupt")
			c.logger.Warn().Err(err).Str(xglog.FieldSourceID, id).Msg("skipping corrupt mirror record")
			continue
		}
		if e.Age(now) > grace {
			metrics.IncMirrorPreload("expired")
			continue
		}

		c.mu.Lock()
		cur, exists := c.lru.Peek(id)
		if !exists || cur.FetchedAt.Before(e.FetchedAt) {
			c.lru.Add(id, e)
			loaded++
		}
		c.mu.Unlock()
		metrics.IncMirrorPreload("loaded")
	}
	metrics.SetCacheEntries(c.Len())

	c.logger.Info().
		Str(xglog.FieldEvent, "cache.preloaded").
		Int(xglog.FieldEntriesCount, loaded).
		Dur("grace", grace).
		Msg("preloaded durable mirror")
	return loaded, errors.Join(errs...)
}

// Key is the mirror key of a source.
func Key(id string) string { return keyPrefix + id }

type record struct {
	Value     json.RawMessage `json:"value"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

func encodeRecord(e Entry) (string, error) {
	v, err := json.Marshal(e.Value)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	buf, err := json.Marshal(record{Value: v, FetchedAt: e.FetchedAt.UTC()})
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func decodeRecord(id, raw string) (Entry, error) {
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Entry{}, err
	}
	if r.FetchedAt.IsZero() {
		return Entry{}, errors.New("missing fetchedAt")
	}
	var v any
	if len(r.Value) > 0 {
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return Entry{}, fmt.Errorf("decode value: %w", err)
		}
	}
	return Entry{SourceID: id, Value: v, FetchedAt: r.FetchedAt}, nil
}
