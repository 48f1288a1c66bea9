package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/livefeed/internal/clock"
	"github.com/ManuGH/livefeed/internal/mirror"
)

func newTestCache(t *testing.T, opts Options) (*Cache, *clock.Virtual) {
	t.Helper()
	vc := clock.NewVirtual(clock.Epoch)
	opts.Clock = vc
	nop := zerolog.Nop()
	opts.Logger = &nop
	c, err := New(opts)
	require.NoError(t, err)
	return c, vc
}

type failingSink struct {
	mu     sync.Mutex
	stores int
}

func (f *failingSink) Load(context.Context, string) (string, bool, error) {
	return "", false, errors.New("sink down")
}

func (f *failingSink) Store(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	return errors.New("sink down")
}

func (f *failingSink) Close() error { return nil }

func TestPutGetReplaces(t *testing.T) {
	c, vc := newTestCache(t, Options{})
	ctx := context.Background()

	_, ok := c.Get("scores")
	assert.False(t, ok)

	c.Put(ctx, "scores", 1, vc.Now())
	vc.Advance(time.Second)
	c.Put(ctx, "scores", 2, vc.Now())

	e, ok := c.Get("scores")
	require.True(t, ok)
	assert.Equal(t, 2, e.Value)
	assert.Equal(t, "scores", e.SourceID)
	assert.Equal(t, vc.Now(), e.FetchedAt)
	assert.Equal(t, 1, c.Len())

	s := c.Stats()
	assert.Equal(t, int64(2), s.Puts)
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
}

func TestFreshnessIsInclusive(t *testing.T) {
	c, vc := newTestCache(t, Options{})
	c.Put(context.Background(), "odds", "x", vc.Now())

	vc.Advance(30 * time.Second)
	age, ok := c.AgeOf("odds")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, age)
	assert.True(t, c.IsFresh("odds", 30*time.Second))

	vc.Advance(time.Nanosecond)
	assert.False(t, c.IsFresh("odds", 30*time.Second))
	assert.False(t, c.IsFresh("missing", time.Hour))
}

func TestLRUEvictsLeastRecentlyPut(t *testing.T) {
	c, vc := newTestCache(t, Options{MaxEntries: 2})
	ctx := context.Background()

	c.Put(ctx, "a", 1, vc.Now())
	c.Put(ctx, "b", 2, vc.Now())
	// Reads do not refresh recency.
	_, _ = c.Get("a")
	c.Put(ctx, "c", 3, vc.Now())

	_, ok := c.Get("a")
	assert.False(t, ok)
	snap := c.Snapshot()
	assert.Len(t, snap, 2)
	assert.Contains(t, snap, "b")
	assert.Contains(t, snap, "c")
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestSnapshotIsACopy(t *testing.T) {
	c, vc := newTestCache(t, Options{})
	c.Put(context.Background(), "a", 1, vc.Now())
	snap := c.Snapshot()
	delete(snap, "a")
	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestMirrorWriteThroughAndPreload(t *testing.T) {
	sink := mirror.NewMemory()
	c, vc := newTestCache(t, Options{Mirror: sink})
	ctx := context.Background()

	c.Put(ctx, "scores", map[string]any{"home": 2.0, "away": 1.0}, vc.Now())
	raw, ok, err := sink.Load(ctx, Key("scores"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"fetchedAt":"2026-01-01T00:00:00Z"`)

	// A new process sharing the sink.
	vc.Advance(59 * time.Minute)
	restarted, err := New(Options{Mirror: sink, Clock: vc, Logger: ptr(zerolog.Nop())})
	require.NoError(t, err)
	n, err := restarted.Preload(ctx, []string{"scores", "unknown"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e, ok := restarted.Get("scores")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"home": 2.0, "away": 1.0}, e.Value)
	assert.Equal(t, clock.Epoch, e.FetchedAt.UTC())
}

func TestPreloadGraceBoundary(t *testing.T) {
	sink := mirror.NewMemory()
	c, vc := newTestCache(t, Options{Mirror: sink})
	ctx := context.Background()
	c.Put(ctx, "exact", 1, vc.Now())
	vc.Advance(time.Second)
	c.Put(ctx, "young", 2, vc.Now())
	vc.Advance(time.Hour - time.Second)

	fresh, err := New(Options{Mirror: sink, Clock: vc, Logger: ptr(zerolog.Nop())})
	require.NoError(t, err)
	n, err := fresh.Preload(ctx, []string{"exact", "young"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "an entry exactly grace old is kept")

	vc.Advance(time.Nanosecond)
	later, err := New(Options{Mirror: sink, Clock: vc, Logger: ptr(zerolog.Nop())})
	require.NoError(t, err)
	n, err = later.Preload(ctx, []string{"exact", "young"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := later.Get("exact")
	assert.False(t, ok)
}

func TestPreloadSkipsCorruptRecords(t *testing.T) {
	sink := mirror.NewMemory()
	ctx := context.Background()
	require.NoError(t, sink.Store(ctx, Key("bad"), "{not json"))
	require.NoError(t, sink.Store(ctx, Key("nodate"), `{"value":1}`))
	require.NoError(t, sink.Store(ctx, Key("good"),
		fmt.Sprintf(`{"value":"ok","fetchedAt":%q}`, clock.Epoch.Format(time.RFC3339Nano))))

	c, _ := newTestCache(t, Options{Mirror: sink})
	n, err := c.Preload(ctx, []string{"bad", "nodate", "good"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	e, ok := c.Get("good")
	require.True(t, ok)
	assert.Equal(t, "ok", e.Value)
}

func TestPreloadKeepsNewerInMemoryEntry(t *testing.T) {
	sink := mirror.NewMemory()
	c, vc := newTestCache(t, Options{Mirror: sink})
	ctx := context.Background()
	c.Put(ctx, "a", "old", vc.Now())
	vc.Advance(time.Minute)
	// Memory has a newer value than the mirror without writing through.
	c.lru.Add("a", Entry{SourceID: "a", Value: "new", FetchedAt: vc.Now()})

	n, err := c.Preload(ctx, []string{"a"}, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	e, _ := c.Get("a")
	assert.Equal(t, "new", e.Value)
}

func TestMirrorFailuresNeverFailPut(t *testing.T) {
	sink := &failingSink{}
	c, vc := newTestCache(t, Options{Mirror: sink})
	ctx := context.Background()

	c.Put(ctx, "a", 1, vc.Now())
	e, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, e.Value)
	assert.Equal(t, 1, sink.stores)

	_, err := c.Preload(ctx, []string{"a", "b"}, time.Hour)
	require.Error(t, err)
	assert.Equal(t, int64(3), c.Stats().MirrorFailures)
}

// stallingSink blocks every Store until its context ends.
type stallingSink struct {
	mirror.Sink
	err chan error
}

func (s *stallingSink) Store(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	s.err <- context.Cause(ctx)
	return ctx.Err()
}

func TestMirrorWriteThroughDeadlineFollowsClock(t *testing.T) {
	sink := &stallingSink{Sink: mirror.NewMemory(), err: make(chan error, 1)}
	c, vc := newTestCache(t, Options{Mirror: sink, MirrorTimeout: 5 * time.Second})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Put(context.Background(), "a", 1, vc.Now())
	}()

	// Real time alone never releases the store.
	select {
	case <-done:
		t.Fatal("write-through returned before the clock reached its deadline")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, vc.WaitAdvance(5*time.Second, time.Second, 1))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write-through did not end at the clock deadline")
	}

	assert.ErrorIs(t, <-sink.err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), c.Stats().MirrorFailures)
	assert.Zero(t, vc.Pending())
	e, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, e.Value)
}

func TestUnencodableValueCountsAsMirrorFailure(t *testing.T) {
	sink := mirror.NewMemory()
	c, vc := newTestCache(t, Options{Mirror: sink})
	c.Put(context.Background(), "ch", make(chan int), vc.Now())

	_, ok := c.Get("ch")
	assert.True(t, ok)
	assert.Zero(t, sink.Len())
	assert.Equal(t, int64(1), c.Stats().MirrorFailures)
}

func TestPreloadWithoutMirror(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	n, err := c.Preload(context.Background(), []string{"a"}, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentPutGet(t *testing.T) {
	c, vc := newTestCache(t, Options{MaxEntries: 8})
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("src-%d", i)
			for j := 0; j < 100; j++ {
				c.Put(ctx, id, j, vc.Now())
				_, _ = c.Get(id)
				_ = c.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, c.Len())
	for i := 0; i < 8; i++ {
		e, ok := c.Get(fmt.Sprintf("src-%d", i))
		require.True(t, ok)
		assert.Equal(t, 99, e.Value)
	}
}

func ptr[T any](v T) *T { return &v }
