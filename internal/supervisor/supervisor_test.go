package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/livefeed/internal/bus"
	"github.com/ManuGH/livefeed/internal/clock"
	"github.com/ManuGH/livefeed/internal/mirror"
	"github.com/ManuGH/livefeed/internal/online"
	"github.com/ManuGH/livefeed/internal/retry"
	"github.com/ManuGH/livefeed/internal/schedule"
	"github.com/ManuGH/livefeed/internal/upstream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type result struct {
	value any
	err   error
}

// scripted replays results in order and repeats the last one.
type scripted struct {
	mu      sync.Mutex
	clk     clock.Clock
	results []result
	calls   []time.Duration
}

func script(clk clock.Clock, rs ...result) *scripted {
	return &scripted{clk: clk, results: rs}
}

func (s *scripted) Fetch(context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.calls)
	s.calls = append(s.calls, s.clk.Now().Sub(clock.Epoch))
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i].value, s.results[i].err
}

func (s *scripted) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

func ok(v any) result { return result{value: v} }

func fail(err error) result { return result{err: err} }

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) handle(ev bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Event(nil), r.events...)
}

func (r *recorder) phases() []bus.Phase {
	var out []bus.Phase
	for _, ev := range r.all() {
		if st, ok := ev.(bus.StatusEvent); ok {
			out = append(out, st.Phase)
		}
	}
	return out
}

func (r *recorder) values() []any {
	var out []any
	for _, ev := range r.all() {
		if u, ok := ev.(bus.UpdateEvent); ok {
			out = append(out, u.Value)
		}
	}
	return out
}

func (r *recorder) errorEvents() []bus.ErrorEvent {
	var out []bus.ErrorEvent
	for _, ev := range r.all() {
		if e, ok := ev.(bus.ErrorEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

func newSupervisor(t *testing.T, vc *clock.Virtual, mutate func(*Config), sources ...SourceConfig) *Supervisor {
	t.Helper()
	nop := zerolog.Nop()
	cfg := Config{Sources: sources, Clock: vc, Logger: &nop}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func every(d time.Duration) schedule.Schedule { return schedule.FixedInterval(d) }

func subscribe(t *testing.T, s *Supervisor, channel string) *recorder {
	t.Helper()
	r := &recorder{}
	_, err := s.Subscribe(channel, r.handle)
	require.NoError(t, err)
	return r
}

func TestNewValidation(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	f := upstream.FetcherFunc(func(context.Context) (any, error) { return nil, nil })

	_, err := New(Config{Clock: vc})
	assert.ErrorIs(t, err, ErrNoSources)

	_, err = New(Config{Clock: vc, Sources: []SourceConfig{
		{ID: "a", Schedule: every(time.Second), Fetcher: f},
		{ID: "a", Schedule: every(time.Second), Fetcher: f},
	}})
	assert.ErrorIs(t, err, ErrDuplicateSource)

	_, err = New(Config{Clock: vc, Sources: []SourceConfig{{ID: "a", Schedule: every(0), Fetcher: f}}})
	assert.Error(t, err)

	_, err = New(Config{Clock: vc, Sources: []SourceConfig{{ID: "a", Schedule: every(time.Second)}}})
	assert.Error(t, err)
}

func TestLifecycleErrors(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	s := newSupervisor(t, vc, nil, SourceConfig{ID: "a", Schedule: every(time.Second), Fetcher: script(vc, ok(1))})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stop is idempotent")
	assert.ErrorIs(t, s.Start(ctx), ErrStopped)
	assert.ErrorIs(t, s.Reconfigure(ctx, []SourceConfig{{ID: "b", Schedule: every(time.Second), Fetcher: script(vc, ok(1))}}), ErrStopped)
	_, err := s.Subscribe(bus.StatusChannel, func(bus.Event) {})
	assert.ErrorIs(t, err, bus.ErrClosed)
}

// Scenario: happy path.
func TestScenarioHappyPath(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	s := newSupervisor(t, vc, nil, SourceConfig{
		ID: "A", Schedule: every(10 * time.Second),
		Fetcher: script(vc, ok("v1"), ok("v2"), ok("v3")),
	})
	updates := subscribe(t, s, bus.UpdateChannel("A"))
	status := subscribe(t, s, bus.StatusChannel)

	require.NoError(t, s.Start(context.Background()))
	vc.Advance(0)
	vc.Advance(10 * time.Second)
	vc.Advance(10 * time.Second)
	vc.Advance(5 * time.Second)

	var got []bus.UpdateEvent
	for _, ev := range updates.all() {
		got = append(got, ev.(bus.UpdateEvent))
	}
	want := []bus.UpdateEvent{
		{SourceID: "A", Value: "v1", FetchedAt: clock.Epoch},
		{SourceID: "A", Value: "v2", FetchedAt: clock.Epoch.Add(10 * time.Second)},
		{SourceID: "A", Value: "v3", FetchedAt: clock.Epoch.Add(20 * time.Second)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("updates mismatch (-want +got):\n%s", diff)
	}

	cur, found := s.GetCurrent("A")
	require.True(t, found)
	assert.Equal(t, "v3", cur.Value)
	assert.Equal(t, []bus.Phase{bus.PhaseStarting, bus.PhaseLive}, status.phases())
	assert.True(t, s.Fresh("A"))
	assert.False(t, s.Fresh("nope"))
}

// Scenario: retry then success.
func TestScenarioRetryThenSuccess(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	netErr := upstream.Fail(upstream.KindNetwork, "reset by peer")
	f := script(vc, fail(netErr), fail(netErr), ok("ok"))
	s := newSupervisor(t, vc, nil, SourceConfig{ID: "B", Schedule: every(30 * time.Second), Fetcher: f})
	updates := subscribe(t, s, bus.UpdateChannel("B"))
	errs := subscribe(t, s, bus.ErrorChannel("B"))

	require.NoError(t, s.Start(context.Background()))
	vc.Advance(0)
	st := s.GetStatus()
	require.Len(t, st.PerSource, 1)
	assert.Equal(t, 1, st.PerSource[0].Attempt)
	require.NotNil(t, st.PerSource[0].LastErrorKind)
	assert.Equal(t, upstream.KindNetwork, *st.PerSource[0].LastErrorKind)

	vc.Advance(3 * time.Second)
	assert.Equal(t, []any{"ok"}, updates.values())
	assert.Empty(t, errs.all())
	assert.Len(t, f.Calls(), 3)

	st = s.GetStatus()
	assert.Zero(t, st.PerSource[0].Attempt)
	assert.Nil(t, st.PerSource[0].LastErrorKind)
	assert.Equal(t, bus.PhaseLive, st.Phase)
}

// Scenario: give up.
func TestScenarioGiveUp(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	f := script(vc, fail(upstream.HTTPStatus(404)))
	s := newSupervisor(t, vc, nil, SourceConfig{ID: "C", Schedule: every(30 * time.Second), Fetcher: f})
	errs := subscribe(t, s, bus.ErrorChannel("C"))

	require.NoError(t, s.Start(context.Background()))
	vc.Advance(0)

	got := errs.errorEvents()
	require.Len(t, got, 1)
	assert.Equal(t, upstream.KindHTTPStatus, got[0].Kind)
	assert.Equal(t, "404", got[0].Detail)
	assert.Equal(t, 1, got[0].Attempt)
	assert.Equal(t, []time.Duration{0}, f.Calls())

	st := s.GetStatus()
	require.NotNil(t, st.PerSource[0].NextFireAt)
	assert.Equal(t, clock.Epoch.Add(30*time.Second), *st.PerSource[0].NextFireAt)

	vc.Advance(30 * time.Second)
	assert.Equal(t, []time.Duration{0, 30 * time.Second}, f.Calls())
}

// Scenario: subscriber isolation.
func TestScenarioSubscriberIsolation(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	s := newSupervisor(t, vc, nil, SourceConfig{ID: "A", Schedule: every(10 * time.Second), Fetcher: script(vc, ok("v1"))})
	_, err := s.Subscribe(bus.UpdateChannel("A"), func(bus.Event) { panic("bad subscriber") })
	require.NoError(t, err)
	second := subscribe(t, s, bus.UpdateChannel("A"))
	status := subscribe(t, s, bus.StatusChannel)

	require.NoError(t, s.Start(context.Background()))
	vc.Advance(0)

	assert.Equal(t, []any{"v1"}, second.values())
	faults := status.errorEvents()
	require.Len(t, faults, 1)
	assert.Equal(t, upstream.KindSubscriberFault, faults[0].Kind)
	assert.Equal(t, "A", faults[0].SourceID)
}

// Scenario: offline / online.
func TestScenarioOfflineOnline(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	sig := online.NewManual(true)
	fa := script(vc, ok("a"))
	fb := script(vc, ok("b"))
	s := newSupervisor(t, vc, func(c *Config) { c.Online = sig },
		SourceConfig{ID: "A", Schedule: every(10 * time.Second), Fetcher: fa},
		SourceConfig{ID: "B", Schedule: every(10 * time.Second), Fetcher: fb},
	)
	status := subscribe(t, s, bus.StatusChannel)

	require.NoError(t, s.Start(context.Background()))
	vc.Advance(0)
	vc.Advance(5 * time.Second)

	sig.Set(false)
	assert.Equal(t, bus.PhaseOffline, s.Phase())
	assert.Zero(t, vc.Pending(), "all timers cancelled")

	vc.Advance(95 * time.Second)
	assert.Equal(t, []time.Duration{0}, fa.Calls(), "no fetches while offline")
	assert.Equal(t, []time.Duration{0}, fb.Calls())

	sig.Set(true)
	vc.Advance(0)
	assert.Equal(t, []time.Duration{0, 100 * time.Second}, fa.Calls())
	assert.Equal(t, []time.Duration{0, 100 * time.Second}, fb.Calls())

	assert.Equal(t, []bus.Phase{
		bus.PhaseStarting, bus.PhaseLive, bus.PhaseOffline, bus.PhaseDegraded, bus.PhaseLive,
	}, status.phases())
}

// Scenario: durable restart.
func TestScenarioDurableRestart(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	sink := mirror.NewMemory()
	withMirror := func(c *Config) {
		c.Mirror = sink
		c.DurableGrace = time.Hour
	}

	a := newSupervisor(t, vc, withMirror, SourceConfig{ID: "D", Schedule: every(time.Minute), Fetcher: script(vc, ok("x"))})
	require.NoError(t, a.Start(context.Background()))
	vc.Advance(0)
	vc.Advance(5 * time.Second)
	require.NoError(t, a.Stop(context.Background()))

	vc.Advance(5 * time.Second)
	b := newSupervisor(t, vc, withMirror, SourceConfig{ID: "D", Schedule: every(time.Minute), Fetcher: script(vc, ok("y"))})
	require.NoError(t, b.Start(context.Background()))

	cur, found := b.GetCurrent("D")
	require.True(t, found)
	assert.Equal(t, "x", cur.Value)
	assert.Equal(t, clock.Epoch, cur.FetchedAt.UTC())

	st := b.GetStatus()
	require.NotNil(t, st.PerSource[0].LastFetchedAt)
	assert.Equal(t, clock.Epoch, st.PerSource[0].LastFetchedAt.UTC())
}

func TestFirstPassWithoutSuccessIsDegraded(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	s := newSupervisor(t, vc, nil,
		SourceConfig{ID: "A", Schedule: every(10 * time.Second), Fetcher: script(vc, fail(upstream.HTTPStatus(404)))},
		SourceConfig{ID: "B", Schedule: every(10 * time.Second), Fetcher: script(vc, fail(upstream.Fail(upstream.KindParse, "bad json")), ok("b"))},
	)
	status := subscribe(t, s, bus.StatusChannel)

	require.NoError(t, s.Start(context.Background()))
	vc.Advance(0)
	assert.Equal(t, []bus.Phase{bus.PhaseStarting, bus.PhaseDegraded}, status.phases())

	vc.Advance(10 * time.Second)
	assert.Equal(t, bus.PhaseLive, s.Phase())
}

func TestLiveDegradesWithoutRecentSuccess(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	s := newSupervisor(t, vc, nil, SourceConfig{
		ID:       "A",
		Schedule: every(10 * time.Second),
		Retry:    retry.Policy{MaxAttempts: 1},
		Fetcher:  script(vc, ok("v"), fail(upstream.HTTPStatus(503))),
	})
	require.NoError(t, s.Start(context.Background()))
	vc.Advance(0)
	vc.Advance(20 * time.Second)
	assert.Equal(t, bus.PhaseLive, s.Phase(), "last success exactly 2x the interval ago")

	vc.Advance(10 * time.Second)
	assert.Equal(t, bus.PhaseDegraded, s.Phase())
}

func TestStartWhileOffline(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	f := script(vc, ok(1))
	sig := online.NewManual(false)
	s := newSupervisor(t, vc, func(c *Config) { c.Online = sig }, SourceConfig{ID: "A", Schedule: every(time.Second), Fetcher: f})

	require.NoError(t, s.Start(context.Background()))
	vc.Advance(time.Minute)
	assert.Empty(t, f.Calls())
	assert.Equal(t, bus.PhaseOffline, s.Phase())

	sig.Set(true)
	vc.Advance(0)
	assert.Len(t, f.Calls(), 1)
	assert.Equal(t, bus.PhaseLive, s.Phase())
}

func TestNoEventsAfterStop(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	s := newSupervisor(t, vc, nil,
		SourceConfig{ID: "A", Schedule: every(time.Second), Fetcher: script(vc, ok(1))},
		SourceConfig{ID: "B", Schedule: every(time.Second), Fetcher: script(vc, fail(upstream.HTTPStatus(500)))},
	)
	all := subscribe(t, s, bus.Wildcard)
	require.NoError(t, s.Start(context.Background()))
	vc.Advance(5 * time.Second)

	require.NoError(t, s.Stop(context.Background()))
	n := len(all.all())
	last := all.all()[n-1]
	assert.Equal(t, bus.PhaseStopped, last.(bus.StatusEvent).Phase)

	vc.Advance(time.Hour)
	assert.Len(t, all.all(), n)
	assert.Zero(t, vc.Pending())
	assert.Equal(t, bus.PhaseStopped, s.GetStatus().Phase)
	for _, ps := range s.GetStatus().PerSource {
		assert.Equal(t, "Stopped", ps.State)
	}
}

func TestFetchedAtIsNonDecreasingAndOneEntryPerSource(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	sources := []SourceConfig{
		{ID: "A", Schedule: every(3 * time.Second), Fetcher: script(vc, ok(1))},
		{ID: "B", Schedule: every(7 * time.Second), Fetcher: script(vc, ok(2))},
	}
	s := newSupervisor(t, vc, nil, sources...)
	all := subscribe(t, s, bus.Wildcard)
	require.NoError(t, s.Start(context.Background()))
	vc.Advance(time.Minute)

	last := map[string]time.Time{}
	for _, ev := range all.all() {
		u, isUpdate := ev.(bus.UpdateEvent)
		if !isUpdate {
			continue
		}
		assert.False(t, u.FetchedAt.Before(last[u.SourceID]))
		last[u.SourceID] = u.FetchedAt
	}
	assert.Len(t, s.GetAllCurrent(), 2)
	assert.Equal(t, last["A"], s.GetAllCurrent()["A"].FetchedAt)
}

func TestSameInstantTicksFollowConfigurationOrder(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	var mu sync.Mutex
	var order []string
	fetch := func(id string) upstream.Fetcher {
		return upstream.FetcherFunc(func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return id, nil
		})
	}
	s := newSupervisor(t, vc, nil,
		SourceConfig{ID: "first", Schedule: every(time.Second), Fetcher: fetch("first")},
		SourceConfig{ID: "second", Schedule: every(time.Second), Fetcher: fetch("second")},
	)
	require.NoError(t, s.Start(context.Background()))
	vc.Advance(0)
	vc.Advance(time.Second)
	assert.Equal(t, []string{"first", "second", "first", "second"}, order)
}

func TestReconfigureKeepsCacheAndSubscribers(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	fa := script(vc, ok("a"))
	s := newSupervisor(t, vc, nil, SourceConfig{ID: "A", Schedule: every(10 * time.Second), Fetcher: fa})
	all := subscribe(t, s, bus.Wildcard)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	vc.Advance(0)

	fb := script(vc, ok("b"))
	require.NoError(t, s.Reconfigure(ctx, []SourceConfig{{ID: "B", Schedule: every(10 * time.Second), Fetcher: fb}}))
	vc.Advance(0)
	vc.Advance(10 * time.Second)

	assert.Len(t, fa.Calls(), 1, "old source stopped")
	assert.Len(t, fb.Calls(), 2)
	assert.Equal(t, []any{"a", "b", "b"}, all.values())
	_, stillCached := s.GetCurrent("A")
	assert.True(t, stillCached)
	assert.Equal(t, []SourceInfo{{ID: "B", Schedule: "every 10s", Staleness: 20 * time.Second}}, s.Sources())

	err := s.Reconfigure(ctx, nil)
	assert.ErrorIs(t, err, ErrNoSources)
	assert.Len(t, s.Sources(), 1, "invalid reconfiguration keeps the running set")
}

func TestReconfigureRacingStopLeavesNothingRunning(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	s := newSupervisor(t, vc, nil, SourceConfig{ID: "A", Schedule: every(10 * time.Second), Fetcher: script(vc, ok("a"))})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	vc.Advance(0)

	s.beforeSwap = func() { require.NoError(t, s.Stop(ctx)) }
	fb := script(vc, ok("b"))
	err := s.Reconfigure(ctx, []SourceConfig{{ID: "B", Schedule: every(10 * time.Second), Fetcher: fb}})
	assert.ErrorIs(t, err, ErrStopped)

	assert.Zero(t, vc.Pending(), "no timer outlives the stop")
	vc.Advance(time.Minute)
	assert.Empty(t, fb.Calls())
	assert.Equal(t, bus.PhaseStopped, s.Phase())
}

func TestPerSourceOverridesInherit(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	netErr := upstream.Fail(upstream.KindNetwork, "x")
	f := script(vc, fail(netErr))
	s := newSupervisor(t, vc, func(c *Config) {
		c.Retry = retry.Policy{Base: 2 * time.Second, MaxAttempts: 5, Jitter: retry.NoJitter}
	}, SourceConfig{
		ID: "A", Schedule: every(time.Hour), Fetcher: f,
		Retry: retry.Policy{MaxAttempts: 2},
	})
	require.NoError(t, s.Start(context.Background()))
	vc.Advance(10 * time.Second)
	assert.Equal(t, []time.Duration{0, 2 * time.Second}, f.Calls())
}

func TestStatusEventCarriesCounts(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	s := newSupervisor(t, vc, nil, SourceConfig{ID: "A", Schedule: every(time.Second), Fetcher: script(vc, ok(1))})
	status := subscribe(t, s, bus.StatusChannel)
	require.NoError(t, s.Start(context.Background()))
	vc.Advance(0)

	evs := status.all()
	require.Len(t, evs, 2)
	live := evs[1].(bus.StatusEvent)
	assert.Equal(t, bus.PhaseLive, live.Phase)
	assert.Equal(t, 1, live.ActiveSources)
	assert.Equal(t, 1, live.SubscriberCount)
	assert.Equal(t, clock.Epoch, live.Timestamp)
}

func TestCircuitBreakerConfigured(t *testing.T) {
	vc := clock.NewVirtual(clock.Epoch)
	f := script(vc, fail(upstream.HTTPStatus(400)))
	s := newSupervisor(t, vc, nil, SourceConfig{
		ID: "A", Schedule: every(time.Second), Fetcher: f,
		Breaker: &BreakerConfig{Threshold: 2, Reset: time.Minute},
	})
	errs := subscribe(t, s, bus.ErrorChannel("A"))
	require.NoError(t, s.Start(context.Background()))
	vc.Advance(5 * time.Second)

	assert.Len(t, f.Calls(), 2)
	assert.Len(t, errs.errorEvents(), 6)
	assert.Equal(t, "circuit open", errs.errorEvents()[5].Detail)
}
