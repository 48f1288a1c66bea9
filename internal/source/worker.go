// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package source runs the refresh cycle of one upstream feed: tick on its
// schedule, fetch with a per-attempt timeout, retry per policy, and publish
// the result into the cache and the bus.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/livefeed/internal/bus"
	"github.com/ManuGH/livefeed/internal/cache"
	"github.com/ManuGH/livefeed/internal/clock"
	xglog "github.com/ManuGH/livefeed/internal/log"
	"github.com/ManuGH/livefeed/internal/metrics"
	"github.com/ManuGH/livefeed/internal/resilience"
	"github.com/ManuGH/livefeed/internal/retry"
	"github.com/ManuGH/livefeed/internal/schedule"
	"github.com/ManuGH/livefeed/internal/upstream"
)

// DefaultTimeout bounds one fetch attempt.
const DefaultTimeout = 10 * time.Second

var (
	errAttemptTimeout = errors.New("attempt timed out")
	errStopped        = errors.New("worker stopped")
	errPaused         = errors.New("worker paused")
)

// Config describes one source.
type Config struct {
	ID       string
	Schedule schedule.Schedule
	Timeout  time.Duration
	Retry    retry.Policy
	Fetcher  upstream.Fetcher
	Breaker  *resilience.CircuitBreaker // optional
}

// Deps are the collaborators shared by all workers of a supervisor.
type Deps struct {
	Clock     clock.Clock
	Cache     *cache.Cache
	Bus       *bus.Bus
	OnOutcome func(Outcome) // optional; called outside the worker's locks
	Logger    *zerolog.Logger
	Tracer    trace.Tracer
}

// Worker owns the refresh cycle of one source. At most one fetch of the
// source is in flight at any time.
type Worker struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	sem chan struct{} // held by the goroutine running Fetcher.Fetch
	wg  sync.WaitGroup

	mu          sync.Mutex
	ctx         context.Context
	gen         uint64 // bumped by Start, Pause, Resume and Stop; stale timers compare it
	state       State
	paused      bool
	stopped     bool
	started     bool
	attempt     int
	tickStart   time.Time
	lastFetched time.Time
	lastErr     *upstream.Error
	nextFireAt  time.Time
	timer       clock.Handle
	cancelFetch context.CancelCauseFunc
}

// New validates cfg and returns an idle worker.
func New(cfg Config, deps Deps) (*Worker, error) {
	if cfg.ID == "" {
		return nil, errors.New("source: empty id")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("source %s: nil fetcher", cfg.ID)
	}
	if err := schedule.Validate(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.ID, err)
	}
	if deps.Clock == nil || deps.Cache == nil || deps.Bus == nil {
		return nil, fmt.Errorf("source %s: clock, cache and bus are required", cfg.ID)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Retry = cfg.Retry.WithDefaults()
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/ManuGH/livefeed/internal/source")
	}

	base := xglog.WithComponent("source")
	if deps.Logger != nil {
		base = deps.Logger.With().Str(xglog.FieldComponent, "source").Logger()
	}

	return &Worker{
		cfg:   cfg,
		deps:  deps,
		log:   base.With().Str(xglog.FieldSourceID, cfg.ID).Logger(),
		sem:   make(chan struct{}, 1),
		state: StateIdle,
	}, nil
}

// ID returns the source id.
func (w *Worker) ID() string { return w.cfg.ID }

// Start schedules the first tick immediately. Fetches run under ctx.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	w.ctx = xglog.ContextWithSourceID(ctx, w.cfg.ID)
	w.gen++
	w.scheduleLocked(0, w.gen, true)
}

// Stop cancels the pending timer and any in-flight fetch, then waits for the
// running action to return. No event is published by the worker afterwards.
// It must not be called from a bus handler.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.gen++
	w.clearLocked(errStopped)
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	w.setStateLocked(StateStopped)
	w.mu.Unlock()
}

// Pause cancels the pending timer and any in-flight fetch but keeps the
// attempt count and backoff state.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.paused || !w.started {
		return
	}
	w.paused = true
	w.gen++
	w.clearLocked(errPaused)
	if w.state == StateFetching || w.state == StatePublishing {
		if w.attempt > 0 {
			w.setStateLocked(StateBackoff)
		} else {
			w.setStateLocked(StateWaitingNext)
		}
	}
	w.log.Info().Str(xglog.FieldEvent, "source.paused").Str("state", string(w.state)).Msg("source paused")
}

// Resume fires immediately. A worker paused between retries continues its
// attempt count; otherwise a new tick starts.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || !w.paused {
		return
	}
	w.paused = false
	w.gen++
	newTick := w.state != StateBackoff
	w.scheduleLocked(0, w.gen, newTick)
	w.log.Info().Str(xglog.FieldEvent, "source.resumed").Bool("new_tick", newTick).Msg("source resumed")
}

// Snapshot returns the worker's current state.
func (w *Worker) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		SourceID:      w.cfg.ID,
		State:         w.state,
		Paused:        w.paused,
		LastFetchedAt: w.lastFetched,
		LastError:     w.lastErr,
		Attempt:       w.attempt,
		NextFireAt:    w.nextFireAt,
	}
}

// scheduleLocked arms the timer. Caller must hold w.mu.
func (w *Worker) scheduleLocked(delay time.Duration, gen uint64, newTick bool) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.nextFireAt = w.deps.Clock.Now().Add(delay)
	w.timer = w.deps.Clock.Schedule(delay, func() { w.fire(gen, newTick) })
}

// clearLocked drops the timer and cancels the in-flight attempt.
func (w *Worker) clearLocked(cause error) {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.nextFireAt = time.Time{}
	if w.cancelFetch != nil {
		w.cancelFetch(cause)
		w.cancelFetch = nil
	}
}

func (w *Worker) setStateLocked(s State) {
	if w.state == s {
		return
	}
	w.log.Debug().
		Str(xglog.FieldOldState, string(w.state)).
		Str(xglog.FieldNewState, string(s)).
		Msg("source state changed")
	w.state = s
}

// fire starts one attempt. It is the only place a fetch starts.
func (w *Worker) fire(gen uint64, newTick bool) {
	w.mu.Lock()
	if gen != w.gen || w.stopped || w.paused {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	defer w.wg.Done()

	now := w.deps.Clock.Now()
	w.timer = nil
	w.nextFireAt = time.Time{}
	if newTick {
		w.tickStart = now
		w.attempt = 0
		if br := w.cfg.Breaker; br != nil {
			if err := br.Allow(); err != nil {
				w.mu.Unlock()
				w.circuitOpen(gen)
				return
			}
		}
	}

	ctx, cancel := context.WithCancelCause(w.ctx)
	w.cancelFetch = cancel
	w.setStateLocked(StateFetching)
	attempt := w.attempt + 1
	w.wg.Add(1)
	w.mu.Unlock()

	// The attempt leaves the clock's goroutine so the timeout alarm can fire.
	timeout := w.deps.Clock.Schedule(w.cfg.Timeout, func() { cancel(errAttemptTimeout) })
	clock.Go(w.deps.Clock, func() {
		defer w.wg.Done()
		defer cancel(nil)
		w.runAttempt(ctx, gen, attempt, now, timeout)
	})
}

// runAttempt fetches once and hands the result to succeed or fail.
func (w *Worker) runAttempt(ctx context.Context, gen uint64, attempt int, startedAt time.Time, timeout clock.Handle) {
	value, uerr := w.fetch(ctx, attempt)
	timeout.Stop()

	finishedAt := w.deps.Clock.Now()
	elapsed := finishedAt.Sub(startedAt)

	if uerr == nil {
		metrics.RecordFetch(w.cfg.ID, "ok", elapsed)
		w.succeed(gen, value, startedAt, finishedAt)
		return
	}
	metrics.RecordFetch(w.cfg.ID, string(uerr.Kind), elapsed)
	w.fail(gen, uerr)
}

// fetch calls the fetcher on its own goroutine so a fetcher that ignores ctx
// cannot hold the worker past cancellation.
func (w *Worker) fetch(ctx context.Context, attempt int) (any, *upstream.Error) {
	ctx, span := w.deps.Tracer.Start(ctx, "source.fetch", trace.WithAttributes(
		attribute.String("source.id", w.cfg.ID),
		attribute.Int("source.attempt", attempt),
	))
	defer span.End()

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		uerr := w.cancelled(ctx)
		span.SetStatus(codes.Error, uerr.Error())
		return nil, uerr
	}

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-w.sem }()
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: upstream.Fail(upstream.KindUnavailable, fmt.Sprintf("fetcher panicked: %v", r))}
			}
		}()
		v, err := w.cfg.Fetcher.Fetch(ctx)
		done <- result{value: v, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = result{err: ctx.Err()}
	}
	if res.err == nil {
		span.SetStatus(codes.Ok, "")
		return res.value, nil
	}

	var uerr *upstream.Error
	if ctx.Err() != nil {
		uerr = w.cancelled(ctx)
	} else {
		uerr = upstream.Classify(res.err)
	}
	span.RecordError(uerr)
	span.SetStatus(codes.Error, string(uerr.Kind))
	return nil, uerr
}

// cancelled maps the cancellation cause of an attempt onto the taxonomy.
func (w *Worker) cancelled(ctx context.Context) *upstream.Error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errAttemptTimeout):
		return &upstream.Error{
			Kind:   upstream.KindTimeout,
			Detail: fmt.Sprintf("no response within %s", w.cfg.Timeout),
			Err:    context.DeadlineExceeded,
		}
	case errors.Is(cause, context.DeadlineExceeded):
		return upstream.Wrap(upstream.KindTimeout, cause)
	default:
		return upstream.Wrap(upstream.KindCancelled, cause)
	}
}

func (w *Worker) succeed(gen uint64, value any, startedAt, fetchedAt time.Time) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.cancelFetch = nil
	w.setStateLocked(StatePublishing)
	w.attempt = 0
	w.lastErr = nil
	w.lastFetched = fetchedAt
	ctx := w.ctx
	w.mu.Unlock()

	w.deps.Cache.Put(ctx, w.cfg.ID, value, fetchedAt)
	metrics.SetLastSuccess(w.cfg.ID, fetchedAt)
	if br := w.cfg.Breaker; br != nil {
		br.RecordSuccess()
	}

	rt := fetchedAt.Sub(startedAt)
	w.publish(bus.UpdateChannel(w.cfg.ID), bus.UpdateEvent{
		SourceID:       w.cfg.ID,
		Value:          value,
		FetchedAt:      fetchedAt,
		ResponseTimeMs: rt.Milliseconds(),
	})
	w.log.Debug().
		Str(xglog.FieldEvent, "source.fetch_ok").
		Int64(xglog.FieldResponseMS, rt.Milliseconds()).
		Msg("fetched")

	w.outcome(true, fetchedAt)
	w.waitNext(gen)
}

func (w *Worker) fail(gen uint64, uerr *upstream.Error) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.cancelFetch = nil
	w.attempt++
	attempt := w.attempt
	w.lastErr = uerr
	decision := w.cfg.Retry.Decide(attempt, uerr)

	switch decision.Action {
	case retry.Retry:
		w.setStateLocked(StateBackoff)
		w.scheduleLocked(decision.Delay, gen, false)
		next := w.nextFireAt
		w.mu.Unlock()

		metrics.RecordRetry(w.cfg.ID)
		w.log.Debug().
			Str(xglog.FieldEvent, "source.retry").
			Str(xglog.FieldErrorKind, string(uerr.Kind)).
			Int(xglog.FieldAttempt, attempt).
			Dur(xglog.FieldBackoff, decision.Delay).
			Time(xglog.FieldNextFireAt, next).
			Msg("attempt failed, backing off")
		return

	case retry.GiveUpSilently:
		w.mu.Unlock()
		if br := w.cfg.Breaker; br != nil {
			br.Release()
		}
		w.log.Debug().Str(xglog.FieldEvent, "source.cancelled").Msg("attempt cancelled")
		w.waitNext(gen)
		return
	}

	w.setStateLocked(StateFailed)
	next := w.nextTickLocked()
	w.mu.Unlock()

	if br := w.cfg.Breaker; br != nil {
		br.RecordFailure()
	}
	metrics.RecordGiveUp(w.cfg.ID, string(uerr.Kind))
	w.log.Warn().
		Str(xglog.FieldEvent, "source.gave_up").
		Str(xglog.FieldErrorKind, string(uerr.Kind)).
		Int(xglog.FieldAttempt, attempt).
		Time(xglog.FieldNextFireAt, next).
		Err(uerr).
		Msg("giving up on this tick")

	w.publish(bus.ErrorChannel(w.cfg.ID), bus.ErrorEvent{
		SourceID:    w.cfg.ID,
		Kind:        uerr.Kind,
		Detail:      detailOf(uerr),
		Attempt:     attempt,
		WillRetryAt: &next,
	})
	w.outcome(false, w.deps.Clock.Now())
	w.waitNext(gen)
}

// circuitOpen ends a tick without fetching.
func (w *Worker) circuitOpen(gen uint64) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.lastErr = upstream.Fail(upstream.KindUnavailable, "circuit open")
	next := w.nextTickLocked()
	w.mu.Unlock()

	metrics.RecordGiveUp(w.cfg.ID, string(upstream.KindUnavailable))
	w.log.Debug().Str(xglog.FieldEvent, "source.circuit_open").Msg("circuit open, skipping fetch")
	w.publish(bus.ErrorChannel(w.cfg.ID), bus.ErrorEvent{
		SourceID:    w.cfg.ID,
		Kind:        upstream.KindUnavailable,
		Detail:      "circuit open",
		WillRetryAt: &next,
	})
	w.outcome(false, w.deps.Clock.Now())
	w.waitNext(gen)
}

func (w *Worker) nextTickLocked() time.Time {
	return w.cfg.Schedule.Next(w.tickStart, w.deps.Clock.Now())
}

// waitNext schedules the next tick unless the worker was stopped or paused
// meanwhile.
func (w *Worker) waitNext(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		return
	}
	now := w.deps.Clock.Now()
	w.setStateLocked(StateWaitingNext)
	w.scheduleLocked(w.cfg.Schedule.Next(w.tickStart, now).Sub(now), gen, true)
}

func (w *Worker) publish(channel string, ev bus.Event) {
	if err := w.deps.Bus.Publish(channel, ev); err != nil && !errors.Is(err, bus.ErrClosed) {
		w.log.Error().Err(err).Str(xglog.FieldChannel, channel).Msg("publish failed")
	}
}

func (w *Worker) outcome(ok bool, at time.Time) {
	if w.deps.OnOutcome != nil {
		w.deps.OnOutcome(Outcome{SourceID: w.cfg.ID, OK: ok, At: at})
	}
}

// detailOf is the human readable part of an error event. For HTTP failures
// it is the status code.
func detailOf(e *upstream.Error) string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}
