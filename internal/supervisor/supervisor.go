// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor owns the lifecycle of every source worker, the shared
// cache and the bus, and derives the aggregate phase from worker outcomes and
// the online signal.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/livefeed/internal/bus"
	"github.com/ManuGH/livefeed/internal/cache"
	xglog "github.com/ManuGH/livefeed/internal/log"
	"github.com/ManuGH/livefeed/internal/metrics"
	"github.com/ManuGH/livefeed/internal/resilience"
	"github.com/ManuGH/livefeed/internal/source"
)

type member struct {
	cfg    SourceConfig
	worker *source.Worker
}

// Supervisor is safe for concurrent use. Its methods must not be called from
// a bus handler, except the read-only subscriber API.
type Supervisor struct {
	cfg    Config
	cache  *cache.Cache
	bus    *bus.Bus
	logger zerolog.Logger

	mu      sync.Mutex
	members []*member
	byID    map[string]*member
	started bool
	stopped bool
	runCtx  context.Context
	cancel  context.CancelFunc
	unwatch func()

	beforeSwap func() // runs after Reconfigure stopped the old set; tests only

	// statusMu serializes phase transitions together with their publication.
	statusMu    sync.Mutex
	offline     bool
	anySuccess  bool
	lastSuccess time.Time
	firstDone   map[string]bool
	maxSchedule time.Duration
	sealed      bool

	phase  atomic.Value // bus.Phase
	active atomic.Int64
	runID  string
}

// New validates cfg and builds the cache, the bus and one worker per source.
func New(cfg Config) (*Supervisor, error) {
	if err := validateSources(cfg.Sources); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	logger := xglog.WithComponent("supervisor")
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str(xglog.FieldComponent, "supervisor").Logger()
	}

	c, err := cache.New(cache.Options{
		MaxEntries: cfg.MaxEntries,
		Mirror:     cfg.Mirror,
		Clock:      cfg.Clock,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:       cfg,
		cache:     c,
		bus:       bus.New(),
		logger:    logger,
		firstDone: make(map[string]bool),
		runID:     uuid.NewString(),
	}
	s.phase.Store(bus.PhaseStarting)

	members, err := s.build(cfg.Sources)
	if err != nil {
		return nil, err
	}
	s.setMembers(members)
	return s, nil
}

func (s *Supervisor) build(sources []SourceConfig) ([]*member, error) {
	out := make([]*member, 0, len(sources))
	for _, sc := range sources {
		wc := source.Config{
			ID:       sc.ID,
			Schedule: sc.Schedule,
			Timeout:  sc.Timeout,
			Retry:    s.cfg.Retry.Override(sc.Retry),
			Fetcher:  sc.Fetcher,
		}
		if wc.Timeout <= 0 {
			wc.Timeout = s.cfg.Timeout
		}
		if sc.Breaker != nil {
			wc.Breaker = resilience.NewCircuitBreaker(sc.ID, sc.Breaker.Threshold, sc.Breaker.Reset, s.cfg.Clock)
		}
		w, err := source.New(wc, source.Deps{
			Clock:     s.cfg.Clock,
			Cache:     s.cache,
			Bus:       s.bus,
			OnOutcome: s.onOutcome,
			Logger:    s.cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, &member{cfg: sc, worker: w})
	}
	return out, nil
}

// setMembers replaces the member set. Caller must not hold statusMu.
// setMembers installs members unless the supervisor has stopped.
func (s *Supervisor) setMembers(members []*member) bool {
	byID := make(map[string]*member, len(members))
	var maxSched time.Duration
	for _, m := range members {
		byID[m.cfg.ID] = m
		if d := m.cfg.Schedule.Max(); d > maxSched {
			maxSched = d
		}
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.members = members
	s.byID = byID
	s.mu.Unlock()

	s.statusMu.Lock()
	s.maxSchedule = maxSched
	s.firstDone = make(map[string]bool)
	s.statusMu.Unlock()
	return true
}

// Start preloads the durable mirror, publishes Starting and starts every
// worker in configuration order.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	ctx = xglog.ContextWithRunID(ctx, s.runID)
	s.runCtx, s.cancel = context.WithCancel(ctx)
	members := append([]*member(nil), s.members...)
	s.mu.Unlock()

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.cfg.ID
	}
	n, err := s.cache.Preload(ctx, ids, s.cfg.DurableGrace)
	if err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "supervisor.preload_partial").Msg("durable mirror preload incomplete")
	}

	s.active.Store(int64(len(members)))
	metrics.SetActiveSources(len(members))
	s.statusMu.Lock()
	s.publishLocked(bus.PhaseStarting, len(members))
	s.statusMu.Unlock()

	for _, m := range members {
		m.worker.Start(s.runCtx)
	}

	s.logger.Info().
		Str(xglog.FieldEvent, "supervisor.started").
		Str(xglog.FieldRunID, s.runID).
		Int("sources", len(members)).
		Int("preloaded", n).
		Msg("supervisor started")

	unwatch := s.cfg.Online.Watch(func(up bool) {
		if up {
			s.OnOnline()
		} else {
			s.OnOffline()
		}
	})
	s.mu.Lock()
	s.unwatch = unwatch
	s.mu.Unlock()
	if !s.cfg.Online.Online() {
		s.OnOffline()
	}
	return nil
}

// Stop stops every worker, publishes Stopped and seals the bus. Once it
// returns nil no further event is delivered. If ctx ends first Stop returns
// its error and the shutdown completes in the background.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	members := s.members
	unwatch := s.unwatch
	cancel := s.cancel
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		for _, m := range members {
			g.Go(func() error {
				m.worker.Stop()
				return nil
			})
		}
		_ = g.Wait()
		if cancel != nil {
			cancel()
		}
		s.active.Store(0)
		metrics.SetActiveSources(0)

		s.statusMu.Lock()
		s.sealed = true
		s.phase.Store(bus.PhaseStopped)
		metrics.SetSupervisorPhase(string(bus.PhaseStopped))
		_ = s.bus.Seal(s.statusEvent(bus.PhaseStopped, 0))
		s.statusMu.Unlock()

		s.logger.Info().Str(xglog.FieldEvent, "supervisor.stopped").Msg("supervisor stopped")
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor stop: %w", ctx.Err())
	}
}

// OnOffline pauses every worker and publishes Offline.
func (s *Supervisor) OnOffline() {
	s.statusMu.Lock()
	if s.offline || s.sealed {
		s.statusMu.Unlock()
		return
	}
	s.offline = true
	s.statusMu.Unlock()

	for _, m := range s.snapshotMembers() {
		m.worker.Pause()
	}
	s.logger.Warn().Str(xglog.FieldEvent, "supervisor.offline").Msg("network offline, sources paused")

	s.statusMu.Lock()
	s.recomputeLocked()
	s.statusMu.Unlock()
}

// OnOnline resumes every worker; each fires immediately.
func (s *Supervisor) OnOnline() {
	s.statusMu.Lock()
	if !s.offline || s.sealed {
		s.statusMu.Unlock()
		return
	}
	s.offline = false
	s.recomputeLocked()
	s.statusMu.Unlock()

	s.logger.Info().Str(xglog.FieldEvent, "supervisor.online").Msg("network online, sources resumed")
	for _, m := range s.snapshotMembers() {
		m.worker.Resume()
	}
}

// Reconfigure replaces the source set. Cache contents and subscriptions are
// kept. On a validation error the running set is left untouched.
func (s *Supervisor) Reconfigure(ctx context.Context, sources []SourceConfig) error {
	if err := validateSources(sources); err != nil {
		return err
	}
	next, err := s.build(sources)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	old := s.members
	started := s.started
	runCtx := s.runCtx
	s.mu.Unlock()

	var g errgroup.Group
	for _, m := range old {
		g.Go(func() error {
			m.worker.Stop()
			return nil
		})
	}
	_ = g.Wait()

	if s.beforeSwap != nil {
		s.beforeSwap()
	}
	if !s.setMembers(next) {
		// Stop ran meanwhile and only saw the old set.
		for _, m := range next {
			m.worker.Stop()
		}
		return ErrStopped
	}
	if !started {
		return nil
	}

	ids := make([]string, len(next))
	for i, m := range next {
		ids[i] = m.cfg.ID
	}
	if _, err := s.cache.Preload(ctx, ids, s.cfg.DurableGrace); err != nil {
		s.logger.Warn().Err(err).Msg("durable mirror preload incomplete")
	}

	s.active.Store(int64(len(next)))
	metrics.SetActiveSources(len(next))
	s.statusMu.Lock()
	offline := s.offline
	s.statusMu.Unlock()
	for _, m := range next {
		m.worker.Start(runCtx)
		if offline {
			m.worker.Pause()
		}
	}

	s.logger.Info().
		Str(xglog.FieldEvent, "supervisor.reconfigured").
		Int("sources", len(next)).
		Int("previous", len(old)).
		Msg("source set replaced")
	return nil
}

func (s *Supervisor) snapshotMembers() []*member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*member(nil), s.members...)
}

func (s *Supervisor) onOutcome(o source.Outcome) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if o.OK {
		s.anySuccess = true
		if o.At.After(s.lastSuccess) {
			s.lastSuccess = o.At
		}
	}
	s.firstDone[o.SourceID] = true
	s.recomputeLocked()
}

// recomputeLocked derives the phase and publishes it on change. Caller must
// hold statusMu.
func (s *Supervisor) recomputeLocked() {
	if s.sealed {
		return
	}
	cur := s.Phase()
	if cur == bus.PhaseStopped {
		return
	}
	active := int(s.active.Load())

	var next bus.Phase
	switch {
	case s.offline:
		next = bus.PhaseOffline
	case !s.anySuccess:
		next = bus.PhaseDegraded
		if cur == bus.PhaseStarting && len(s.firstDone) < active {
			next = bus.PhaseStarting
		}
	case s.cfg.Clock.Now().Sub(s.lastSuccess) <= 2*s.maxSchedule:
		next = bus.PhaseLive
	default:
		next = bus.PhaseDegraded
	}
	if next == cur {
		return
	}
	s.publishLocked(next, active)
}

func (s *Supervisor) publishLocked(p bus.Phase, active int) {
	prev := s.Phase()
	s.phase.Store(p)
	metrics.SetSupervisorPhase(string(p))
	s.logger.Info().
		Str(xglog.FieldEvent, "supervisor.phase").
		Str(xglog.FieldOldState, string(prev)).
		Str(xglog.FieldPhase, string(p)).
		Msg("phase changed")
	if err := s.bus.Publish(bus.StatusChannel, s.statusEvent(p, active)); err != nil {
		s.logger.Debug().Err(err).Msg("status not published")
	}
}

func (s *Supervisor) statusEvent(p bus.Phase, active int) bus.StatusEvent {
	return bus.StatusEvent{
		Phase:           p,
		ActiveSources:   active,
		SubscriberCount: s.bus.SubscriberCount(),
		Timestamp:       s.cfg.Clock.Now(),
	}
}

// Phase returns the current phase.
func (s *Supervisor) Phase() bus.Phase {
	return s.phase.Load().(bus.Phase)
}

// RunID identifies this supervisor instance in logs.
func (s *Supervisor) RunID() string { return s.runID }
