// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package clock is the single time source of the fan-out core. Every timed
// behavior (ticks, backoff, per-attempt timeouts, probes) goes through a Clock
// so tests can swap in the deterministic Virtual clock.
package clock

import (
	"context"
	"time"

	jujuclock "github.com/juju/clock"
)

// Handle is a scheduled action. Stop reports whether the action was
// prevented from running.
type Handle interface {
	Stop() bool
}

// Clock abstracts "now" and timers.
type Clock interface {
	// Now returns the current time. It never goes backwards.
	Now() time.Time
	// SleepUntil blocks until t or until ctx is done, in which case the
	// context error is returned.
	SleepUntil(ctx context.Context, t time.Time) error
	// Schedule runs action once after delay unless the handle is stopped first.
	Schedule(delay time.Duration, action func()) Handle
}

// Wall is the production clock backed by juju/clock.
type Wall struct {
	c jujuclock.Clock
}

// NewWall returns a Clock reading the system time.
func NewWall() *Wall {
	return &Wall{c: jujuclock.WallClock}
}

// Now returns the wall time (with monotonic reading).
func (w *Wall) Now() time.Time { return w.c.Now() }

// Schedule runs action on its own goroutine after delay.
func (w *Wall) Schedule(delay time.Duration, action func()) Handle {
	if delay < 0 {
		delay = 0
	}
	return w.c.AfterFunc(delay, action)
}

// SleepUntil blocks until t or ctx is done.
func (w *Wall) SleepUntil(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := t.Sub(w.c.Now())
	if d <= 0 {
		return nil
	}
	timer := w.c.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go runs fn on a new goroutine. Under a Virtual clock, Advance waits for fn
// (up to SettleGrace of real time) before it fires the next due action.
func Go(c Clock, fn func()) {
	if v, ok := c.(*Virtual); ok {
		v.track(fn)
		return
	}
	go fn()
}

var _ Clock = (*Wall)(nil)
