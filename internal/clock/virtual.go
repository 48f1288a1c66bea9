package clock

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

// Epoch is the default start time of a Virtual clock. Tests read timestamps
// relative to it ("t=10s" is Epoch+10s).
var Epoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// SettleGrace bounds how long Advance waits for goroutines started with Go.
// Work still running after it is treated as blocked until a later action
// (a timeout, a cancellation) releases it.
const SettleGrace = 100 * time.Millisecond

// Virtual is a deterministic clock. Time only moves on Advance, which runs
// due actions synchronously on the caller's goroutine.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending alarmHeap

	busy int           // goroutines started with Go and still running
	idle chan struct{} // closed when busy drops to zero
}

// NewVirtual returns a Virtual clock starting at start (Epoch when zero).
func NewVirtual(start time.Time) *Virtual {
	if start.IsZero() {
		start = Epoch
	}
	return &Virtual{now: start}
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Since is Now().Sub(t).
func (v *Virtual) Since(t time.Time) time.Duration {
	return v.Now().Sub(t)
}

// Schedule registers action to fire at Now()+delay.
func (v *Virtual) Schedule(delay time.Duration, action func()) Handle {
	if delay < 0 {
		delay = 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	a := &alarm{at: v.now.Add(delay), seq: v.seq, action: action, owner: v}
	heap.Push(&v.pending, a)
	return a
}

// SleepUntil blocks until an Advance reaches t or ctx is done.
func (v *Virtual) SleepUntil(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	h := v.Schedule(t.Sub(v.Now()), func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.Stop()
		return ctx.Err()
	}
}

// Advance moves time forward by d, running every action due at or before
// the new time in fire-time order (ties by scheduling order). While an
// action runs, Now reports that action's fire time. Actions scheduled
// during the drain that fall inside the window run too. After each action,
// goroutines it started with Go get to finish before time moves on.
func (v *Virtual) Advance(d time.Duration) {
	v.settle()
	v.mu.Lock()
	target := v.now.Add(d)
	for len(v.pending) > 0 && !v.pending[0].at.After(target) {
		a := heap.Pop(&v.pending).(*alarm)
		a.fired = true
		if a.at.After(v.now) {
			v.now = a.at
		}
		v.mu.Unlock()
		a.action()
		v.settle()
		v.mu.Lock()
	}
	if target.After(v.now) {
		v.now = target
	}
	v.mu.Unlock()
}

func (v *Virtual) track(fn func()) {
	v.mu.Lock()
	if v.busy == 0 {
		v.idle = make(chan struct{})
	}
	v.busy++
	v.mu.Unlock()

	go func() {
		defer func() {
			v.mu.Lock()
			v.busy--
			if v.busy == 0 {
				close(v.idle)
			}
			v.mu.Unlock()
		}()
		fn()
	}()
}

// settle waits until no tracked goroutine runs, or SettleGrace passes.
func (v *Virtual) settle() {
	v.mu.Lock()
	if v.busy == 0 {
		v.mu.Unlock()
		return
	}
	idle := v.idle
	v.mu.Unlock()

	t := time.NewTimer(SettleGrace)
	defer t.Stop()
	select {
	case <-idle:
	case <-t.C:
	}
}

// Pending returns the number of scheduled, not yet fired actions.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// WaitAdvance waits until at least n actions are pending, then advances by d.
// It fails when that does not happen within timeout (real time).
func (v *Virtual) WaitAdvance(d, timeout time.Duration, n int) error {
	deadline := time.Now().Add(timeout)
	for v.Pending() < n {
		if time.Now().After(deadline) {
			return fmt.Errorf("clock: got %d pending actions, want %d", v.Pending(), n)
		}
		time.Sleep(time.Millisecond)
	}
	v.Advance(d)
	return nil
}

type alarm struct {
	at      time.Time
	seq     uint64
	action  func()
	owner   *Virtual
	index   int
	fired   bool
	stopped bool
}

func (a *alarm) Stop() bool {
	v := a.owner
	v.mu.Lock()
	defer v.mu.Unlock()
	if a.fired || a.stopped {
		return false
	}
	a.stopped = true
	heap.Remove(&v.pending, a.index)
	return true
}

type alarmHeap []*alarm

func (h alarmHeap) Len() int { return len(h) }
func (h alarmHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h alarmHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *alarmHeap) Push(x any) {
	a := x.(*alarm)
	a.index = len(*h)
	*h = append(*h, a)
}
func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	a.index = -1
	return a
}

var _ Clock = (*Virtual)(nil)
