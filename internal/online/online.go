// Package online reports whether the network is reachable. The supervisor
// pauses every source while a Signal reports offline.
package online

import (
	"slices"
	"sync"
)

// Signal is a source of online/offline transitions.
type Signal interface {
	// Online reports the current state.
	Online() bool
	// Watch calls fn on every change until the returned stop func is called.
	Watch(fn func(online bool)) (stop func())
}

// watchers is the fan-out shared by the Signal implementations.
type watchers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(bool)
}

func (w *watchers) add(fn func(bool)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(bool))
	}
	w.nextID++
	id := w.nextID
	w.fns[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.fns, id)
		})
	}
}

// notify calls every watcher in registration order outside the lock.
func (w *watchers) notify(online bool) {
	w.mu.Lock()
	ids := make([]int, 0, len(w.fns))
	for id := range w.fns {
		ids = append(ids, id)
	}
	fns := make([]func(bool), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, w.fns[id])
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Manual is a Signal flipped by hand: tests and the admin endpoint.
type Manual struct {
	mu       sync.Mutex
	online   bool
	watchers watchers
}

// NewManual returns a Manual in the given state.
func NewManual(online bool) *Manual {
	return &Manual{online: online}
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Manual) Watch(fn func(bool)) func() { return m.watchers.add(fn) }

// Set changes the state and notifies watchers when it differs.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()
	if changed {
		m.watchers.notify(online)
	}
}

// Always is a Signal that is permanently online.
type Always struct{}

func (Always) Online() bool { return true }

func (Always) Watch(func(bool)) func() { return func() {} }
