// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus is the in-process, typed fan-out of updates, errors and status
// changes. Delivery is synchronous: Publish returns after every subscriber
// registered before the call has seen the event.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/livefeed/internal/log"
	"github.com/ManuGH/livefeed/internal/metrics"
	"github.com/ManuGH/livefeed/internal/upstream"
)

const (
	// StatusChannel carries StatusEvents and subscriber faults.
	StatusChannel = "status"
	// Wildcard receives every event after the channel's own subscribers.
	Wildcard = "*"

	updatePrefix = "update:"
	errorPrefix  = "error:"
)

var (
	ErrInvalidChannel = errors.New("bus: invalid channel")
	ErrClosed         = errors.New("bus: closed")
)

// UpdateChannel is the channel of a source's updates.
func UpdateChannel(sourceID string) string { return updatePrefix + sourceID }

// ErrorChannel is the channel of a source's errors.
func ErrorChannel(sourceID string) string { return errorPrefix + sourceID }

// ChannelKind folds a channel into "update", "error", "status" or "*".
// It returns "" for anything outside the closed channel set.
func ChannelKind(channel string) string {
	switch {
	case channel == StatusChannel, channel == Wildcard:
		return channel
	case strings.HasPrefix(channel, updatePrefix) && len(channel) > len(updatePrefix):
		return "update"
	case strings.HasPrefix(channel, errorPrefix) && len(channel) > len(errorPrefix):
		return "error"
	}
	return ""
}

// Handler receives events. It runs on the publisher's goroutine and must not
// publish synchronously into the channel it is called for.
type Handler func(Event)

// Stats counts bus activity since creation.
type Stats struct {
	Published uint64
	Delivered uint64
	Faults    uint64
}

// Bus is safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	idle     *sync.Cond // signalled when inflight drops to zero
	subs     map[string][]*Subscription
	delivery map[string]*sync.Mutex
	inflight int
	closed   bool
	nextID   uint64

	wildcardMu sync.Mutex // serializes wildcard delivery; taken after a channel lock

	published atomic.Uint64
	delivered atomic.Uint64
	faults    atomic.Uint64

	logger zerolog.Logger
}

// New returns an open bus.
func New() *Bus {
	b := &Bus{
		subs:     make(map[string][]*Subscription),
		delivery: make(map[string]*sync.Mutex),
		logger:   xglog.WithComponent("bus"),
	}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// Subscription is the handle of one registered handler.
type Subscription struct {
	id      uint64
	channel string
	handler Handler
	bus     *Bus
	active  atomic.Bool
	once    sync.Once
}

// ID is unique within the bus.
func (s *Subscription) ID() uint64 { return s.id }

// Channel returns the subscribed channel.
func (s *Subscription) Channel() string { return s.channel }

// Unsubscribe stops delivery. It is idempotent and safe to call from inside
// the handler; an in-progress delivery to other subscribers is unaffected.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.active.Store(false)
		s.bus.remove(s)
	})
}

// Subscribe registers handler on channel.
func (b *Bus) Subscribe(channel string, handler Handler) (*Subscription, error) {
	if ChannelKind(channel) == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if handler == nil {
		return nil, errors.New("bus: nil handler")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.nextID++
	s := &Subscription{id: b.nextID, channel: channel, handler: handler, bus: b}
	s.active.Store(true)
	b.subs[channel] = append(b.subs[channel], s)
	n := b.countLocked()
	b.mu.Unlock()

	metrics.SetBusSubscribers(n)
	return s, nil
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	lst := b.subs[s.channel]
	out := lst[:0:0]
	for _, x := range lst {
		if x != s {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		delete(b.subs, s.channel)
	} else {
		b.subs[s.channel] = out
	}
	n := b.countLocked()
	b.mu.Unlock()

	metrics.SetBusSubscribers(n)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.countLocked()
}

func (b *Bus) countLocked() int {
	n := 0
	for _, lst := range b.subs {
		n += len(lst)
	}
	return n
}

// Stats returns the activity counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Faults:    b.faults.Load(),
	}
}

// Publish delivers ev to the channel's subscribers, then to the wildcard
// subscribers, each in registration order. A panicking handler does not stop
// delivery; it is reported as a SubscriberFault ErrorEvent on the status
// channel once the delivery finished.
func (b *Bus) Publish(channel string, ev Event) error {
	kind := ChannelKind(channel)
	if kind == "" || kind == Wildcard {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.inflight++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inflight--
		if b.inflight == 0 {
			b.idle.Broadcast()
		}
		b.mu.Unlock()
	}()

	b.publish(channel, kind, ev)
	return nil
}

// Seal delivers final on the status channel and closes the bus. It waits for
// publishes already in progress; afterwards Publish and Subscribe return
// ErrClosed and every subscription is dropped.
func (b *Bus) Seal(final Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	for b.inflight > 0 {
		b.idle.Wait()
	}
	b.mu.Unlock()

	if final != nil {
		b.publish(StatusChannel, StatusChannel, final)
	}

	b.mu.Lock()
	for _, lst := range b.subs {
		for _, s := range lst {
			s.active.Store(false)
		}
	}
	b.subs = make(map[string][]*Subscription)
	b.mu.Unlock()

	metrics.SetBusSubscribers(0)
	return nil
}

// Closed reports whether Seal was called.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) publish(channel, kind string, ev Event) {
	b.published.Add(1)
	metrics.IncBusPublished(kind)

	faults := b.deliver(channel, ev)
	if len(faults) == 0 {
		return
	}
	for _, f := range faults {
		// A fault while delivering a fault is only logged.
		for _, again := range b.deliver(StatusChannel, f) {
			b.logger.Error().
				Str(xglog.FieldEvent, "bus.fault_in_fault").
				Str(xglog.FieldChannel, StatusChannel).
				Str("detail", again.Detail).
				Msg("subscriber panicked while handling a subscriber fault")
		}
	}
}

// deliver runs the handlers subscribed when it was called and returns one
// SubscriberFault event per panicking handler.
func (b *Bus) deliver(channel string, ev Event) []ErrorEvent {
	b.mu.Lock()
	direct := append([]*Subscription(nil), b.subs[channel]...)
	wild := append([]*Subscription(nil), b.subs[Wildcard]...)
	lock, ok := b.delivery[channel]
	if !ok {
		lock = &sync.Mutex{}
		b.delivery[channel] = lock
	}
	b.mu.Unlock()

	var faults []ErrorEvent

	lock.Lock()
	defer lock.Unlock()
	for _, s := range direct {
		if f, ok := b.invoke(s, channel, ev); !ok {
			faults = append(faults, f)
		}
	}

	if len(wild) > 0 {
		b.wildcardMu.Lock()
		defer b.wildcardMu.Unlock()
		for _, s := range wild {
			if f, ok := b.invoke(s, channel, ev); !ok {
				faults = append(faults, f)
			}
		}
	}
	return faults
}

func (b *Bus) invoke(s *Subscription, channel string, ev Event) (fault ErrorEvent, ok bool) {
	if !s.active.Load() {
		return ErrorEvent{}, true
	}
	defer func() {
		if r := recover(); r != nil {
			b.faults.Add(1)
			metrics.IncSubscriberFault(ChannelKind(channel))
			fault = ErrorEvent{
				SourceID: sourceOf(ev),
				Kind:     upstream.KindSubscriberFault,
				Detail:   fmt.Sprintf("subscriber %d on %s panicked: %v", s.id, channel, r),
			}
			b.logger.Error().
				Str(xglog.FieldEvent, "bus.subscriber_fault").
				Str(xglog.FieldChannel, channel).
				Uint64(xglog.FieldSubscriptionID, s.id).
				Interface("panic", r).
				Msg("subscriber handler panicked")
			ok = false
		}
	}()
	s.handler(ev)
	b.delivered.Add(1)
	return ErrorEvent{}, true
}

func sourceOf(ev Event) string {
	switch e := ev.(type) {
	case UpdateEvent:
		return e.SourceID
	case ErrorEvent:
		return e.SourceID
	}
	return ""
}
