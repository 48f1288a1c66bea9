package supervisor

import (
	"time"

	"github.com/ManuGH/livefeed/internal/bus"
	"github.com/ManuGH/livefeed/internal/cache"
	"github.com/ManuGH/livefeed/internal/upstream"
)

// SourceStatus is the per-source part of Status.
type SourceStatus struct {
	SourceID      string         `json:"sourceId"`
	LastFetchedAt *time.Time     `json:"lastFetchedAt"`
	LastErrorKind *upstream.Kind `json:"lastErrorKind,omitempty"`
	Attempt       int            `json:"attempt"`
	NextFireAt    *time.Time     `json:"nextFireAt"`
	State         string         `json:"state"`
	Paused        bool           `json:"paused,omitempty"`
}

// Status is the snapshot served by GetStatus.
type Status struct {
	Phase           bus.Phase      `json:"phase"`
	ActiveSources   int            `json:"activeSources"`
	SubscriberCount int            `json:"subscriberCount"`
	PerSource       []SourceStatus `json:"perSource"`
}

// SourceInfo describes a configured source.
type SourceInfo struct {
	ID        string        `json:"id"`
	Schedule  string        `json:"schedule"`
	Staleness time.Duration `json:"staleness"`
}

// Subscribe registers handler on a bus channel.
func (s *Supervisor) Subscribe(channel string, handler bus.Handler) (*bus.Subscription, error) {
	return s.bus.Subscribe(channel, handler)
}

// GetCurrent returns the cached value of a source.
func (s *Supervisor) GetCurrent(id string) (cache.Entry, bool) {
	return s.cache.Get(id)
}

// GetAllCurrent returns every cached value.
func (s *Supervisor) GetAllCurrent() map[string]cache.Entry {
	return s.cache.Snapshot()
}

// Fresh reports whether the cached value of id is within the source's
// staleness threshold. Unknown sources are never fresh.
func (s *Supervisor) Fresh(id string) bool {
	s.mu.Lock()
	m, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.cache.IsFresh(id, staleness(m.cfg))
}

func staleness(sc SourceConfig) time.Duration {
	if sc.Staleness > 0 {
		return sc.Staleness
	}
	return 2 * sc.Schedule.Max()
}

// Sources lists the configured sources in configuration order.
func (s *Supervisor) Sources() []SourceInfo {
	members := s.snapshotMembers()
	out := make([]SourceInfo, len(members))
	for i, m := range members {
		out[i] = SourceInfo{ID: m.cfg.ID, Schedule: m.cfg.Schedule.String(), Staleness: staleness(m.cfg)}
	}
	return out
}

// GetStatus returns the phase and a per-source snapshot.
func (s *Supervisor) GetStatus() Status {
	members := s.snapshotMembers()
	st := Status{
		Phase:           s.Phase(),
		ActiveSources:   int(s.active.Load()),
		SubscriberCount: s.bus.SubscriberCount(),
		PerSource:       make([]SourceStatus, 0, len(members)),
	}
	for _, m := range members {
		snap := m.worker.Snapshot()
		ss := SourceStatus{
			SourceID: snap.SourceID,
			Attempt:  snap.Attempt,
			State:    string(snap.State),
			Paused:   snap.Paused,
		}
		if !snap.LastFetchedAt.IsZero() {
			t := snap.LastFetchedAt
			ss.LastFetchedAt = &t
		} else if e, ok := s.cache.Get(snap.SourceID); ok {
			t := e.FetchedAt
			ss.LastFetchedAt = &t
		}
		if snap.LastError != nil {
			k := snap.LastError.Kind
			ss.LastErrorKind = &k
		}
		if !snap.NextFireAt.IsZero() {
			t := snap.NextFireAt
			ss.NextFireAt = &t
		}
		st.PerSource = append(st.PerSource, ss)
	}
	return st
}

// Cache exposes the shared cache, mainly for health checks.
func (s *Supervisor) Cache() *cache.Cache { return s.cache }
