package bus

import (
	"time"

	"github.com/ManuGH/livefeed/internal/upstream"
)

// Event is anything published on the bus.
type Event interface {
	// EventType is "update", "error" or "status".
	EventType() string
}

// UpdateEvent carries a freshly fetched value.
type UpdateEvent struct {
	SourceID       string    `json:"sourceId"`
	Value          any       `json:"value"`
	FetchedAt      time.Time `json:"fetchedAt"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
}

// ErrorEvent reports a tick that ended without a value, or a faulty subscriber.
type ErrorEvent struct {
	SourceID    string        `json:"sourceId,omitempty"`
	Kind        upstream.Kind `json:"kind"`
	Detail      string        `json:"detail,omitempty"`
	Attempt     int           `json:"attempt"`
	WillRetryAt *time.Time    `json:"willRetryAt,omitempty"`
}

// Phase is the aggregate health of the supervisor.
type Phase string

const (
	PhaseStarting Phase = "Starting"
	PhaseLive     Phase = "Live"
	PhaseDegraded Phase = "Degraded"
	PhaseOffline  Phase = "Offline"
	PhaseStopped  Phase = "Stopped"
)

// StatusEvent is published whenever the phase changes.
type StatusEvent struct {
	Phase           Phase     `json:"phase"`
	ActiveSources   int       `json:"activeSources"`
	SubscriberCount int       `json:"subscriberCount"`
	Timestamp       time.Time `json:"timestamp"`
}

func (UpdateEvent) EventType() string { return "update" }
func (ErrorEvent) EventType() string  { return "error" }
func (StatusEvent) EventType() string { return "status" }
