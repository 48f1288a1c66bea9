package source

import (
	"time"

	"github.com/ManuGH/livefeed/internal/upstream"
)

// State is the position of a worker in its refresh cycle.
type State string

const (
	StateIdle        State = "Idle"
	StateFetching    State = "Fetching"
	StatePublishing  State = "Publishing"
	StateBackoff     State = "Backoff"
	StateFailed      State = "Failed"
	StateWaitingNext State = "WaitingNext"
	StateStopped     State = "Stopped"
)

// Snapshot is a point-in-time view of a worker.
type Snapshot struct {
	SourceID      string
	State         State
	Paused        bool
	LastFetchedAt time.Time // zero until the first success
	LastError     *upstream.Error
	Attempt       int
	NextFireAt    time.Time // zero when nothing is scheduled
}

// Outcome reports how a tick ended. Retries inside a tick are not outcomes.
type Outcome struct {
	SourceID string
	OK       bool
	At       time.Time
}
