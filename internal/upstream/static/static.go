// Package static serves canned values. It backs demo configurations and
// tests that need a feed whose output changes on every poll.
package static

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/livefeed/internal/upstream"
)

// Step is one scripted poll result. A Step with Err set fails the poll.
type Step struct {
	Value any
	Err   error
}

// Fetcher returns its steps in order and wraps around at the end.
type Fetcher struct {
	mu    sync.Mutex
	steps []Step
	next  int
	calls int
}

// New cycles through values.
func New(values ...any) (*Fetcher, error) {
	if len(values) == 0 {
		return nil, errors.New("static: at least one value is required")
	}
	steps := make([]Step, len(values))
	for i, v := range values {
		steps[i] = Step{Value: v}
	}
	return &Fetcher{steps: steps}, nil
}

// NewScript cycles through steps, which may include failures.
func NewScript(steps ...Step) (*Fetcher, error) {
	if len(steps) == 0 {
		return nil, errors.New("static: at least one step is required")
	}
	return &Fetcher{steps: append([]Step(nil), steps...)}, nil
}

// Fetch returns the next step. A cancelled ctx wins over the script.
func (f *Fetcher) Fetch(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, upstream.Classify(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	step := f.steps[f.next]
	f.next = (f.next + 1) % len(f.steps)
	f.calls++
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Value, nil
}

// Calls reports how many polls were served.
func (f *Fetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
