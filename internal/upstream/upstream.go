// Package upstream defines the boundary between the fan-out core and the
// feeds it polls: the Fetcher capability and the failure taxonomy every
// fetch outcome is mapped onto.
package upstream

import "context"

// Fetcher fetches one logical feed. Implementations honor ctx promptly,
// never retry internally and report every failure through the returned
// error (ideally an *Error). A nil error means the value is good.
type Fetcher interface {
	Fetch(ctx context.Context) (any, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (any, error)

// Fetch calls f(ctx).
func (f FetcherFunc) Fetch(ctx context.Context) (any, error) { return f(ctx) }
