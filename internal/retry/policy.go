// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package retry decides what a source does after a failed fetch attempt.
package retry

import (
	"math/rand/v2"
	"time"

	"github.com/ManuGH/livefeed/internal/upstream"
)

const (
	DefaultBase        = 1 * time.Second
	DefaultMaxBackoff  = 30 * time.Second
	DefaultMaxAttempts = 3
)

// Action is the outcome of a retry decision.
type Action int

const (
	// Retry the same tick after Decision.Delay.
	Retry Action = iota
	// GiveUp on this tick and report the failure.
	GiveUp
	// GiveUpSilently ends the tick without reporting (cancellation).
	GiveUpSilently
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case GiveUp:
		return "give_up"
	case GiveUpSilently:
		return "give_up_silent"
	default:
		return "unknown"
	}
}

// Decision is what Decide returns.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Policy is exponential backoff with full jitter. The zero value uses the
// package defaults.
type Policy struct {
	Base        time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int

	// Jitter returns a duration in [0, max]. Nil uses math/rand/v2.
	Jitter func(max time.Duration) time.Duration
}

// Default returns the default policy.
func Default() Policy {
	return Policy{Base: DefaultBase, MaxBackoff: DefaultMaxBackoff, MaxAttempts: DefaultMaxAttempts}
}

// WithDefaults fills unset fields.
func (p Policy) WithDefaults() Policy {
	if p.Base <= 0 {
		p.Base = DefaultBase
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// Override returns p with every non-zero field of o applied.
func (p Policy) Override(o Policy) Policy {
	if o.Base > 0 {
		p.Base = o.Base
	}
	if o.MaxBackoff > 0 {
		p.MaxBackoff = o.MaxBackoff
	}
	if o.MaxAttempts > 0 {
		p.MaxAttempts = o.MaxAttempts
	}
	if o.Jitter != nil {
		p.Jitter = o.Jitter
	}
	return p
}

// Decide maps the 1-based attempt that just failed and its error to an action.
// It has no side effects beyond drawing jitter.
func (p Policy) Decide(attempt int, err *upstream.Error) Decision {
	p = p.WithDefaults()
	if err == nil {
		return Decision{Action: GiveUp}
	}

	switch err.Kind {
	case upstream.KindCancelled:
		return Decision{Action: GiveUpSilently}
	case upstream.KindParse:
		return Decision{Action: GiveUp}
	case upstream.KindHTTPStatus:
		if !err.Is5xx() {
			return Decision{Action: GiveUp}
		}
	case upstream.KindNetwork, upstream.KindTimeout, upstream.KindUnavailable:
	default:
		return Decision{Action: GiveUp}
	}

	if attempt >= p.MaxAttempts {
		return Decision{Action: GiveUp}
	}
	return Decision{Action: Retry, Delay: p.jitter(p.Backoff(attempt))}
}

// Backoff is the un-jittered delay after the given failed attempt:
// Base * 2^(attempt-1), capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.WithDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff || d <= 0 {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func (p Policy) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	if p.Jitter != nil {
		d := p.Jitter(max)
		if d < 0 {
			return 0
		}
		if d > max {
			return max
		}
		return d
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// NoJitter always waits the full computed delay.
func NoJitter(max time.Duration) time.Duration { return max }
