// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Kind classifies a failure.
type Kind string

const (
	KindNetwork     Kind = "Network"
	KindTimeout     Kind = "Timeout"
	KindHTTPStatus  Kind = "HttpStatus"
	KindParse       Kind = "Parse"
	KindCancelled   Kind = "Cancelled"
	KindUnavailable Kind = "Unavailable"

	// KindSubscriberFault is never produced by a fetch. It reports a
	// subscriber handler that panicked and only appears on the status channel.
	KindSubscriberFault Kind = "SubscriberFault"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNetwork     = errors.New("upstream: host unreachable or transport failure")
	ErrTimeout     = errors.New("upstream: request timed out")
	ErrHTTPStatus  = errors.New("upstream: non-success status")
	ErrParse       = errors.New("upstream: invalid response format or malformed data")
	ErrCancelled   = errors.New("upstream: fetch cancelled")
	ErrUnavailable = errors.New("upstream: fetcher unavailable")
)

var sentinels = map[Kind]error{
	KindNetwork:     ErrNetwork,
	KindTimeout:     ErrTimeout,
	KindHTTPStatus:  ErrHTTPStatus,
	KindParse:       ErrParse,
	KindCancelled:   ErrCancelled,
	KindUnavailable: ErrUnavailable,
}

// Error is a classified fetch failure.
type Error struct {
	Kind   Kind
	Status int    // HTTP status code for KindHTTPStatus
	Detail string // human readable detail; the status code for KindHTTPStatus
	Err    error  // underlying error, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("upstream: %s", e.Kind)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying error.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Fail builds an *Error of the given kind.
func Fail(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an *Error of the given kind around err.
func Wrap(kind Kind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	return e
}

// HTTPStatus builds the failure for a non-success HTTP response.
func HTTPStatus(code int) *Error {
	return &Error{Kind: KindHTTPStatus, Status: code, Detail: strconv.Itoa(code)}
}

// Is5xx reports whether the error is a server-side HTTP failure.
func (e *Error) Is5xx() bool {
	return e.Kind == KindHTTPStatus && e.Status >= 500 && e.Status <= 599
}

// Classify maps any error returned by a Fetcher onto an *Error. Errors that
// carry no classification are treated as network failures.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return Wrap(KindCancelled, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Wrap(KindTimeout, err)
	}
	return Wrap(KindNetwork, err)
}
