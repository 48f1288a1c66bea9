package supervisor

import "errors"

var (
	ErrNoSources       = errors.New("supervisor: no sources configured")
	ErrDuplicateSource = errors.New("supervisor: duplicate source id")
	ErrAlreadyStarted  = errors.New("supervisor: already started")
	ErrStopped         = errors.New("supervisor: stopped")
)
