// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID      = "request_id"
	FieldRunID          = "run_id"
	FieldSourceID       = "source_id"
	FieldSubscriptionID = "subscription_id"
	FieldTraceID        = "trace_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldChannel   = "channel"

	// Fetch fields
	FieldAttempt      = "attempt"
	FieldErrorKind    = "error_kind"
	FieldHTTPStatus   = "http_status"
	FieldResponseMS   = "response_ms"
	FieldNextFireAt   = "next_fire_at"
	FieldBackoff      = "backoff"
	FieldMirrorKind   = "mirror_kind"
	FieldMirrorKey    = "mirror_key"
	FieldEntriesCount = "entries"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldPhase    = "phase"

	// Path / URL fields
	FieldPath = "path"
	FieldURL  = "url"
)
