package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across packages.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	SourceIDKey      = "source.id"
	SourceAttemptKey = "source.attempt"
	ErrorKindKey     = "error.kind"

	BusChannelKey = "bus.channel"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// FetchAttributes describes one fetch attempt of a source.
func FetchAttributes(sourceID string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SourceIDKey, sourceID),
		attribute.Int(SourceAttemptKey, attempt),
	}
}

// ErrorKindAttributes tags a span with the classified failure kind.
func ErrorKindAttributes(kind string) []attribute.KeyValue {
	if kind == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String(ErrorKindKey, kind)}
}
