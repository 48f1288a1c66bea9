package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func lookup(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/scores", "https://feeds.example/scores", 503)
	assert.Len(t, attrs, 4)
	v, ok := lookup(attrs, HTTPStatusCodeKey)
	assert.True(t, ok)
	assert.Equal(t, int64(503), v.AsInt64())
	v, _ = lookup(attrs, HTTPRouteKey)
	assert.Equal(t, "/scores", v.AsString())
}

func TestFetchAttributes(t *testing.T) {
	attrs := FetchAttributes("odds", 2)
	v, ok := lookup(attrs, SourceIDKey)
	assert.True(t, ok)
	assert.Equal(t, "odds", v.AsString())
	v, _ = lookup(attrs, SourceAttemptKey)
	assert.Equal(t, int64(2), v.AsInt64())
}

func TestErrorKindAttributes(t *testing.T) {
	assert.Nil(t, ErrorKindAttributes(""))
	attrs := ErrorKindAttributes("Timeout")
	v, ok := lookup(attrs, ErrorKindKey)
	assert.True(t, ok)
	assert.Equal(t, "Timeout", v.AsString())
}
