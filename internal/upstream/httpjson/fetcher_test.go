package httpjson

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/livefeed/internal/upstream"
)

func serve(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func fetchErr(t *testing.T, f *Fetcher, ctx context.Context) *upstream.Error {
	t.Helper()
	v, err := f.Fetch(ctx)
	require.Error(t, err)
	assert.Nil(t, v)
	var ue *upstream.Error
	require.True(t, errors.As(err, &ue), "expected *upstream.Error, got %T", err)
	return ue
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"missing url", Options{}},
		{"bad scheme", Options{URL: "ftp://feeds.example/scores"}},
		{"no host", Options{URL: "http:///scores"}},
		{"negative interval", Options{URL: "http://feeds.example", MinInterval: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestFetch_DecodesJSONAndSendsHeaders(t *testing.T) {
	var gotKey, gotAccept string
	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"home":2,"away":1,"teams":["A","B"]}`))
	})

	f, err := New(Options{URL: u, Headers: map[string]string{"x-api-key": "secret"}})
	require.NoError(t, err)

	v, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"home":  float64(2),
		"away":  float64(1),
		"teams": []any{"A", "B"},
	}, v)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "application/json", gotAccept)
}

func TestFetch_StatusCodes(t *testing.T) {
	for _, code := range []int{404, 429, 500, 503} {
		u := serve(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		})
		f, err := New(Options{URL: u})
		require.NoError(t, err)

		ue := fetchErr(t, f, context.Background())
		assert.Equal(t, upstream.KindHTTPStatus, ue.Kind)
		assert.Equal(t, code, ue.Status)
		assert.Equal(t, code >= 500, ue.Is5xx())
	}
}

func TestFetch_ParseErrors(t *testing.T) {
	for name, body := range map[string]string{
		"malformed": `{"home":`,
		"html":      `<html>maintenance</html>`,
		"trailing":  `{"a":1} {"b":2}`,
	} {
		t.Run(name, func(t *testing.T) {
			u := serve(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			f, err := New(Options{URL: u})
			require.NoError(t, err)
			ue := fetchErr(t, f, context.Background())
			assert.Equal(t, upstream.KindParse, ue.Kind)
			assert.ErrorIs(t, ue, upstream.ErrParse)
		})
	}
}

func TestFetch_BodyLimit(t *testing.T) {
	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["` + strings.Repeat("x", 1024) + `"]`))
	})
	f, err := New(Options{URL: u, MaxBodyBytes: 64})
	require.NoError(t, err)
	assert.Equal(t, upstream.KindParse, fetchErr(t, f, context.Background()).Kind)
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	f, err := New(Options{URL: u})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, upstream.KindTimeout, fetchErr(t, f, ctx).Kind)
}

func TestFetch_Cancelled(t *testing.T) {
	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	f, err := New(Options{URL: u})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	assert.Equal(t, upstream.KindCancelled, fetchErr(t, f, ctx).Kind)
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()

	f, err := New(Options{URL: u})
	require.NoError(t, err)
	assert.Equal(t, upstream.KindNetwork, fetchErr(t, f, context.Background()).Kind)
}

func TestFetch_MinIntervalSpacesRequests(t *testing.T) {
	var hits atomic.Int32
	u := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`true`))
	})
	f, err := New(Options{URL: u, MinInterval: 200 * time.Millisecond})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background())
	require.NoError(t, err)

	// The second request cannot be admitted before the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ue := fetchErr(t, f, ctx)
	assert.Equal(t, upstream.KindTimeout, ue.Kind)
	assert.Equal(t, int32(1), hits.Load())

	time.Sleep(200 * time.Millisecond)
	_, err = f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}
