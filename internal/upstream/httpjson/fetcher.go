// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpjson polls a JSON document over HTTP. Every call performs
// exactly one request; retries are owned by the source worker.
package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/livefeed/internal/telemetry"
	"github.com/ManuGH/livefeed/internal/upstream"
)

const (
	// DefaultMaxBodyBytes bounds the decoded document.
	DefaultMaxBodyBytes int64 = 4 << 20

	userAgent = "livefeed/1 (+https://github.com/ManuGH/livefeed)"
)

// Options configures a Fetcher.
type Options struct {
	URL     string
	Headers map[string]string

	// MinInterval spaces requests to the same upstream. Zero disables the
	// limiter.
	MinInterval time.Duration

	MaxBodyBytes int64

	// HTTPClient overrides the default otelhttp instrumented client.
	HTTPClient *http.Client
}

// Fetcher performs GET requests and decodes the body as JSON.
type Fetcher struct {
	url     string
	host    string
	headers http.Header
	maxBody int64
	client  *http.Client
	limiter *rate.Limiter
	tracer  trace.Tracer
}

// New validates opts and returns a Fetcher.
func New(opts Options) (*Fetcher, error) {
	if opts.URL == "" {
		return nil, errors.New("httpjson: url is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("httpjson: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpjson: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("httpjson: url %q has no host", opts.URL)
	}
	if opts.MinInterval < 0 {
		return nil, fmt.Errorf("httpjson: minInterval must not be negative")
	}

	f := &Fetcher{
		url:     u.String(),
		host:    u.Host,
		headers: make(http.Header, len(opts.Headers)),
		maxBody: opts.MaxBodyBytes,
		client:  opts.HTTPClient,
		tracer:  telemetry.Tracer("livefeed.upstream.httpjson"),
	}
	for k, v := range opts.Headers {
		f.headers.Set(k, v)
	}
	if f.maxBody <= 0 {
		f.maxBody = DefaultMaxBodyBytes
	}
	if f.client == nil {
		f.client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if opts.MinInterval > 0 {
		f.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return f, nil
}

// Fetch performs one GET and returns the decoded document. The request is
// bounded by ctx; the worker supplies the per-attempt deadline.
func (f *Fetcher) Fetch(ctx context.Context) (any, error) {
	ctx, span := f.tracer.Start(ctx, "httpjson.get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", http.MethodGet),
			attribute.String("http.url", f.url),
			attribute.String("net.peer.name", f.host),
		),
	)
	defer span.End()

	value, err := f.get(ctx, span)
	if err != nil {
		ue := upstream.Classify(err)
		span.RecordError(ue)
		span.SetStatus(codes.Error, string(ue.Kind))
		span.SetAttributes(telemetry.ErrorKindAttributes(string(ue.Kind))...)
		return nil, ue
	}
	span.SetStatus(codes.Ok, "")
	return value, nil
}

func (f *Fetcher) get(ctx context.Context, span trace.Span) (any, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			// Wait fails early when the deadline cannot be met.
			if ctx.Err() == nil {
				return nil, upstream.Wrap(upstream.KindTimeout, err)
			}
			return nil, ctx.Err()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, upstream.Wrap(upstream.KindUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range f.headers {
		req.Header[k] = vs
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	span.SetAttributes(telemetry.HTTPAttributes(http.MethodGet, req.URL.Path, f.url, resp.StatusCode)...)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstream.HTTPStatus(resp.StatusCode)
	}

	var value any
	dec := json.NewDecoder(io.LimitReader(resp.Body, f.maxBody))
	if err := dec.Decode(&value); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) {
			return nil, err
		}
		return nil, upstream.Wrap(upstream.KindParse, err)
	}
	if dec.More() {
		return nil, upstream.Fail(upstream.KindParse, "trailing data after JSON document")
	}
	return value, nil
}
