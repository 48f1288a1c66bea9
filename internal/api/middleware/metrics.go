package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RouteUnmatched labels requests no route matched, so unknown paths cannot
// grow the label set.
const RouteUnmatched = "unmatched"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_http_requests_total",
		Help: "HTTP requests by route pattern, method and status",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livefeed_http_request_duration_seconds",
		Help:    "Latency of plain HTTP requests in seconds; event streams are excluded",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	httpStreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livefeed_http_stream_duration_seconds",
		Help:    "Lifetime of server-sent event streams in seconds",
		Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600},
	}, []string{"route"})

	httpRequestsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livefeed_http_requests_in_flight",
		Help: "Requests being served, split into plain requests and event streams",
	}, []string{"kind"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livefeed_http_response_size_bytes",
		Help:    "Response sizes of plain HTTP requests in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "route"})
)

// Metrics records per-route request counters and latencies. Routes are chi
// patterns such as /api/v1/sources/{id}. Event streams are timed separately
// because their duration is the client's session, not server latency.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			kind := "request"
			if acceptsEventStream(r) {
				kind = "stream"
			}
			inflight := httpRequestsInFlight.WithLabelValues(kind)
			inflight.Inc()
			defer inflight.Dec()

			mw := &metricsWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(mw, r)

			// The pattern is only complete once the router has matched.
			route := routeOf(r)
			status := strconv.Itoa(mw.statusCode)
			elapsed := time.Since(start).Seconds()

			httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			if mw.isStream() {
				httpStreamDuration.WithLabelValues(route).Observe(elapsed)
				return
			}
			httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(elapsed)
			if mw.bytesWritten > 0 {
				httpResponseSize.WithLabelValues(r.Method, route).Observe(float64(mw.bytesWritten))
			}
		})
	}
}

func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return RouteUnmatched
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// metricsWriter captures the status, the size and the content type.
type metricsWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	written      bool
	stream       bool
}

func (mw *metricsWriter) WriteHeader(statusCode int) {
	if !mw.written {
		mw.statusCode = statusCode
		mw.written = true
		mw.stream = strings.HasPrefix(mw.Header().Get("Content-Type"), "text/event-stream")
	}
	mw.ResponseWriter.WriteHeader(statusCode)
}

func (mw *metricsWriter) Write(b []byte) (int, error) {
	if !mw.written {
		mw.WriteHeader(http.StatusOK)
	}
	n, err := mw.ResponseWriter.Write(b)
	mw.bytesWritten += n
	return n, err
}

func (mw *metricsWriter) isStream() bool { return mw.stream }

// Unwrap lets http.ResponseController reach Flush on the underlying writer.
func (mw *metricsWriter) Unwrap() http.ResponseWriter {
	return mw.ResponseWriter
}
