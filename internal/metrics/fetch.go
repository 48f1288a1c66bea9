package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_fetch_total",
		Help: "Total fetch attempts by source and outcome (ok or error kind)",
	}, []string{"source", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livefeed_fetch_duration_seconds",
		Help:    "Duration of fetch attempts by source",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"source"})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_retry_total",
		Help: "Total retries scheduled by source",
	}, []string{"source"})

	GiveUpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_giveup_total",
		Help: "Total ticks that ended without a value, by source and error kind",
	}, []string{"source", "kind"})

	lastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livefeed_source_last_success_timestamp_seconds",
		Help: "Unix time of the last successful fetch by source",
	}, []string{"source"})
)

// RecordFetch records one fetch attempt.
func RecordFetch(source, outcome string, d time.Duration) {
	FetchTotal.WithLabelValues(source, outcome).Inc()
	fetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordRetry records a scheduled retry.
func RecordRetry(source string) {
	RetryTotal.WithLabelValues(source).Inc()
}

// RecordGiveUp records a tick that gave up.
func RecordGiveUp(source, kind string) {
	GiveUpTotal.WithLabelValues(source, kind).Inc()
}

// SetLastSuccess records the time of the last good value.
func SetLastSuccess(source string, at time.Time) {
	lastSuccess.WithLabelValues(source).Set(float64(at.UnixNano()) / 1e9)
}
