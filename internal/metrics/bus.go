// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_bus_published_total",
		Help: "Total number of events published on the in-process bus by channel kind",
	}, []string{"channel"})

	BusSubscriberFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_bus_subscriber_faults_total",
		Help: "Total number of subscriber handlers that panicked during delivery",
	}, []string{"channel"})

	BusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livefeed_bus_subscribers",
		Help: "Number of active bus subscriptions",
	})

	StreamDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_stream_dropped_total",
		Help: "Total number of events dropped for slow streaming clients",
	}, []string{"reason"})
)

// IncBusPublished records a published event. Per-source channels are folded
// into their kind ("update", "error") to keep label cardinality bounded.
func IncBusPublished(channelKind string) {
	if channelKind == "" {
		channelKind = "unknown"
	}
	BusPublishedTotal.WithLabelValues(channelKind).Inc()
}

// IncSubscriberFault records a panicking subscriber.
func IncSubscriberFault(channelKind string) {
	if channelKind == "" {
		channelKind = "unknown"
	}
	BusSubscriberFaultsTotal.WithLabelValues(channelKind).Inc()
}

// SetBusSubscribers records the current subscription count.
func SetBusSubscribers(n int) {
	BusSubscribers.Set(float64(n))
}

// IncStreamDrop records an event dropped for a streaming client.
func IncStreamDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	StreamDroppedTotal.WithLabelValues(reason).Inc()
}
