package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livefeed_cache_entries",
		Help: "Number of entries held by the last-known-good cache",
	})

	CacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livefeed_cache_evictions_total",
		Help: "Total LRU evictions from the last-known-good cache",
	})

	MirrorFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_mirror_failures_total",
		Help: "Total durable mirror failures by operation",
	}, []string{"op"})

	MirrorLoadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_mirror_preload_total",
		Help: "Mirrored entries seen at start by result (loaded, expired, corrupt)",
	}, []string{"result"})
)

// SetCacheEntries records the cache size.
func SetCacheEntries(n int) { cacheEntries.Set(float64(n)) }

// IncCacheEviction records one LRU eviction.
func IncCacheEviction() { CacheEvictionsTotal.Inc() }

// IncMirrorFailure records a failed mirror operation ("load" or "store").
func IncMirrorFailure(op string) { MirrorFailuresTotal.WithLabelValues(op).Inc() }

// IncMirrorPreload records the fate of one mirrored entry at start.
func IncMirrorPreload(result string) { MirrorLoadedTotal.WithLabelValues(result).Inc() }
