package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	supervisorPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livefeed_supervisor_phase",
		Help: "Current supervisor phase (the active phase is 1; others 0)",
	}, []string{"phase"})

	activeSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livefeed_active_sources",
		Help: "Number of running source workers",
	})
)

var phases = []string{"Starting", "Live", "Degraded", "Offline", "Stopped"}

// SetSupervisorPhase records the active phase.
func SetSupervisorPhase(phase string) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		supervisorPhase.WithLabelValues(p).Set(v)
	}
}

// SetActiveSources records the number of running workers.
func SetActiveSources(n int) { activeSources.Set(float64(n)) }
