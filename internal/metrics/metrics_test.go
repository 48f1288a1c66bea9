package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, g.Write(m))
	return m.GetGauge().GetValue()
}

func TestRecordFetchIncrementsOutcome(t *testing.T) {
	before := counterValue(t, FetchTotal.WithLabelValues("metrics-src", "ok"))
	RecordFetch("metrics-src", "ok", 120*time.Millisecond)
	require.Equal(t, before+1, counterValue(t, FetchTotal.WithLabelValues("metrics-src", "ok")))
}

func TestSupervisorPhaseIsOneHot(t *testing.T) {
	SetSupervisorPhase("Degraded")
	require.Equal(t, 1.0, gaugeValue(t, supervisorPhase.WithLabelValues("Degraded")))
	require.Equal(t, 0.0, gaugeValue(t, supervisorPhase.WithLabelValues("Live")))

	SetSupervisorPhase("Live")
	require.Equal(t, 0.0, gaugeValue(t, supervisorPhase.WithLabelValues("Degraded")))
	require.Equal(t, 1.0, gaugeValue(t, supervisorPhase.WithLabelValues("Live")))
}

func TestEmptyLabelsAreNormalized(t *testing.T) {
	before := counterValue(t, BusSubscriberFaultsTotal.WithLabelValues("unknown"))
	IncSubscriberFault("")
	require.Equal(t, before+1, counterValue(t, BusSubscriberFaultsTotal.WithLabelValues("unknown")))
}
