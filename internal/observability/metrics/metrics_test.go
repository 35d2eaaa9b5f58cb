package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				if !hasLabel(m, k, v) {
					continue metric
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			if m.GetHistogram() != nil {
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, key, value string) bool {
	for _, pair := range m.GetLabel() {
		if pair.GetName() == key && pair.GetValue() == value {
			return true
		}
	}
	return false
}

func TestEngineMetrics_CountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.ObserveTurn("high", "ok", 0.42)
	m.ObserveTurn("high", "ok", 0.12)
	m.ObserveEscalation("tier1", "dispatched")
	m.ObserveClassifierFailure()
	m.ObserveAdapter("coaching", "ok")

	assert.Equal(t, 2.0, gatherValue(t, reg, "havenline_engine_turns_total",
		map[string]string{"risk_level": "high", "status": "ok"}))
	assert.Equal(t, 2.0, gatherValue(t, reg, "havenline_engine_turn_latency_seconds",
		map[string]string{"risk_level": "high"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "havenline_engine_escalations_total",
		map[string]string{"source": "tier1", "status": "dispatched"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "havenline_engine_classifier_failures_total", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "havenline_engine_adapter_invocations_total",
		map[string]string{"capability": "coaching", "status": "ok"}))
}

func TestEngineMetrics_DegradedAnalysisCountsAsFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.ObserveAnalysis("completed")
	m.ObserveAnalysis("degraded")
	m.ObserveAnalysis("skipped_policy")

	assert.Equal(t, 1.0, gatherValue(t, reg, "havenline_engine_analyses_total",
		map[string]string{"outcome": "degraded"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "havenline_engine_analyzer_failures_total", nil))
}

func TestEngineMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *EngineMetrics

	assert.NotPanics(t, func() {
		m.ObserveTurn("low", "ok", 0.1)
		m.ObserveEscalation("tier2", "failed")
		m.ObserveClassifierFailure()
		m.ObserveAnalysis("degraded")
		m.ObserveAdapter("safety-triage", "error")
	})
}
