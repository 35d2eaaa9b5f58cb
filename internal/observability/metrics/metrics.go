package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for the conversation engine.
type EngineMetrics struct {
	turnsTotal         *prometheus.CounterVec
	escalationsTotal   *prometheus.CounterVec
	classifierFailures prometheus.Counter
	analyzerFailures   prometheus.Counter
	analysisTotal      *prometheus.CounterVec
	turnLatency        *prometheus.HistogramVec
	adapterInvocations *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "havenline",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Total turns processed",
		}, []string{"risk_level", "status"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "havenline",
			Subsystem: "engine",
			Name:      "escalations_total",
			Help:      "Total escalations dispatched to case management",
		}, []string{"source", "status"}),
		classifierFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "havenline",
			Subsystem: "engine",
			Name:      "classifier_failures_total",
			Help:      "Risk classifications that failed closed",
		}),
		analyzerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "havenline",
			Subsystem: "engine",
			Name:      "analyzer_failures_total",
			Help:      "Conversation analyses that degraded to the fail-safe assessment",
		}),
		analysisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "havenline",
			Subsystem: "engine",
			Name:      "analyses_total",
			Help:      "End-of-conversation analyses by outcome",
		}, []string{"outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "havenline",
			Subsystem: "engine",
			Name:      "turn_latency_seconds",
			Help:      "Latency of full turn processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"risk_level"}),
		adapterInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "havenline",
			Subsystem: "engine",
			Name:      "adapter_invocations_total",
			Help:      "Sub-workflow adapter invocations",
		}, []string{"capability", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.turnsTotal,
		m.escalationsTotal,
		m.classifierFailures,
		m.analyzerFailures,
		m.analysisTotal,
		m.turnLatency,
		m.adapterInvocations,
	)
	return m
}

func (m *EngineMetrics) ObserveTurn(riskLevel, status string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(riskLevel, status).Inc()
	m.turnLatency.WithLabelValues(riskLevel).Observe(seconds)
}

func (m *EngineMetrics) ObserveEscalation(source, status string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(source, status).Inc()
}

func (m *EngineMetrics) ObserveClassifierFailure() {
	if m == nil {
		return
	}
	m.classifierFailures.Inc()
}

func (m *EngineMetrics) ObserveAnalysis(outcome string) {
	if m == nil {
		return
	}
	m.analysisTotal.WithLabelValues(outcome).Inc()
	if outcome == "degraded" {
		m.analyzerFailures.Inc()
	}
}

func (m *EngineMetrics) ObserveAdapter(capability, status string) {
	if m == nil {
		return
	}
	m.adapterInvocations.WithLabelValues(capability, status).Inc()
}
