package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records settlement engine transition outcomes.
type EngineMetrics struct {
	transitions  *prometheus.CounterVec
	externalCall *prometheus.HistogramVec
}

// NewEngineMetrics registers the engine metrics on the provided registerer.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_transitions_total",
		Help: "Trade state transition attempts by target state and outcome.",
	}, []string{"target", "outcome"})
	externalCall := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "external_call_duration_seconds",
		Help:    "Duration of payment/dispatch provider calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
	reg.MustRegister(transitions, externalCall)
	return &EngineMetrics{
		transitions:  transitions,
		externalCall: externalCall,
	}
}

// IncTransition records a transition attempt outcome.
func (m *EngineMetrics) IncTransition(target, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(target), normalizeLabel(outcome)).Inc()
}

// ObserveExternalCall records a provider call duration.
func (m *EngineMetrics) ObserveExternalCall(provider, operation string, duration time.Duration) {
	if m == nil || m.externalCall == nil {
		return
	}
	m.externalCall.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(duration.Seconds())
}
