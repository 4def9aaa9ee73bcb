package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
)

// SettlementMetrics records sale settlement outcomes.
type SettlementMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	aborted  *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_total",
		Help: "Sale settlements by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_duration_seconds",
		Help:    "Duration of sale settlements in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	aborted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_aborted_total",
		Help: "Aborted settlements by the last lifecycle state reached and error code.",
	}, []string{"state", "code"})
	reg.MustRegister(total, duration, aborted)
	return &SettlementMetrics{
		total:    total,
		duration: duration,
		aborted:  aborted,
	}
}

// ObserveCommitted records a committed settlement.
func (m *SettlementMetrics) ObserveCommitted(d time.Duration) {
	if m == nil || m.total == nil {
		return
	}
	m.total.WithLabelValues(OutcomeCommitted).Inc()
	m.duration.WithLabelValues(OutcomeCommitted).Observe(d.Seconds())
}

// ObserveAborted records an aborted settlement along with where it stopped.
func (m *SettlementMetrics) ObserveAborted(d time.Duration, state, code string) {
	if m == nil || m.total == nil {
		return
	}
	m.total.WithLabelValues(OutcomeAborted).Inc()
	m.duration.WithLabelValues(OutcomeAborted).Observe(d.Seconds())
	m.aborted.WithLabelValues(normalizeLabel(state), normalizeLabel(code)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
