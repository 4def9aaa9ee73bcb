package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	PublishResultPublished = "published"
	PublishResultFailed    = "failed"
	PublishResultTerminal  = "terminal"
)

// OutboxMetrics counts outbox publish attempts per sink.
type OutboxMetrics struct {
	published *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox publish attempts by sink and result.",
	}, []string{"sink", "result"})
	reg.MustRegister(published)
	return &OutboxMetrics{published: published}
}

// Inc records one publish attempt result.
func (m *OutboxMetrics) Inc(sink, result string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(sink), normalizeLabel(result)).Inc()
}
