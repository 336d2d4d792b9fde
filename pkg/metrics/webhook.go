package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts gateway webhook deliveries by outcome.
type WebhookMetrics struct {
	received *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Gateway webhook deliveries grouped by gateway and outcome.",
	}, []string{"gateway", "outcome"})
	reg.MustRegister(received)
	return &WebhookMetrics{received: received}
}

func (w *WebhookMetrics) Observe(gateway, outcome string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(gateway), normalizeLabel(outcome)).Inc()
}
