package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the service counters. A single instance is created at
// startup and shared by the handlers; the registry is private to the service
// so tests can create throwaway instances.
type Metrics struct {
	registry *prometheus.Registry

	// Notifications counts gateway notifications by outcome:
	// confirmed, failed, refunded, duplicate, malformed,
	// signature_mismatch, unknown_order.
	Notifications *prometheus.CounterVec
	// SignatureFailures counts rejected signatures across both gateways.
	SignatureFailures prometheus.Counter
	// PaymentsConfirmed counts orders transitioned to confirmed.
	PaymentsConfirmed prometheus.Counter
	// WebhookEvents counts card-processor webhook events by type and outcome.
	WebhookEvents *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pedalpay_notifications_total",
			Help: "Redirect gateway notifications by outcome.",
		}, []string{"result"}),
		SignatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pedalpay_signature_failures_total",
			Help: "Inbound payloads rejected on signature verification.",
		}),
		PaymentsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pedalpay_payments_confirmed_total",
			Help: "Orders confirmed by a verified payment.",
		}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pedalpay_card_webhook_events_total",
			Help: "Card processor webhook events by type and outcome.",
		}, []string{"type", "result"}),
	}
	registry.MustRegister(m.Notifications, m.SignatureFailures, m.PaymentsConfirmed, m.WebhookEvents)
	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
