package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for outhook, backed by any go-utils
// MetricFactory.
type Metrics struct {
	EventsTriggeredTotal gu.Counter
	DeliveriesTotal      gu.Counter
	DeliveryLatency      gu.Histogram
	DLQSize              gu.Gauge
	PendingDeliveries    gu.Gauge
	HandshakesTotal      gu.Counter
}

// NewMetrics creates outhook metric instruments using the supplied factory.
// Pass metrics.NewMetricsCollector() for standalone usage.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsTriggeredTotal: factory.Counter("outhook_events_triggered_total"),
		DeliveriesTotal:      factory.Counter("outhook_deliveries_total"),
		DeliveryLatency:      factory.Histogram("outhook_delivery_latency_seconds"),
		DLQSize:              factory.Gauge("outhook_dlq_size"),
		PendingDeliveries:    factory.Gauge("outhook_pending_deliveries"),
		HandshakesTotal:      factory.Counter("outhook_handshakes_total"),
	}
}

// RecordDelivery records a delivery attempt with the given status and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordHandshake records a verification handshake outcome.
func (m *Metrics) RecordHandshake(mode, outcome string) {
	m.HandshakesTotal.WithLabels(map[string]string{"mode": mode, "outcome": outcome}).Inc()
}
