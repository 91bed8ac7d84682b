package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/RestDB/outhook"

// Tracer provides OpenTelemetry tracing for outhook.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new outhook tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, eventID, subscriptionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "outhook.delivery",
		trace.WithAttributes(
			attribute.String("outhook.delivery_id", deliveryID),
			attribute.String("outhook.event_id", eventID),
			attribute.String("outhook.subscription_id", subscriptionID),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("outhook.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("outhook.error", err))
	}
	span.End()
}
