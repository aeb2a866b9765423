package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/vendoriq/internal/domain"
)

// TracingNotifier wraps a domain.Notifier with OpenTelemetry tracing.
// Template variables are not recorded.
type TracingNotifier struct {
	next   domain.Notifier
	tracer trace.Tracer
}

// Compile-time check: TracingNotifier implements domain.Notifier.
var _ domain.Notifier = (*TracingNotifier)(nil)

// NewTracingNotifier creates a tracing decorator around the given notifier.
func NewTracingNotifier(next domain.Notifier) *TracingNotifier {
	return &TracingNotifier{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (n *TracingNotifier) Send(ctx context.Context, msg domain.Notification) (domain.Delivery, error) {
	ctx, span := n.tracer.Start(ctx, "Notifier.Send",
		trace.WithAttributes(
			attribute.String("notification.kind", string(msg.Kind)),
			attribute.String("application.id", msg.ApplicationID),
		),
	)
	defer span.End()

	delivery, err := n.next.Send(ctx, msg)
	if err != nil {
		recordError(span, err)
		return delivery, err
	}
	span.SetAttributes(
		attribute.String("delivery.id", delivery.ID),
		attribute.Bool("delivery.duplicate", delivery.Duplicate),
	)
	return delivery, nil
}
