package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/vendoriq/internal/domain"
)

const tracerName = "github.com/neomorfeo/vendoriq/internal/adapter/otel"

// TracingRepository wraps a domain.ApplicationRepository with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
// Contact details and secrets never become span attributes.
type TracingRepository struct {
	next   domain.ApplicationRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.ApplicationRepository.
var _ domain.ApplicationRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.ApplicationRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) Insert(ctx context.Context, app domain.Application) error {
	ctx, span := r.tracer.Start(ctx, "ApplicationRepository.Insert",
		trace.WithAttributes(
			attribute.String("application.id", app.ID),
			attribute.String("application.status", string(app.Status)),
		),
	)
	defer span.End()

	err := r.next.Insert(ctx, app)
	recordError(span, err)
	return err
}

func (r *TracingRepository) Get(ctx context.Context, id string) (domain.Application, error) {
	ctx, span := r.tracer.Start(ctx, "ApplicationRepository.Get",
		trace.WithAttributes(attribute.String("application.id", id)),
	)
	defer span.End()

	app, err := r.next.Get(ctx, id)
	recordError(span, err)
	return app, err
}

func (r *TracingRepository) Find(ctx context.Context, filter domain.Filter) ([]domain.Application, error) {
	ctx, span := r.tracer.Start(ctx, "ApplicationRepository.Find",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
			attribute.Bool("filter.email", filter.Email != ""),
			attribute.Bool("filter.username", filter.Username != ""),
			attribute.Bool("filter.token", filter.TokenDigest != ""),
		),
	)
	defer span.End()

	if filter.Status != nil {
		span.SetAttributes(attribute.String("filter.status", string(*filter.Status)))
	}

	apps, err := r.next.Find(ctx, filter)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(apps)))
	}
	return apps, err
}

func (r *TracingRepository) UpdateIfStatus(
	ctx context.Context,
	id string,
	expected domain.Status,
	patch domain.Patch,
) (domain.Application, error) {
	ctx, span := r.tracer.Start(ctx, "ApplicationRepository.UpdateIfStatus",
		trace.WithAttributes(
			attribute.String("application.id", id),
			attribute.String("status.expected", string(expected)),
			attribute.String("status.next", string(patch.Status)),
			attribute.Bool("patch.token_guard", patch.ExpectTokenDigest != ""),
		),
	)
	defer span.End()

	app, err := r.next.UpdateIfStatus(ctx, id, expected, patch)
	recordError(span, err)
	return app, err
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
