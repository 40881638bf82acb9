package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const deliveryTracerName = "delivery"

// StartDeliverySpan opens a consumer span for one delivery attempt on a lane.
func StartDeliverySpan(ctx context.Context, lane, notificationID string, attempt int) (context.Context, trace.Span) {
	tracer := otel.Tracer(deliveryTracerName)
	ctx, span := tracer.Start(ctx, "deliver "+lane, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("messaging.destination", lane),
		attribute.String("notification.id", notificationID),
		attribute.Int("notification.attempt", attempt),
	)
	return ctx, span
}

// RecordError marks the span failed with the error recorded on it.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
