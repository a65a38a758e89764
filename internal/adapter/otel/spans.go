package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "guardian"

// StartIngestSpan starts a span covering the persistence of one worker event.
func StartIngestSpan(ctx context.Context, eventType, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ingest",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("session.id", sessionID),
		),
	)
}

// StartTakeoverSpan starts a span for a takeover or release dispatch.
func StartTakeoverSpan(ctx context.Context, action, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "takeover",
		trace.WithAttributes(
			attribute.String("takeover.action", action),
			attribute.String("session.id", sessionID),
		),
	)
}
