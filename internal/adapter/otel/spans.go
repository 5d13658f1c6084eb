package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "voyago"

// StartGenerationSpan starts a span for an itinerary generation kickoff.
func StartGenerationSpan(ctx context.Context, itineraryID, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "generation",
		trace.WithAttributes(
			attribute.String("itinerary.id", itineraryID),
			attribute.String("task.id", taskID),
		),
	)
}

// StartReplanSpan starts a span for a replan kickoff.
func StartReplanSpan(ctx context.Context, itineraryID, taskID, triggerType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "replan",
		trace.WithAttributes(
			attribute.String("itinerary.id", itineraryID),
			attribute.String("task.id", taskID),
			attribute.String("replan.trigger", triggerType),
		),
	)
}

// StartAlertSpan starts a span for a proactive alert fan-out.
func StartAlertSpan(ctx context.Context, itineraryID, alertType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "alert",
		trace.WithAttributes(
			attribute.String("itinerary.id", itineraryID),
			attribute.String("alert.type", alertType),
		),
	)
}
