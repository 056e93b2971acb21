package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "x402r-arbiter"

// StartEvaluationSpan starts a span for one dispute evaluation.
func StartEvaluationSpan(ctx context.Context, disputeKey string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "evaluate",
		trace.WithAttributes(attribute.String("dispute.key", disputeKey)),
	)
}

// StartReplaySpan starts a span for a replay verification.
func StartReplaySpan(ctx context.Context, disputeKey string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "replay",
		trace.WithAttributes(attribute.String("dispute.key", disputeKey)),
	)
}

// StartTickSpan starts a span for a scheduler pass.
func StartTickSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "scheduler.tick")
}
