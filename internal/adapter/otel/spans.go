package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chathub"

// StartBroadcastSpan starts a span covering one fan-out.
func StartBroadcastSpan(ctx context.Context, messageID string, recipients int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "broadcast",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.Int("broadcast.recipients", recipients),
		),
	)
}

// EndBroadcastSpan annotates span with the fan-out outcome and ends it.
func EndBroadcastSpan(span trace.Span, delivered, failed int) {
	span.SetAttributes(
		attribute.Int("broadcast.delivered", delivered),
		attribute.Int("broadcast.failed", failed),
	)
	span.End()
}

// StartRelaySpan starts a span for handling a relayed message.
func StartRelaySpan(ctx context.Context, subject, origin string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "relay.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", subject),
			attribute.String("chat.origin", origin),
		),
	)
}
