package server

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gridwire/gridwire/pkg/protocol"
)

// tracerName identifies this package's tracer in the global provider.
const tracerName = "gridwire"

// tracer resolves lazily so applications can install their provider in
// main() before the server starts.
func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startIntentSpan opens a span for one intent's trip through the engine.
func startIntentSpan(ctx context.Context, sessionID string, in *protocol.Intent) (context.Context, trace.Span) {
	return tracer().Start(ctx, "engine.apply_intent",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("intent.op", in.Op.String()),
			attribute.Int64("intent.seq", int64(in.Seq)),
		))
}

// endIntentSpan records the outcome and closes the span.
func endIntentSpan(span trace.Span, version uint64, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int64("world.version", int64(version)))
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
