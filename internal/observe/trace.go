package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every intervox span.
const tracerName = "github.com/MrWong99/intervox"

// Span names of the interview pipeline. A session.turn span parents the
// stt, dialogue and tts spans of one candidate utterance.
const (
	SpanSessionRun  = "session.run"
	SpanSessionTurn = "session.turn"
	SpanSTT         = "stt.transcribe"
	SpanDialogue    = "dialogue.next_turn"
	SpanTTS         = "tts.synthesize"
	SpanEvaluate    = "evaluate.complete"
)

// AttrSessionID tags session spans with the interview they belong to.
const AttrSessionID = attribute.Key("session.id")

// Tracer returns the intervox tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts span name as a child of ctx. The caller ends the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan starts span name tagged with sessionID.
func StartSessionSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(AttrSessionID.String(sessionID)))
}

// CorrelationID is the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached
// when ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// SessionLogger is [Logger] with session_id attached.
func SessionLogger(ctx context.Context, sessionID string) *slog.Logger {
	return Logger(ctx).With(slog.String("session_id", sessionID))
}
