package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the HeroAI tracer.
const tracerName = "github.com/MrWong99/heroai"

// Span names.
const (
	SpanLiveStart     = "live.Start"
	SpanAssistRequest = "assist.Request"
)

// Span attribute keys.
const (
	KeySessionID = attribute.Key("heroai.session.id")
	KeyModel     = attribute.Key("heroai.live.model")
	KeyVoice     = attribute.Key("heroai.live.voice")
	KeyTool      = attribute.Key("heroai.tool")
	KeyBackend   = attribute.Key("heroai.tool.backend")
	KeyToolModel = attribute.Key("heroai.tool.model")
)

// Tracer returns the HeroAI tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan starts the span covering a live session's connection
// attempt, tagged with the session id and the requested model and voice.
func StartSessionSpan(ctx context.Context, sessionID, model, voice string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanLiveStart, trace.WithAttributes(
		KeySessionID.String(sessionID),
		KeyModel.String(model),
		KeyVoice.String(voice),
	))
}

// StartToolSpan starts the span covering one assist tool request.
// [ToolServed] adds the backend that answered.
func StartToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanAssistRequest, trace.WithAttributes(KeyTool.String(tool)))
}

// ToolServed records which backend and model served the request of span.
func ToolServed(span trace.Span, backend, model string) {
	span.SetAttributes(KeyBackend.String(backend), KeyToolModel.String(model))
}

// Logger returns the default logger with trace_id and span_id from ctx when
// it carries a span context.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// SessionLogger is [Logger] with the live session id attached.
func SessionLogger(ctx context.Context, sessionID string) *slog.Logger {
	return Logger(ctx).With("session_id", sessionID)
}
