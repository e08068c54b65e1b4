package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test. Tests using it must not run in parallel.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]string {
	out := make(map[attribute.Key]string, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestStartSessionSpan(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSessionSpan(context.Background(), "sess-1", "gemini-live", "Zephyr")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != SpanLiveStart {
		t.Errorf("name = %q, want %q", spans[0].Name, SpanLiveStart)
	}
	got := attrs(spans[0].Attributes)
	want := map[attribute.Key]string{
		KeySessionID: "sess-1",
		KeyModel:     "gemini-live",
		KeyVoice:     "Zephyr",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestStartToolSpan_ToolServed(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartToolSpan(context.Background(), "chat")
	ToolServed(span, "anyllm/ollama", "llama3.2")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != SpanAssistRequest {
		t.Fatalf("spans = %+v, want one %s", spans, SpanAssistRequest)
	}
	got := attrs(spans[0].Attributes)
	if got[KeyTool] != "chat" || got[KeyBackend] != "anyllm/ollama" || got[KeyToolModel] != "llama3.2" {
		t.Errorf("attributes = %v", got)
	}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestSessionLogger(t *testing.T) {
	useTestTracer(t)
	buf := captureLogs(t)

	ctx, span := StartSessionSpan(context.Background(), "sess-42", "", "")
	defer span.End()
	SessionLogger(ctx, "sess-42").Info("live session dialled")

	out := buf.String()
	for _, want := range []string{"session_id=sess-42", "trace_id=" + span.SpanContext().TraceID().String(), "span_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestLogger_NoSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("tool request served")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log output has trace_id without a span: %s", buf.String())
	}
}
