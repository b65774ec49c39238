package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

// captureLogs points the default logger at a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_EmptyByDefault(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestStartSpan_TagsSession(t *testing.T) {
	exp := useTestTracer(t)

	ctx := WithSession(context.Background(), "set-42")
	ctx, span := StartSpan(ctx, "recognition.start")
	if cid := CorrelationID(ctx); len(cid) != 32 {
		t.Errorf("correlation ID = %q, want 32 hex chars", cid)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "recognition.start" {
		t.Fatalf("spans = %+v, want one recognition.start", spans)
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "session.id" && a.Value.AsString() == "set-42" {
			found = true
		}
	}
	if !found {
		t.Error("span missing session.id attribute")
	}
}

func TestSessionID(t *testing.T) {
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	if got := SessionID(WithSession(context.Background(), "abc")); got != "abc" {
		t.Errorf("SessionID = %q, want abc", got)
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("plain")
	plain := buf.String()
	if strings.Contains(plain, "trace_id") || strings.Contains(plain, "session=") {
		t.Errorf("plain log carries context attrs: %s", plain)
	}

	buf.Reset()
	ctx, span := StartSpan(WithSession(context.Background(), "set-7"), "log-test")
	defer span.End()
	Logger(ctx).Info("enriched")
	got := buf.String()
	for _, want := range []string{"session=set-7", "trace_id=", "span_id="} {
		if !strings.Contains(got, want) {
			t.Errorf("log output missing %q: %s", want, got)
		}
	}
}
