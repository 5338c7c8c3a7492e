package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs a global tracer provider that records into the returned
// exporter for the duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
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

// captureLog points slog.Default at a text buffer for the duration of the
// test.
func captureLog(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestEndSpan(t *testing.T) {
	exp := useTracer(t)

	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "engine.evaluate", want: codes.Unset},
		{name: "engine.liveness", err: errors.New("liveness backend down"), want: codes.Error},
	}
	for _, tt := range tests {
		exp.Reset()
		_, span := StartSpan(context.Background(), tt.name)
		EndSpan(span, tt.err)

		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("%s: spans = %d, want 1", tt.name, len(spans))
		}
		got := spans[0]
		if got.Name != tt.name {
			t.Errorf("name = %q, want %q", got.Name, tt.name)
		}
		if got.Status.Code != tt.want {
			t.Errorf("%s: status = %v, want %v", tt.name, got.Status.Code, tt.want)
		}
		if tt.err != nil && len(got.Events) == 0 {
			t.Errorf("%s: error not recorded as span event", tt.name)
		}
	}
}

func TestTraceID(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}

	useTracer(t)
	ctx, span := StartSpan(context.Background(), "recorder.session")
	defer span.End()

	got := TraceID(ctx)
	if want := span.SpanContext().TraceID().String(); got != want {
		t.Errorf("TraceID = %q, want %q", got, want)
	}
	if len(got) != 32 {
		t.Errorf("TraceID length = %d, want 32", len(got))
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)

	t.Run("with span", func(t *testing.T) {
		buf := captureLog(t, slog.LevelInfo)
		ctx, span := StartSpan(context.Background(), "engine.evaluate")
		defer span.End()

		Logger(ctx).Warn("collaborator failed")
		out := buf.String()
		if !strings.Contains(out, "trace_id="+TraceID(ctx)) {
			t.Errorf("missing trace_id in %q", out)
		}
		if !strings.Contains(out, "span_id="+span.SpanContext().SpanID().String()) {
			t.Errorf("missing span_id in %q", out)
		}
	})

	t.Run("without span", func(t *testing.T) {
		buf := captureLog(t, slog.LevelInfo)
		Logger(context.Background()).Warn("collaborator failed")
		if out := buf.String(); strings.Contains(out, "trace_id") {
			t.Errorf("unexpected trace_id in %q", out)
		}
	})
}
