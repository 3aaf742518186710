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

// useTestTracer installs an in-memory span exporter as the global tracer
// provider for the duration of the test.
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

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	useTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "voice.turn")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not 32 lowercase hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestWithSession_RoundTrip(t *testing.T) {
	ctx := WithSession(context.Background(), "sess-1", "alice")
	sid, uid := SessionFrom(ctx)
	if sid != "sess-1" || uid != "alice" {
		t.Errorf("SessionFrom = (%q, %q), want (sess-1, alice)", sid, uid)
	}

	sid, uid = SessionFrom(context.Background())
	if sid != "" || uid != "" {
		t.Errorf("SessionFrom(background) = (%q, %q), want empty", sid, uid)
	}
}

func TestStartSpan_TagsSession(t *testing.T) {
	exp := useTestTracer(t)

	ctx := WithSession(context.Background(), "sess-1", "alice")
	_, span := StartSpan(ctx, "voice.stt")
	span.End()
	_, plain := StartSpan(context.Background(), "voice.chat")
	plain.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	attrs := map[string]string{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.AsString()
	}
	if spans[0].Name != "voice.stt" || attrs[string(AttrSessionID)] != "sess-1" || attrs[string(AttrUserID)] != "alice" {
		t.Errorf("session span = %s %v", spans[0].Name, attrs)
	}
	if len(spans[1].Attributes) != 0 {
		t.Errorf("span without session has attributes %v", spans[1].Attributes)
	}
}

func TestLogger_Attributes(t *testing.T) {
	useTestTracer(t)

	tests := []struct {
		name    string
		ctx     func() context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     context.Background,
			notWant: []string{"trace_id", "session_id", "user_id"},
		},
		{
			name: "span only",
			ctx: func() context.Context {
				ctx, _ := StartSpan(context.Background(), "voice.llm")
				return ctx
			},
			want:    []string{"trace_id=", "span_id="},
			notWant: []string{"session_id"},
		},
		{
			name: "session and span",
			ctx: func() context.Context {
				ctx, _ := StartSpan(WithSession(context.Background(), "sess-9", "bob"), "voice.turn")
				return ctx
			},
			want: []string{"trace_id=", "session_id=sess-9", "user_id=bob"},
		},
		{
			name: "user only",
			ctx: func() context.Context {
				return WithSession(context.Background(), "", "carol")
			},
			want:    []string{"user_id=carol"},
			notWant: []string{"session_id", "trace_id"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tc.ctx()).Info("voice: turn finished")

			logged := buf.String()
			for _, w := range tc.want {
				if !strings.Contains(logged, w) {
					t.Errorf("log %q missing %q", logged, w)
				}
			}
			for _, nw := range tc.notWant {
				if strings.Contains(logged, nw) {
					t.Errorf("log %q should not contain %q", logged, nw)
				}
			}
		})
	}
}
