package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/cafevox"

// Span attribute keys for session-scoped spans.
const (
	AttrSessionID = attribute.Key("cafevox.session_id")
	AttrUserID    = attribute.Key("cafevox.user_id")
)

// Tracer returns the cafevox tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

type sessionKey struct{}

type sessionInfo struct {
	sessionID string
	userID    string
}

// WithSession returns a context carrying the voice session and user that
// the work in ctx belongs to. Spans started by [StartSpan] and loggers from
// [Logger] pick them up. Either id may be empty.
func WithSession(ctx context.Context, sessionID, userID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionInfo{sessionID: sessionID, userID: userID})
}

// SessionFrom returns the ids stored by [WithSession].
func SessionFrom(ctx context.Context) (sessionID, userID string) {
	info, _ := ctx.Value(sessionKey{}).(sessionInfo)
	return info.sessionID, info.userID
}

// StartSpan starts a span named name and tags it with the session and user
// from ctx, if any. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	sid, uid := SessionFrom(ctx)
	var attrs []attribute.KeyValue
	if sid != "" {
		attrs = append(attrs, AttrSessionID.String(sid))
	}
	if uid != "" {
		attrs = append(attrs, AttrUserID.String(uid))
	}
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the span in ctx, or "". It is echoed
// to HTTP clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the trace, span, session and user
// ids found in ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	sid, uid := SessionFrom(ctx)
	if sid != "" {
		args = append(args, slog.String("session_id", sid))
	}
	if uid != "" {
		args = append(args, slog.String("user_id", uid))
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
