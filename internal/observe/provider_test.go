package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTracerProvider_Sampling(t *testing.T) {
	sampledParent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01},
		SpanID:     trace.SpanID{0x02},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})

	tests := []struct {
		name   string
		ratio  float64
		parent *trace.SpanContext
		want   bool
	}{
		{"ratio one samples roots", 1, nil, true},
		{"ratio zero drops roots", 0, nil, false},
		{"sampled parent wins over ratio zero", 0, &sampledParent, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := newTracerProvider(resource.Empty(), ProviderConfig{SampleRatio: tt.ratio})
			t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

			ctx := context.Background()
			if tt.parent != nil {
				ctx = trace.ContextWithRemoteSpanContext(ctx, *tt.parent)
			}
			_, span := tp.Tracer("test").Start(ctx, "turn")
			defer span.End()

			if got := span.SpanContext().IsSampled(); got != tt.want {
				t.Errorf("sampled = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceResource(t *testing.T) {
	res, err := serviceResource(ProviderConfig{ServiceVersion: "1.2.0"})
	if err != nil {
		t.Fatalf("serviceResource: %v", err)
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got["service.name"] != DefaultServiceName {
		t.Errorf("service.name = %q, want %q", got["service.name"], DefaultServiceName)
	}
	if got["service.version"] != "1.2.0" {
		t.Errorf("service.version = %q, want 1.2.0", got["service.version"])
	}
}
