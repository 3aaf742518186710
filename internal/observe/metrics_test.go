package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor adds up every data point of counter name that carries key=value.
// An empty key matches all points.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want a sum", name, met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestNewMetrics_LatencyBuckets(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.STTDuration.Record(ctx, 0.4)
	m.LLMDuration.Record(ctx, 3)
	m.LLMFirstDelta.Record(ctx, 0.2)
	m.TTSDuration.Record(ctx, 0.9)
	m.HTTPRequestDuration.Record(ctx, 0.003)
	rm := collect(t, reader)

	tests := []struct {
		name        string
		wantBuckets int
	}{
		{"cafevox.stt.duration", len(latencyBuckets)},
		{"cafevox.llm.duration", len(latencyBuckets)},
		{"cafevox.llm.first_delta", len(latencyBuckets)},
		{"cafevox.tts.duration", len(latencyBuckets)},
		// SDK default boundaries.
		{"cafevox.http.request.duration", 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met := findMetric(rm, tt.name)
			if met == nil {
				t.Fatal("metric not found")
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("data = %+v, want one histogram point", met.Data)
			}
			dp := hist.DataPoints[0]
			if dp.Count != 1 {
				t.Errorf("count = %d, want 1", dp.Count)
			}
			if len(dp.Bounds) != tt.wantBuckets {
				t.Errorf("got %d bucket bounds, want %d", len(dp.Bounds), tt.wantBuckets)
			}
		})
	}
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "llamacpp", "llm", "ok")
	m.RecordProviderRequest(ctx, "llamacpp", "llm", "ok")
	m.RecordProviderRequest(ctx, "llamacpp", "llm", "error")
	m.RecordProviderError(ctx, "kokoro", "tts")
	m.RecordBreakerTransition(ctx, "whisper", "stt", "open")
	m.RecordBreakerTransition(ctx, "whisper", "stt", "half-open")
	m.RecordBreakerTransition(ctx, "kokoro", "tts", "open")
	m.RecordDropped(ctx, "audio")
	m.RecordDropped(ctx, "audio")
	m.RecordDropped(ctx, "stop")
	m.RecordCartAction(ctx, "ADD", "ok")
	m.RecordCartAction(ctx, "REMOVE", "error")
	rm := collect(t, reader)

	tests := []struct {
		metric     string
		key, value string
		want       int64
	}{
		{"cafevox.provider.requests", "status", "ok", 2},
		{"cafevox.provider.requests", "", "", 3},
		{"cafevox.provider.errors", "kind", "tts", 1},
		{"cafevox.provider.breaker_transitions", "state", "open", 2},
		{"cafevox.provider.breaker_transitions", "provider", "whisper", 2},
		{"cafevox.session.dropped_messages", "type", "audio", 2},
		{"cafevox.session.dropped_messages", "type", "stop", 1},
		{"cafevox.cart.actions", "status", "error", 1},
	}
	for _, tt := range tests {
		if got := sumFor(t, rm, tt.metric, tt.key, tt.value); got != tt.want {
			t.Errorf("%s{%s=%q} = %d, want %d", tt.metric, tt.key, tt.value, got, tt.want)
		}
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, OutcomeOK, 2*time.Second)
	m.RecordTurn(ctx, OutcomeOK, time.Second)
	m.RecordTurn(ctx, OutcomeNoSpeech, 300*time.Millisecond)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "cafevox.turns", "outcome", OutcomeOK); got != 2 {
		t.Errorf("ok turns = %d, want 2", got)
	}
	if got := sumFor(t, rm, "cafevox.turns", "outcome", OutcomeNoSpeech); got != 1 {
		t.Errorf("no_speech turns = %d, want 1", got)
	}

	hist, ok := findMetric(rm, "cafevox.turn.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 2 {
		t.Fatalf("turn duration = %+v, want one point per outcome", hist)
	}
	for _, dp := range hist.DataPoints {
		if v, _ := dp.Attributes.Value("outcome"); v.AsString() == OutcomeOK && dp.Sum != 3 {
			t.Errorf("ok turn seconds = %v, want 3", dp.Sum)
		}
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	if got := sumFor(t, collect(t, reader), "cafevox.active_sessions", "", ""); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
