// Package observe holds the cafevox telemetry: OpenTelemetry instruments for
// the voice pipeline, session-aware spans and loggers, and the HTTP
// middleware.
//
// Instruments live on [Metrics]. The process-wide instance from
// [DefaultMetrics] is exported on /metrics once [InitProvider] has run;
// tests build their own with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all cafevox metrics.
const meterName = "github.com/MrWong99/cafevox"

// Turn outcomes recorded by [Metrics.RecordTurn].
const (
	OutcomeOK        = "ok"
	OutcomeNoSpeech  = "no_speech"
	OutcomeDiscarded = "discarded"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the OpenTelemetry instruments. All of them are safe for
// concurrent use.
type Metrics struct {
	// ─── Latency, in seconds ───

	STTDuration metric.Float64Histogram
	// LLMDuration covers the whole completion stream.
	LLMDuration metric.Float64Histogram
	// LLMFirstDelta is the time until the first displayable text.
	LLMFirstDelta metric.Float64Histogram
	TTSDuration   metric.Float64Histogram
	// TurnDuration runs from end of recording to reply audio or failure,
	// labelled by "outcome".
	TurnDuration metric.Float64Histogram
	// HTTPRequestDuration is labelled by "method" and "path", the route
	// pattern.
	HTTPRequestDuration metric.Float64Histogram

	// ─── Counters ───

	ProviderRequests   metric.Int64Counter // provider, kind, status
	ProviderErrors     metric.Int64Counter // provider, kind
	BreakerTransitions metric.Int64Counter // provider, kind, state
	Turns              metric.Int64Counter // outcome
	DroppedMessages    metric.Int64Counter // type
	CartActions        metric.Int64Counter // action, status

	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets spans fast local calls up to the 60s provider timeouts.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets []float64
	}{
		{&met.STTDuration, "cafevox.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets},
		{&met.LLMDuration, "cafevox.llm.duration", "Latency of a full LLM completion stream.", latencyBuckets},
		{&met.LLMFirstDelta, "cafevox.llm.first_delta", "Time until the first displayable LLM text.", latencyBuckets},
		{&met.TTSDuration, "cafevox.tts.duration", "Latency of text-to-speech synthesis.", latencyBuckets},
		{&met.TurnDuration, "cafevox.turn.duration", "Latency of a full voice turn by outcome.", latencyBuckets},
		{&met.HTTPRequestDuration, "cafevox.http.request.duration", "HTTP request latency by method and route.", nil},
	}
	for _, h := range histograms {
		opts := []metric.Float64HistogramOption{metric.WithDescription(h.desc), metric.WithUnit("s")}
		if h.buckets != nil {
			opts = append(opts, metric.WithExplicitBucketBoundaries(h.buckets...))
		}
		var err error
		if *h.dst, err = m.Float64Histogram(h.name, opts...); err != nil {
			return nil, fmt.Errorf("observe: histogram %s: %w", h.name, err)
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "cafevox.provider.requests", "Provider API requests by provider, kind and status."},
		{&met.ProviderErrors, "cafevox.provider.errors", "Provider errors by provider and kind."},
		{&met.BreakerTransitions, "cafevox.provider.breaker_transitions", "Circuit breaker transitions by provider, kind and new state."},
		{&met.Turns, "cafevox.turns", "Voice turns by outcome."},
		{&met.DroppedMessages, "cafevox.session.dropped_messages", "Client messages ignored by a session, by message type."},
		{&met.CartActions, "cafevox.cart.actions", "Cart actions applied by action and status."},
	}
	for _, c := range counters {
		var err error
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("observe: counter %s: %w", c.name, err)
		}
	}

	var err error
	if met.ActiveSessions, err = m.Int64UpDownCounter("cafevox.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, fmt.Errorf("observe: active sessions: %w", err)
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use
// from [otel.GetMeterProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic(err)
		}
	})
	return defaultMetrics
}

func count(ctx context.Context, c metric.Int64Counter, kv ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(kv...))
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	count(ctx, m.ProviderRequests,
		attribute.String("provider", provider), attribute.String("kind", kind), attribute.String("status", status))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	count(ctx, m.ProviderErrors, attribute.String("provider", provider), attribute.String("kind", kind))
}

// RecordBreakerTransition counts a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, kind, state string) {
	count(ctx, m.BreakerTransitions,
		attribute.String("provider", provider), attribute.String("kind", kind), attribute.String("state", state))
}

// RecordTurn counts a finished turn and records its duration.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordDropped counts a client message the session ignored.
func (m *Metrics) RecordDropped(ctx context.Context, msgType string) {
	count(ctx, m.DroppedMessages, attribute.String("type", msgType))
}

// RecordCartAction counts an applied cart action.
func (m *Metrics) RecordCartAction(ctx context.Context, action, status string) {
	count(ctx, m.CartActions, attribute.String("action", action), attribute.String("status", status))
}
