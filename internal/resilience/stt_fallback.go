package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/cafevox/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
// Empty audio is never retried on a fallback.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.Permanent = orPermanent(cfg.Permanent, func(err error) bool {
		return errors.Is(err, stt.ErrEmptyAudio)
	})
	cfg.CircuitBreaker.IsFailure = orNotFailure(cfg.CircuitBreaker.IsFailure, stt.ErrEmptyAudio)
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the recording to the first healthy provider. If the
// primary fails, subsequent fallbacks are tried.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (*stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

// orPermanent combines two permanence predicates.
func orPermanent(a, b func(error) bool) func(error) bool {
	if a == nil {
		return b
	}
	return func(err error) bool { return a(err) || b(err) }
}

// orNotFailure wraps a breaker failure predicate so that target never trips
// the breaker.
func orNotFailure(isFailure func(error) bool, target error) func(error) bool {
	if isFailure == nil {
		isFailure = defaultIsFailure
	}
	return func(err error) bool {
		return !errors.Is(err, target) && isFailure(err)
	}
}

// Status lists the breaker state of every registered provider.
func (f *STTFallback) Status() []ProviderStatus { return f.group.Status() }

// Ping fails when every registered provider has an open circuit.
func (f *STTFallback) Ping(ctx context.Context) error { return f.group.Ping(ctx) }
