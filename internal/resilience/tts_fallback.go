package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/cafevox/pkg/provider/tts"
)

// TTSFallback is the [tts.Provider] used for spoken replies. It tries each
// speech backend in turn, skipping those whose circuit is open.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] preferring primary. An empty reply
// fails immediately with [tts.ErrEmptyText] and never counts against a
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	cfg.Permanent = orPermanent(cfg.Permanent, func(err error) bool { return errors.Is(err, tts.ErrEmptyText) })
	cfg.CircuitBreaker.IsFailure = orNotFailure(cfg.CircuitBreaker.IsFailure, tts.ErrEmptyText)
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers a backend tried after those already registered.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text with the first backend that succeeds. Every
// backend receives the same voice profile.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Audio, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*tts.Audio, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// Status lists the breaker state of every registered backend.
func (f *TTSFallback) Status() []ProviderStatus { return f.group.Status() }

// Ping fails when every registered backend has an open circuit.
func (f *TTSFallback) Ping(ctx context.Context) error { return f.group.Ping(ctx) }
