// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (an OpenAI-compatible
// /v1/audio/speech server such as Kokoro via speaches, or a Coqui TTS server)
// and turns one reply into one playable audio file. Replies are short, so
// the whole file is returned at once and handed to the client for playback.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned by Synthesize when there is nothing to speak.
var ErrEmptyText = errors.New("tts: empty text")

// VoiceProfile selects and tunes a voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "af_sky").
	ID string `yaml:"id"`

	// Model overrides the provider's default model when non-empty.
	Model string `yaml:"model"`

	// SpeedFactor adjusts speaking rate (0.25–4.0, 0 or 1.0 = default).
	SpeedFactor float64 `yaml:"speed"`

	// Language is a language hint for multilingual voices.
	Language string `yaml:"language"`
}

// Audio is a synthesized, self-contained audio file.
type Audio struct {
	// Data is the encoded file (e.g. a complete WAV).
	Data []byte

	// MimeType describes Data, e.g. "audio/wav".
	MimeType string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice. It returns
	// [ErrEmptyText] for blank input and a wrapped transport error on
	// failure.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (*Audio, error)
}
