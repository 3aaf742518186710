// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (for example an
// OpenAI-compatible faster-whisper server) and exposes a uniform interface:
// one complete utterance in, one transcript out. Recordings are short and
// end on voice activity, so streaming partials are not part of the contract.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned by Transcribe when the request carries no audio.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request describes one utterance to transcribe.
type Request struct {
	// Audio is the complete recording in the container named by MimeType.
	Audio []byte

	// MimeType is the container format, e.g. "audio/webm;codecs=opus" or
	// "audio/wav". Raw PCM16 must be wrapped in WAV by the caller.
	MimeType string

	// Language is a language hint (e.g. "en"). Empty lets the provider
	// auto-detect, if supported.
	Language string

	// Model overrides the provider's default model when non-empty.
	Model string
}

// Transcript is the result of a transcription.
type Transcript struct {
	// Text is the recognised speech. Blank when nothing was understood.
	Text string

	// Language is the detected or echoed language, when reported.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one recording to text. It returns [ErrEmptyAudio]
	// for requests without audio and a wrapped transport error on failure.
	// A blank Transcript.Text is a successful result, not an error.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}
