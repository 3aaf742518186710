// Package vad defines the Engine interface for voice activity detection
// during a push-to-talk style recording.
//
// Detection works on loudness levels on the 0–128 scale produced by
// [audio.Level] or reported by a browser analyser, not on raw frames, so the
// same session logic serves both server-metered PCM and client-reported
// levels for compressed recordings.
//
// A session decides when a recording should end: after a stretch of silence
// that follows detected speech, or when the recording reaches its maximum
// duration. Implementations must be safe for concurrent use across different
// sessions. A single SessionHandle should not be shared across goroutines.
package vad

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionClosed is returned by ProcessLevel after Close.
var ErrSessionClosed = errors.New("vad: session closed")

// Default detection parameters.
const (
	DefaultSpeechThreshold = 30
	DefaultPeakRatio       = 0.2
	DefaultSilence         = 2 * time.Second
	DefaultGracePeriod     = time.Second
	DefaultMaxDuration     = 15 * time.Second
	DefaultMinSpeech       = 200 * time.Millisecond
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SpeechThreshold is the level at or above which speech is first
	// detected. Range: (0, 128].
	SpeechThreshold float64

	// PeakRatio scales the loudest level seen so far. Once speech has been
	// detected, a level below Peak*PeakRatio counts as silence. Range: (0, 1].
	PeakRatio float64

	// Silence is how long silence must last after speech before the
	// recording ends.
	Silence time.Duration

	// GracePeriod ignores silence at the start of the recording.
	GracePeriod time.Duration

	// MaxDuration ends the recording unconditionally.
	MaxDuration time.Duration

	// MinSpeech is the amount of speech below which a finished recording is
	// flagged for discarding.
	MinSpeech time.Duration
}

// DefaultConfig returns the stock detection parameters.
func DefaultConfig() Config {
	return Config{
		SpeechThreshold: DefaultSpeechThreshold,
		PeakRatio:       DefaultPeakRatio,
		Silence:         DefaultSilence,
		GracePeriod:     DefaultGracePeriod,
		MaxDuration:     DefaultMaxDuration,
		MinSpeech:       DefaultMinSpeech,
	}
}

// Validate reports the first out-of-range parameter.
func (c Config) Validate() error {
	switch {
	case c.SpeechThreshold <= 0 || c.SpeechThreshold > 128:
		return fmt.Errorf("vad: speech threshold %v out of range (0, 128]", c.SpeechThreshold)
	case c.PeakRatio <= 0 || c.PeakRatio > 1:
		return fmt.Errorf("vad: peak ratio %v out of range (0, 1]", c.PeakRatio)
	case c.Silence <= 0:
		return fmt.Errorf("vad: silence duration must be positive, got %s", c.Silence)
	case c.GracePeriod < 0:
		return fmt.Errorf("vad: grace period must not be negative, got %s", c.GracePeriod)
	case c.MaxDuration <= 0:
		return fmt.Errorf("vad: max duration must be positive, got %s", c.MaxDuration)
	case c.MinSpeech < 0:
		return fmt.Errorf("vad: min speech must not be negative, got %s", c.MinSpeech)
	}
	return nil
}

// SessionHandle tracks a single recording.
type SessionHandle interface {
	// ProcessLevel accounts for d worth of audio at the given level and
	// returns the resulting detection state. After a VADSpeechEnd event the
	// session ignores further levels until Reset.
	ProcessLevel(level float64, d time.Duration) (VADEvent, error)

	// Stats returns the measurements accumulated since the last Reset.
	Stats() Stats

	// Reset prepares the session for a new recording.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a session with the given configuration. Returns an
	// error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
