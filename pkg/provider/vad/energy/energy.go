// Package energy implements [vad.Engine] with a loudness detector.
//
// Speech starts when a level reaches the configured speech threshold. From
// then on the threshold tracks the loudest level seen: a level below
// Peak*PeakRatio counts as silence, so a speaker who starts loud is not cut
// off when they trail off to a normal volume, while background noise well
// below their peak still ends the recording.
package energy

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/cafevox/pkg/provider/vad"
)

// Engine creates energy-based VAD sessions.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a fresh session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("energy: new session: %w", err)
	}
	return &Session{cfg: cfg}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is the per-recording detector state.
type Session struct {
	cfg vad.Config

	mu      sync.Mutex
	stats   vad.Stats
	silence time.Duration
	closed  bool
}

// ProcessLevel implements [vad.SessionHandle].
func (s *Session) ProcessLevel(level float64, d time.Duration) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.VADEvent{}, vad.ErrSessionClosed
	}
	ev := vad.VADEvent{Type: vad.VADSilence, Level: level}
	if s.stats.Ended || d < 0 {
		return ev, nil
	}

	inGrace := s.stats.Elapsed < s.cfg.GracePeriod
	s.stats.Elapsed += d

	switch {
	case !s.stats.Detected:
		if level >= s.cfg.SpeechThreshold {
			s.stats.Detected = true
			s.stats.Peak = level
			s.stats.Speech += d
			s.silence = 0
			ev.Type = vad.VADSpeechStart
		}
	default:
		if level > s.stats.Peak {
			s.stats.Peak = level
		}
		if level >= s.stats.Peak*s.cfg.PeakRatio {
			s.stats.Speech += d
			s.silence = 0
			ev.Type = vad.VADSpeechContinue
		} else if !inGrace {
			s.silence += d
			if s.silence >= s.cfg.Silence {
				return s.end(ev, vad.EndSilence), nil
			}
		}
	}

	if s.stats.Elapsed >= s.cfg.MaxDuration {
		return s.end(ev, vad.EndMaxDuration), nil
	}
	return ev, nil
}

func (s *Session) end(ev vad.VADEvent, reason vad.EndReason) vad.VADEvent {
	s.stats.Ended = true
	ev.Type = vad.VADSpeechEnd
	ev.Reason = reason
	ev.Discard = s.stats.Speech < s.cfg.MinSpeech
	return ev
}

// Stats implements [vad.SessionHandle].
func (s *Session) Stats() vad.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = vad.Stats{}
	s.silence = 0
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*Session)(nil)
