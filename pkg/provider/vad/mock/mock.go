// Package mock provides scripted vad.Engine and vad.SessionHandle doubles
// for session tests.
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/cafevox/pkg/provider/vad"
)

// Engine hands out Session, or a fresh silent [Session] when it is nil.
type Engine struct {
	mu sync.Mutex

	Session vad.SessionHandle

	// Err, if set, fails every NewSession call.
	Err error

	// Configs records the config of every NewSession call.
	Configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	switch {
	case e.Err != nil:
		return nil, e.Err
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// LevelCall is one recorded ProcessLevel call.
type LevelCall struct {
	Level    float64
	Duration time.Duration
}

// Session replays Events, one per ProcessLevel call, then reports silence.
// Each returned event carries the submitted level.
type Session struct {
	mu sync.Mutex

	Events      []vad.VADEvent
	StatsResult vad.Stats

	calls  []LevelCall
	resets int
	closed int
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessLevel implements vad.SessionHandle.
func (s *Session) ProcessLevel(level float64, d time.Duration) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, LevelCall{Level: level, Duration: d})
	ev := vad.VADEvent{Type: vad.VADSilence}
	if i := len(s.calls) - 1; i < len(s.Events) {
		ev = s.Events[i]
	}
	ev.Level = level
	return ev, nil
}

// Stats implements vad.SessionHandle.
func (s *Session) Stats() vad.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StatsResult
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Levels returns the recorded ProcessLevel calls.
func (s *Session) Levels() []LevelCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LevelCall(nil), s.calls...)
}

// Closed reports how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
