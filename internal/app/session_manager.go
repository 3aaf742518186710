package app

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/cafevox/internal/voice"
)

// SessionInfo holds metadata about a live voice session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string `json:"session_id"`

	// UserID is the cart owner the session orders for.
	UserID string `json:"user_id"`

	// StartedAt is when the connection was accepted.
	StartedAt time.Time `json:"started_at"`

	// State is the session's current position in the turn cycle.
	State string `json:"state"`
}

type trackedSession struct {
	sess      *voice.Session
	startedAt time.Time
}

// SessionManager keeps track of the voice sessions of open connections so
// that they can be listed and drained on shutdown. All exported methods are
// safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]trackedSession

	// idle is closed and replaced whenever the last session ends.
	idle chan struct{}
}

// NewSessionManager creates an empty SessionManager.
func NewSessionManager() *SessionManager {
	idle := make(chan struct{})
	close(idle)
	return &SessionManager{sessions: make(map[string]trackedSession), idle: idle}
}

// Track registers s until the returned release func is called. Calling
// release more than once is safe.
func (sm *SessionManager) Track(s *voice.Session) (release func()) {
	sm.mu.Lock()
	if len(sm.sessions) == 0 {
		sm.idle = make(chan struct{})
	}
	sm.sessions[s.ID()] = trackedSession{sess: s, startedAt: time.Now().UTC()}
	sm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			delete(sm.sessions, s.ID())
			if len(sm.sessions) == 0 {
				close(sm.idle)
			}
		})
	}
}

// List returns the live sessions, oldest first.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for id, ts := range sm.sessions {
		out = append(out, SessionInfo{
			SessionID: id,
			UserID:    ts.sess.UserID(),
			StartedAt: ts.startedAt,
			State:     ts.sess.State().String(),
		})
	}
	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Wait blocks until no session is live or ctx is done.
func (sm *SessionManager) Wait(ctx context.Context) error {
	sm.mu.Lock()
	idle := sm.idle
	sm.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
