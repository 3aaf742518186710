// Package web exposes the ordering assistant over HTTP.
//
// Routes:
//
//	GET  /api/voice/ws       voice session over a WebSocket
//	GET  /api/chat/stream    text chat as server-sent events
//	POST /api/chat/stream    the same, with history in a JSON body
//	POST /api/chat           text chat, one JSON reply
//	POST /api/stt            transcribe an uploaded recording
//	POST /api/tts            synthesize text to wav
//	POST /api/voice-order    transcribe a recording and chat with the result
//	GET  /api/cart           the caller's cart
//	POST /api/cart/add       add a line
//	POST /api/cart/remove    remove from a line
//	POST /api/cart/empty     clear the cart
//
// Callers are identified by the X-User-ID header, or else by an anonymous id
// kept in the cafevox_uid cookie.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/cafevox/internal/cart"
	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/internal/voice"
)

const (
	// UserHeader carries an explicit user id.
	UserHeader = "X-User-ID"

	// UserCookie holds the anonymous user id minted for cookie clients.
	UserCookie = "cafevox_uid"

	defaultWriteTimeout = 10 * time.Second
	defaultMaxFrame     = 1 << 20
	userCookieMaxAge    = 365 * 24 * 60 * 60
)

// SessionTracker is told about every voice session for the lifetime of its
// connection. The returned func is called when the session ends.
type SessionTracker interface {
	Track(s *voice.Session) (release func())
}

// Config wires a [Server].
type Config struct {
	Orchestrator *voice.Orchestrator
	Cart         cart.Store

	// Tracker is optional.
	Tracker SessionTracker

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OriginPatterns are host patterns allowed to open the voice socket
	// cross-origin. Same-origin requests are always allowed.
	OriginPatterns []string

	// WriteTimeout bounds one WebSocket frame write. Zero selects 10s.
	WriteTimeout time.Duration

	// MaxFrameBytes caps one inbound WebSocket frame. Zero selects 1 MiB.
	MaxFrameBytes int64
}

// Server serves the API routes.
type Server struct {
	orch    *voice.Orchestrator
	cart    cart.Store
	tracker SessionTracker
	metrics *observe.Metrics

	origins      []string
	writeTimeout time.Duration
	maxFrame     int64
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("web: orchestrator is required")
	}
	if cfg.Cart == nil {
		return nil, errors.New("web: cart store is required")
	}
	s := &Server{
		orch:         cfg.Orchestrator,
		cart:         cfg.Cart,
		tracker:      cfg.Tracker,
		metrics:      cfg.Metrics,
		origins:      cfg.OriginPatterns,
		writeTimeout: cfg.WriteTimeout,
		maxFrame:     cfg.MaxFrameBytes,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = defaultWriteTimeout
	}
	if s.maxFrame <= 0 {
		s.maxFrame = defaultMaxFrame
	}
	return s, nil
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/voice/ws", s.handleVoice)
	mux.HandleFunc("GET /api/chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStreamPost)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/stt", s.handleSTT)
	mux.HandleFunc("POST /api/tts", s.handleTTS)
	mux.HandleFunc("POST /api/voice-order", s.handleVoiceOrder)
	mux.HandleFunc("GET /api/cart", s.handleCartGet)
	mux.HandleFunc("POST /api/cart/add", s.handleCartAdd)
	mux.HandleFunc("POST /api/cart/remove", s.handleCartRemove)
	mux.HandleFunc("POST /api/cart/empty", s.handleCartEmpty)
}

// userID returns the caller's id, minting an anonymous one and setting the
// cookie when the request carries none. It must run before the response
// header is written.
func userID(w http.ResponseWriter, r *http.Request) string {
	if id := r.Header.Get(UserHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(UserCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     UserCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   userCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("web: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
