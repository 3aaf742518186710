package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/cafevox/internal/cart"
	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/internal/prompt"
	"github.com/MrWong99/cafevox/internal/voice"
)

const (
	maxChatBody = 64 << 10

	// maxChatHistory caps the client-supplied history; older turns are
	// dropped first.
	maxChatHistory = 40
)

// chatRequest is the JSON body of the POST chat routes. cart_items takes
// precedence over cart; without either the caller's stored cart is used.
type chatRequest struct {
	Text      string          `json:"text"`
	History   []chatTurn      `json:"history,omitempty"`
	CartItems json.RawMessage `json:"cart_items,omitempty"`
	Cart      json.RawMessage `json:"cart,omitempty"`
}

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatHistory keeps the user and assistant turns of h, newest last. Other
// roles are dropped so a client cannot inject system turns.
func chatHistory(h []chatTurn) []voice.Turn {
	var out []voice.Turn
	for _, t := range h {
		role := prompt.Role(strings.ToLower(strings.TrimSpace(t.Role)))
		if role != prompt.RoleUser && role != prompt.RoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, voice.Turn{Role: role, Content: t.Content})
	}
	if len(out) > maxChatHistory {
		out = out[len(out)-maxChatHistory:]
	}
	return out
}

// decodeChat reads a chatRequest body into the orchestrator's request type.
func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (voice.ChatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return voice.ChatRequest{}, false
	}
	raw := req.CartItems
	if len(raw) == 0 || string(raw) == "null" {
		raw = req.Cart
	}
	return voice.ChatRequest{
		Text:    req.Text,
		History: chatHistory(req.History),
		Cart:    s.chatCart(w, r, raw),
	}, true
}

// handleChatStream answers ?text= as server-sent events: one "content"
// event per display delta, then a terminal "final" or "error" event.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.streamChat(w, r, voice.ChatRequest{
		Text: q.Get("text"),
		Cart: s.chatCart(w, r, []byte(q.Get("cart"))),
	})
}

// handleChatStreamPost is handleChatStream for a JSON chatRequest body, so
// the conversation history can be sent along.
func (s *Server) handleChatStreamPost(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	s.streamChat(w, r, req)
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req voice.ChatRequest) {
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	reply, err := s.orch.Chat(r.Context(), req, func(delta string) error {
		return writeSSE(w, flusher, voice.EventContent, voice.ContentData{Delta: delta})
	})
	if err != nil {
		if r.Context().Err() == nil {
			observe.Logger(r.Context()).Warn("web: chat stream failed", "err", err)
			_ = writeSSE(w, flusher, voice.EventError, voice.ErrorData{
				Message: "I'm having trouble thinking right now. Please try again.",
				Kind:    voice.ErrorKindTransport,
			})
		}
		return
	}
	_ = writeSSE(w, flusher, voice.EventFinal, voice.FinalData{
		Message: reply.Message,
		Actions: reply.Actions,
		Meta:    reply.Meta,
	})
}

// handleChat answers a JSON chatRequest body with the parsed reply. The
// reply's actions are not applied to the stored cart.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	reply, err := s.orch.Chat(r.Context(), req, nil)
	switch {
	case errors.Is(err, voice.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "text is required")
	case err != nil:
		observe.Logger(r.Context()).Warn("web: chat failed", "err", err)
		writeError(w, http.StatusBadGateway, "model unavailable")
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}

// chatCart returns the client-supplied cart, or the caller's stored cart
// when none was sent.
func (s *Server) chatCart(w http.ResponseWriter, r *http.Request, raw []byte) []cart.Item {
	if len(raw) > 0 && string(raw) != "null" {
		return prompt.ParseCartSnapshot(raw)
	}
	c, err := s.cart.Get(r.Context(), userID(w, r))
	if err != nil {
		observe.Logger(r.Context()).Warn("web: load cart for chat", "err", err)
		return nil
	}
	return c.Items
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, typ voice.EventType, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, body); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
