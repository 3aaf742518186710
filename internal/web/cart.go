package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrWong99/cafevox/internal/cart"
	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/internal/order"
)

const maxCartBody = 4 << 10

type cartLine struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

func (s *Server) handleCartGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.cart.Get(r.Context(), userID(w, r))
	s.writeCart(w, r, "get", c, err)
}

func (s *Server) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	line, ok := decodeLine(w, r)
	if !ok {
		return
	}
	c, err := s.cart.Add(r.Context(), userID(w, r), line.Item, line.Quantity)
	s.writeCart(w, r, string(order.KindAdd), c, err)
}

func (s *Server) handleCartRemove(w http.ResponseWriter, r *http.Request) {
	line, ok := decodeLine(w, r)
	if !ok {
		return
	}
	c, err := s.cart.Remove(r.Context(), userID(w, r), line.Item, line.Quantity)
	s.writeCart(w, r, string(order.KindRemove), c, err)
}

func (s *Server) handleCartEmpty(w http.ResponseWriter, r *http.Request) {
	c, err := s.cart.Empty(r.Context(), userID(w, r))
	s.writeCart(w, r, string(order.KindEmptyCart), c, err)
}

// decodeLine reads {"item", "quantity"}; a missing quantity means one.
func decodeLine(w http.ResponseWriter, r *http.Request) (cartLine, bool) {
	var line cartLine
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCartBody)).Decode(&line); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return cartLine{}, false
	}
	line.Item = strings.TrimSpace(line.Item)
	if line.Quantity == 0 {
		line.Quantity = 1
	}
	return line, true
}

func (s *Server) writeCart(w http.ResponseWriter, r *http.Request, action string, c cart.Cart, err error) {
	if action != "get" {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordCartAction(r.Context(), action, status)
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, c)
	case errors.Is(err, cart.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "item and a positive quantity are required")
	case errors.Is(err, cart.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "item is not in the cart")
	default:
		observe.Logger(r.Context()).Error("web: cart", "action", action, "err", err)
		writeError(w, http.StatusInternalServerError, "cart unavailable")
	}
}
