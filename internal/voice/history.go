package voice

import "github.com/MrWong99/cafevox/internal/prompt"

// Turn is one entry of a session's conversation history.
type Turn = prompt.Turn

// History is a bounded conversation log. Once full, appending evicts the
// oldest turn. It is not safe for concurrent use.
type History struct {
	turns []Turn
	max   int
}

// NewHistory returns a History holding at most max turns. A non-positive max
// keeps no history at all.
func NewHistory(max int) *History {
	if max < 0 {
		max = 0
	}
	return &History{max: max}
}

// Append adds a turn, evicting the oldest ones past the cap.
func (h *History) Append(role prompt.Role, content string) {
	if h.max == 0 {
		return
	}
	h.turns = append(h.turns, Turn{Role: role, Content: content})
	if over := len(h.turns) - h.max; over > 0 {
		h.turns = append(h.turns[:0:0], h.turns[over:]...)
	}
}

// Snapshot returns a copy of the turns, oldest first.
func (h *History) Snapshot() []Turn {
	return append([]Turn(nil), h.turns...)
}

// Len returns the number of stored turns.
func (h *History) Len() int { return len(h.turns) }
