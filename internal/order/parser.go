package order

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Customer-facing messages used when the model output cannot be shown.
const (
	FallbackEmpty     = "I'm sorry, I couldn't generate a response. Please try again."
	FallbackRejected  = "Sorry, I couldn't process that request. Could you rephrase your order?"
	FallbackNoMessage = "How can I help you?"
)

// payload is the JSON object on the action line. Orders and Response are
// the field names of the older single-object output format.
type payload struct {
	Actions  []json.RawMessage `json:"actions"`
	Orders   []json.RawMessage `json:"orders"`
	Meta     json.RawMessage   `json:"meta"`
	Message  *string           `json:"message"`
	Response *string           `json:"response"`
}

// Parser splits model output into a [Reply]. A Parser is safe for
// concurrent use.
type Parser struct {
	validator  *Validator
	normalizer *Normalizer
}

// NewParser creates a Parser. Nil arguments select a default Validator and a
// Normalizer without menu canonicalization.
func NewParser(v *Validator, n *Normalizer) *Parser {
	if v == nil {
		v = NewValidator(0)
	}
	if n == nil {
		n = NewNormalizer(nil)
	}
	return &Parser{validator: v, normalizer: n}
}

// Validator returns the validator applied to every parsed output.
func (p *Parser) Validator() *Validator { return p.validator }

// Parse turns raw model output into a Reply. It never fails: empty,
// rejected or malformed output degrades to a fallback or message-only reply.
func (p *Parser) Parse(raw string) Reply {
	text := strings.TrimSpace(raw)
	if text == "" {
		return fallback(FallbackEmpty)
	}
	if v := p.validator.Validate(text); !v.Valid {
		slog.Warn("order: model output rejected", "reason", v.Reason)
		return fallback(FallbackRejected)
	}

	// Whole-object output, possibly pretty-printed across several lines.
	if strings.HasPrefix(text, "{") {
		var pl payload
		if err := json.Unmarshal([]byte(text), &pl); err == nil && pl.hasContent() {
			return p.fromPayload("", pl)
		}
	}

	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		before, candidate, ok := actionCandidate(lines[i])
		if !ok {
			continue
		}
		message := joinMessage(lines[:i], before)

		var pl payload
		if err := json.Unmarshal([]byte(candidate), &pl); err != nil {
			slog.Warn("order: could not parse action line", "err", err)
			if message == "" {
				message = FallbackNoMessage
			}
			return fallback(message)
		}
		return p.fromPayload(message, pl)
	}

	message := cleanMessage(text)
	if message == "" {
		message = FallbackNoMessage
	}
	return fallback(message)
}

func (p *Parser) fromPayload(message string, pl payload) Reply {
	actions := pl.Actions
	if actions == nil {
		actions = pl.Orders
	}
	meta := decodeMeta(pl.Meta)

	if message == "" {
		switch {
		case meta.Clarify && meta.ClarifyQuestion != nil && strings.TrimSpace(*meta.ClarifyQuestion) != "":
			message = strings.TrimSpace(*meta.ClarifyQuestion)
		case pl.Message != nil && strings.TrimSpace(*pl.Message) != "":
			message = strings.TrimSpace(*pl.Message)
		case pl.Response != nil && strings.TrimSpace(*pl.Response) != "":
			message = strings.TrimSpace(*pl.Response)
		default:
			message = FallbackNoMessage
		}
	}

	return Reply{
		Message: message,
		Actions: p.normalizer.Normalize(actions),
		Meta:    meta,
	}
}

func (pl payload) hasContent() bool {
	return pl.Actions != nil || pl.Orders != nil || pl.Message != nil || pl.Response != nil
}

// actionCandidate reports whether line is an action line. before holds any
// message text that preceded an inline delimiter on the same line.
func actionCandidate(line string) (before, candidate string, ok bool) {
	candidate = strings.TrimSpace(line)
	if idx := strings.Index(candidate, Delimiter); idx >= 0 {
		before = strings.TrimSpace(candidate[:idx])
		candidate = strings.TrimSpace(candidate[idx+len(Delimiter):])
	}
	if !strings.HasPrefix(candidate, "{") {
		return "", "", false
	}
	if !strings.Contains(candidate, `"actions"`) && !strings.Contains(candidate, `"orders"`) {
		return "", "", false
	}
	return before, candidate, true
}

func joinMessage(lines []string, tail string) string {
	if tail != "" {
		lines = append(lines[:len(lines):len(lines)], tail)
	}
	return cleanMessage(strings.Join(lines, "\n"))
}

// cleanMessage removes stray delimiters and trims the result.
func cleanMessage(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, Delimiter, ""))
}

func decodeMeta(raw json.RawMessage) Meta {
	var m Meta
	if len(raw) == 0 {
		return m
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		slog.Debug("order: ignoring malformed meta", "err", err)
		return Meta{}
	}
	return m
}

func fallback(message string) Reply {
	return Reply{Message: message, Actions: []CartAction{}}
}
