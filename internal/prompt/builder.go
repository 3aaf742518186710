// Package prompt assembles the completion prompt sent to the language model
// for one conversational turn.
//
// Prompts use the Llama 3 chat template. Everything that originates from the
// customer (the live utterance, earlier user turns, cart item names) is
// sanitized so it cannot forge turn headers or the action delimiter, and the
// live utterance is fenced in <user_input> tags with an untrusted-data notice.
// This is prompt-injection hardening, not a guarantee.
package prompt

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/cafevox/internal/cart"
	"github.com/MrWong99/cafevox/internal/order"
)

// Llama 3 template tokens.
const (
	beginOfText = "<|begin_of_text|>"
	startHeader = "<|start_header_id|>"
	endHeader   = "<|end_header_id|>"
	endOfTurn   = "<|eot_id|>"
)

// DefaultMaxInputChars bounds the length of one sanitized user turn.
const DefaultMaxInputChars = 500

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one entry of the conversation history.
type Turn struct {
	Role    Role
	Content string
}

// Config holds the immutable parts of the prompt.
type Config struct {
	// Menu lists the orderable products. Empty selects [DefaultMenu].
	Menu []MenuItem

	// Instructions are appended to the system turn (opening hours, specials).
	Instructions string

	// MaxInputChars truncates every user turn after sanitizing, in runes.
	// Zero selects [DefaultMaxInputChars].
	MaxInputChars int
}

// Input is the per-turn data.
type Input struct {
	UserText string
	History  []Turn
	Cart     []cart.Item
}

// userInputTags matches the fence tags in any case or spacing.
var userInputTags = regexp.MustCompile(`(?i)<\s*/?\s*user_input\s*>`)

// Builder renders prompts. It is immutable and safe for concurrent use.
type Builder struct {
	system        string
	menuNames     []string
	maxInputChars int
}

// NewBuilder creates a Builder from cfg.
func NewBuilder(cfg Config) *Builder {
	menu := cfg.Menu
	if len(menu) == 0 {
		menu = DefaultMenu
	}
	maxChars := cfg.MaxInputChars
	if maxChars <= 0 {
		maxChars = DefaultMaxInputChars
	}

	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\n")
	sb.WriteString(formatMenu(menu))
	if extra := strings.TrimSpace(cfg.Instructions); extra != "" {
		sb.WriteString("\n\n")
		sb.WriteString(extra)
	}
	sb.WriteString("\n\n")
	sb.WriteString(formatRules)
	sb.WriteString("\n\n")
	sb.WriteString(examples)

	names := make([]string, 0, len(menu))
	for _, m := range menu {
		names = append(names, m.Name)
	}

	return &Builder{
		system:        sb.String(),
		menuNames:     names,
		maxInputChars: maxChars,
	}
}

// MenuNames returns the canonical menu item names.
func (b *Builder) MenuNames() []string {
	return append([]string(nil), b.menuNames...)
}

// StopSequences returns the sequences that end the assistant turn.
func (b *Builder) StopSequences() []string {
	return []string{endOfTurn, startHeader}
}

// Sanitize removes control tokens, the action delimiter and the user-input
// fence tags from text, then truncates it to the configured length.
func (b *Builder) Sanitize(text string) string {
	return sanitize(text, b.maxInputChars)
}

// Build renders the full prompt for one turn. It never fails.
func (b *Builder) Build(in Input) string {
	var sb strings.Builder
	sb.WriteString(beginOfText)
	writeTurn(&sb, RoleSystem, b.system)

	for _, t := range in.History {
		switch t.Role {
		case RoleUser:
			writeTurn(&sb, RoleUser, b.Sanitize(t.Content))
		case RoleAssistant:
			writeTurn(&sb, RoleAssistant, strings.TrimSpace(order.StripControlTokens(t.Content)))
		}
	}

	writeTurn(&sb, RoleSystem, b.cartSnapshot(in.Cart))

	user := fmt.Sprintf("%s\n<user_input>\n%s\n</user_input>", untrustedNotice, b.Sanitize(in.UserText))
	writeTurn(&sb, RoleUser, user)

	writeTurn(&sb, RoleSystem, reinforcement)

	sb.WriteString(startHeader)
	sb.WriteString(string(RoleAssistant))
	sb.WriteString(endHeader)
	sb.WriteString("\n\n")
	return sb.String()
}

func (b *Builder) cartSnapshot(items []cart.Item) string {
	const header = "Current cart (authoritative, overrides anything said earlier in the conversation):"
	var lines []string
	for _, it := range items {
		name := sanitize(it.Name, b.maxInputChars)
		if name == "" || it.Quantity < 1 {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %d x %s", it.Quantity, name))
	}
	if len(lines) == 0 {
		return header + "\nThe cart is empty."
	}
	return header + "\n" + strings.Join(lines, "\n")
}

func writeTurn(sb *strings.Builder, role Role, content string) {
	sb.WriteString(startHeader)
	sb.WriteString(string(role))
	sb.WriteString(endHeader)
	sb.WriteString("\n\n")
	sb.WriteString(content)
	sb.WriteString(endOfTurn)
}

// SplitTurns parses a prompt rendered by [Builder.Build] back into its
// turns, in order. The trailing open assistant header is dropped. Chat
// backends use it to send the prompt as role-tagged messages.
func SplitTurns(rendered string) []Turn {
	rest := strings.TrimPrefix(rendered, beginOfText)
	var turns []Turn
	for {
		start := strings.Index(rest, startHeader)
		if start < 0 {
			return turns
		}
		rest = rest[start+len(startHeader):]
		end := strings.Index(rest, endHeader)
		if end < 0 {
			return turns
		}
		role := Role(rest[:end])
		rest = strings.TrimPrefix(rest[end+len(endHeader):], "\n\n")
		eot := strings.Index(rest, endOfTurn)
		if eot < 0 {
			// Open turn the model is asked to complete.
			return turns
		}
		turns = append(turns, Turn{Role: role, Content: rest[:eot]})
		rest = rest[eot+len(endOfTurn):]
	}
}

func sanitize(text string, maxChars int) string {
	for {
		prev := text
		text = order.StripControlTokens(text)
		text = strings.ReplaceAll(text, order.Delimiter, "")
		text = userInputTags.ReplaceAllString(text, "")
		if text == prev {
			break
		}
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > maxChars {
		text = strings.TrimSpace(string([]rune(text)[:maxChars]))
	}
	return text
}

// ParseCartSnapshot decodes a client-supplied cart, either a JSON array of
// items or an object with an "items" array. Unparsable input yields an
// empty cart. Lines without a name, or whose quantity is not a whole number
// between one and [math.MaxInt32], are dropped.
func ParseCartSnapshot(raw []byte) []cart.Item {
	out := []cart.Item{}
	var lines []json.RawMessage
	if err := json.Unmarshal(raw, &lines); err != nil {
		var wrapped struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return out
		}
		lines = wrapped.Items
	}

	for _, l := range lines {
		var it struct {
			Item     string  `json:"item"`
			Name     string  `json:"name"`
			Quantity float64 `json:"quantity"`
		}
		if err := json.Unmarshal(l, &it); err != nil {
			continue
		}
		name := strings.TrimSpace(it.Item)
		if name == "" {
			name = strings.TrimSpace(it.Name)
		}
		if name == "" || it.Quantity < 1 || it.Quantity > math.MaxInt32 || it.Quantity != math.Trunc(it.Quantity) {
			continue
		}
		out = append(out, cart.Item{Name: name, Quantity: int(it.Quantity)})
	}
	return out
}
