package order

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// intentQueryCart is understood but never turned into a CartAction.
const intentQueryCart = "QUERY_CART"

// kindCodes maps numeric intent codes (enum declaration order) to names.
var kindCodes = []string{"ADD", "REMOVE", "EMPTY_CART", intentQueryCart}

var kindReplacer = strings.NewReplacer("-", "_", " ", "_")

// Normalizer maps the loosely typed action objects emitted by the model onto
// canonical [CartAction] values. It does not compute quantity deltas: an ADD
// or REMOVE quantity is forwarded exactly as the model expressed it.
//
// A Normalizer is safe for concurrent use once constructed.
type Normalizer struct {
	// menu maps lower-cased menu item names to their canonical spelling.
	menu map[string]string

	matcher *menuMatcher
}

// NewNormalizer creates a Normalizer. When menu is non-empty, item names
// matching a menu entry case-insensitively (or after stripping a plural
// suffix) are rewritten to the menu spelling. Names that only sound like or
// nearly spell a menu entry are rewritten too.
func NewNormalizer(menu []string) *Normalizer {
	n := &Normalizer{}
	if len(menu) > 0 {
		n.menu = make(map[string]string, len(menu))
		for _, name := range menu {
			name = strings.TrimSpace(name)
			if name != "" {
				n.menu[strings.ToLower(name)] = name
			}
		}
		n.matcher = newMenuMatcher(menu)
	}
	return n
}

// Normalize converts raw action objects into CartActions, preserving order.
// Entries it cannot use are dropped with a warning; it never fails.
func (n *Normalizer) Normalize(raw []json.RawMessage) []CartAction {
	out := make([]CartAction, 0, len(raw))
	for i, r := range raw {
		obj, ok := decodeObject(r)
		if !ok {
			slog.Warn("order: dropping action that is not an object", "index", i, "raw", string(r))
			continue
		}

		kindValue, ok := obj["type"]
		if !ok {
			kindValue = obj["action"]
		}
		kind := parseKind(kindValue)

		switch kind {
		case string(KindAdd), string(KindRemove):
			item := n.canonical(itemName(obj))
			if item == "" {
				slog.Warn("order: dropping action without item", "index", i, "type", kind)
				continue
			}
			out = append(out, CartAction{
				Kind:     Kind(kind),
				Item:     item,
				Quantity: parseQuantity(obj["quantity"]),
			})
		case string(KindEmptyCart):
			out = append(out, CartAction{Kind: KindEmptyCart})
		case intentQueryCart:
			// Informational only.
		default:
			slog.Warn("order: dropping action with unknown type", "index", i, "type", kindValue)
		}
	}
	return out
}

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// parseKind accepts intent names in any case with '-' or ' ' separators, and
// numeric codes either as numbers or numeric strings.
func parseKind(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if code, err := strconv.Atoi(s); err == nil {
			return kindFromCode(int64(code))
		}
		return kindReplacer.Replace(strings.ToUpper(s))
	case json.Number:
		code, err := t.Int64()
		if err != nil {
			return ""
		}
		return kindFromCode(code)
	case float64:
		if t != math.Trunc(t) {
			return ""
		}
		return kindFromCode(int64(t))
	}
	return ""
}

func kindFromCode(code int64) string {
	if code < 0 || code >= int64(len(kindCodes)) {
		return ""
	}
	return kindCodes[code]
}

func itemName(obj map[string]any) string {
	for _, key := range []string{"item", "name"} {
		if s, ok := obj[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// parseQuantity returns a positive integer quantity, defaulting to 1 when
// the value is absent, non-numeric, fractional or below one.
func parseQuantity(v any) int {
	var f float64
	switch t := v.(type) {
	case json.Number:
		x, err := t.Float64()
		if err != nil {
			return 1
		}
		f = x
	case float64:
		f = t
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 1
		}
		f = x
	default:
		return 1
	}
	if f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 1
	}
	return int(f)
}

func (n *Normalizer) canonical(item string) string {
	if len(n.menu) == 0 || item == "" {
		return item
	}
	key := strings.ToLower(item)
	if name, ok := n.menu[key]; ok {
		return name
	}
	for _, suffix := range []string{"es", "s"} {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		if name, ok := n.menu[strings.TrimSuffix(key, suffix)]; ok {
			return name
		}
	}
	if name, score, ok := n.matcher.match(key); ok {
		slog.Debug("order: resolved item to menu entry", "item", item, "menu_item", name, "score", score)
		return name
	}
	return item
}
