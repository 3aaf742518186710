package order

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92
)

// menuMatcher resolves misheard or misspelled item names ("cappucino",
// "flat wite") to the closest menu entry.
//
// An entry is a phonetic candidate when the Double Metaphone codes of all
// its words, joined, equal those of the input. The candidate with the highest
// Jaro-Winkler similarity above the phonetic threshold wins. Without any
// phonetic candidate, pure Jaro-Winkler similarity must reach the stricter
// fuzzy threshold.
//
// Whole phrases are compared, never single words, so "chocolate muffin" does
// not resolve to "Chocolate Croissant".
type menuMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	entries           []menuEntry
}

type menuEntry struct {
	name  string
	lower string
	key   phoneticKey
}

// phoneticKey holds the joined primary and alternate codes of a phrase.
type phoneticKey [2]string

func newMenuMatcher(names []string) *menuMatcher {
	m := &menuMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, name := range names {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" {
			continue
		}
		m.entries = append(m.entries, menuEntry{
			name:  strings.TrimSpace(name),
			lower: lower,
			key:   keyFor(strings.Fields(lower)),
		})
	}
	return m
}

// match returns the menu name closest to item. When matched is false,
// name is empty.
func (m *menuMatcher) match(item string) (name string, score float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(item))
	if m == nil || lower == "" {
		return "", 0, false
	}
	tokens := strings.Fields(lower)
	key := keyFor(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range m.entries {
		s := similarity(tokens, lower, e.lower)
		switch {
		case key.overlaps(e.key):
			if s >= m.phoneticThreshold && (!bestPhonetic || s > bestScore) {
				best, bestScore, bestPhonetic = e.name, s, true
			}
		case !bestPhonetic:
			if s >= m.fuzzyThreshold && s > bestScore {
				best, bestScore = e.name, s
			}
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

func keyFor(tokens []string) phoneticKey {
	var primary, alternate strings.Builder
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if s == "" {
			s = p
		}
		primary.WriteString(p)
		alternate.WriteString(s)
	}
	return phoneticKey{primary.String(), alternate.String()}
}

func (k phoneticKey) overlaps(o phoneticKey) bool {
	for _, a := range k {
		if a == "" {
			continue
		}
		for _, b := range o {
			if a == b {
				return true
			}
		}
	}
	return false
}

// similarity is the better Jaro-Winkler score of the full phrases and of
// the phrases with spaces removed ("flatwhite" against "flat white").
func similarity(tokens []string, input, entry string) float64 {
	score := matchr.JaroWinkler(input, entry, false)
	joined := strings.ReplaceAll(entry, " ", "")
	if s := matchr.JaroWinkler(strings.Join(tokens, ""), joined, false); s > score {
		score = s
	}
	return score
}
