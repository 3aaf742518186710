package order

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxOutputChars bounds the length of an accepted model response.
const DefaultMaxOutputChars = 2000

// Verdict is the outcome of [Validator.Validate].
type Verdict struct {
	Valid  bool
	Reason string
}

// rolePlayPatterns flag output that has drifted out of the assistant's
// character, usually after a prompt-injection attempt.
var rolePlayPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"pirate speech", regexp.MustCompile(`(?i)\b(?:ahoy|matey|me hearties|shiver me timbers|avast|landlubber|yo[- ]ho[- ]ho|arr+g*h*)\b`)},
	{"archaic speech", regexp.MustCompile(`(?i)\b(?:thou|thee|thy|thine|hath|doth|verily|forsooth|prithee|methinks)\b`)},
	{"robot speech", regexp.MustCompile(`(?i)\b(?:beep[- ]?boop|bzz+t|does not compute|i am a robot)\b`)},
	{"stage direction", regexp.MustCompile(`(?i)(?:^|[^*])\*[a-z][a-z ,'-]{1,40}\*(?:[^*]|$)`)},
	{"binary string", regexp.MustCompile(`\b[01]{8}(?:\s+[01]{8}){2,}\b`)},
}

// Validator is a heuristic filter for model output. It catches the common
// ways a jailbroken or confused model misbehaves; it is best-effort content
// filtering and not a security boundary.
type Validator struct {
	maxChars int
}

// NewValidator returns a Validator rejecting output longer than maxChars
// runes. A non-positive maxChars selects [DefaultMaxOutputChars].
func NewValidator(maxChars int) *Validator {
	if maxChars <= 0 {
		maxChars = DefaultMaxOutputChars
	}
	return &Validator{maxChars: maxChars}
}

// Validate checks text against the control-token, role-play and length
// rules. The first failing rule determines the reason.
func (v *Validator) Validate(text string) Verdict {
	if ContainsControlToken(text) {
		return Verdict{Reason: "control token in output"}
	}
	for _, p := range rolePlayPatterns {
		if p.re.MatchString(text) {
			return Verdict{Reason: "out of character: " + p.name}
		}
	}
	if n := utf8.RuneCountInString(text); n > v.maxChars {
		return Verdict{Reason: "output too long"}
	}
	return Verdict{Valid: true}
}

// ValidatePrefix checks the beginning of an output that is still being
// generated. Only the complete words of text are examined, so a rejection
// holds for every continuation and [Validator.Validate] rejects the
// finished output too. checked is the length of the examined prefix of
// text; it ends at whitespace.
func (v *Validator) ValidatePrefix(text string) (verdict Verdict, checked int) {
	body := strings.TrimLeftFunc(text, unicode.IsSpace)
	if utf8.RuneCountInString(body) > v.maxChars {
		return Verdict{Reason: "output too long"}, len(text)
	}
	end := strings.LastIndexFunc(body, unicode.IsSpace)
	if end < 0 {
		return Verdict{Valid: true}, 0
	}
	return v.Validate(body[:end]), len(text) - len(body) + end
}
