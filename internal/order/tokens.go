package order

import "regexp"

// controlTokens matches the prompt-formatting markers of the chat templates
// we may run against (Llama 3, Llama 2 / Mistral, ChatML). Seeing any of
// them in user text or model output means someone is trying to forge turn
// boundaries, or the model is echoing its own prompt.
var controlTokens = regexp.MustCompile(
	`(?i)<\|(?:begin_of_text|end_of_text|start_header_id|end_header_id|eot_id|eom_id|im_start|im_end|endoftext|python_tag)\|>` +
		`|\[/?INST\]` +
		`|<</?SYS>>` +
		`|</?s>`,
)

// ContainsControlToken reports whether s contains a chat-template control
// token.
func ContainsControlToken(s string) bool {
	return controlTokens.MatchString(s)
}

// StripControlTokens removes every control token from s. Removal is
// repeated until nothing matches, so nested fragments such as
// "<|eot<|eot_id|>_id|>" cannot reassemble into a token.
func StripControlTokens(s string) string {
	for controlTokens.MatchString(s) {
		s = controlTokens.ReplaceAllString(s, "")
	}
	return s
}
