// Package order turns raw language-model output into a customer-facing
// message plus the cart mutations the model asked for.
//
// The model is taught to answer in two parts: free text for the customer,
// followed by a final line that starts with [Delimiter] and carries a
// single-line JSON object:
//
//	Two cappuccinos, coming right up!
//	<<<ACTIONS>>> {"actions":[{"type":"ADD","item":"Cappuccino","quantity":2}],"meta":{"clarify":false,"clarify_question":null}}
//
// [Parser] splits such output, [Validator] rejects output that leaks prompt
// formatting or drifts out of character, and [Normalizer] maps the loosely
// typed action objects onto [CartAction]. None of them return errors: bad
// model output degrades to a message-only [Reply].
package order

import (
	"encoding/json"
	"strings"
)

// Delimiter separates the human-readable message from the trailing action
// JSON in model output.
const Delimiter = "<<<ACTIONS>>>"

// Kind is the canonical cart mutation type.
type Kind string

const (
	KindAdd       Kind = "ADD"
	KindRemove    Kind = "REMOVE"
	KindEmptyCart Kind = "EMPTY_CART"
)

// CartAction is one cart mutation. EMPTY_CART carries neither item nor
// quantity; ADD and REMOVE always carry a non-empty item and a quantity of
// at least one.
type CartAction struct {
	Kind     Kind   `json:"type"`
	Item     string `json:"item,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

// Meta carries the model's clarification request, if any.
type Meta struct {
	Clarify         bool    `json:"clarify"`
	ClarifyQuestion *string `json:"clarify_question"`
}

// Reply is the parsed form of one model response. Message is never empty
// and Actions is never nil.
type Reply struct {
	Message string       `json:"message"`
	Actions []CartAction `json:"actions"`
	Meta    Meta         `json:"meta"`
}

// FormatReply renders r in the same structured form the model is taught to
// produce. Assistant turns are stored in history this way so the model keeps
// seeing its own output contract across turns.
func FormatReply(r Reply) string {
	actions := r.Actions
	if actions == nil {
		actions = []CartAction{}
	}
	data, err := json.Marshal(struct {
		Actions []CartAction `json:"actions"`
		Meta    Meta         `json:"meta"`
	}{actions, r.Meta})
	if err != nil {
		return r.Message
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Message))
	b.WriteByte('\n')
	b.WriteString(Delimiter)
	b.WriteByte(' ')
	b.Write(data)
	return b.String()
}
