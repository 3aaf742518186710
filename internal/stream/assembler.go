// Package stream turns a streaming LLM completion into incremental display
// text plus a parsed [order.Reply].
//
// While chunks arrive, only the part of the output that can no longer turn
// out to be the structured action line is forwarded for display: text is
// held back from the first line starting with '{' or containing the action
// delimiter, and from any trailing fragment that could still grow into
// either. Each candidate is also run through the parser's validator; the
// first prefix that fails stops display for the rest of the stream, so
// rejected output never reaches the customer. Once the stream ends the full
// text is handed to the parser.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/MrWong99/cafevox/internal/order"
	"github.com/MrWong99/cafevox/pkg/provider/llm"
)

// ErrStream is returned when the provider reports a failure mid-stream.
var ErrStream = errors.New("stream: completion failed")

// Result is the outcome of one consumed completion.
type Result struct {
	// Raw is the complete generated text.
	Raw string

	// Reply is Raw parsed by the assembler's parser.
	Reply order.Reply

	// Empty reports that the model produced no visible text at all.
	Empty bool

	// Displayed is the concatenation of every delta passed to onDelta.
	Displayed string

	// FinishReason is the provider's finish reason, empty if the channel
	// closed without one.
	FinishReason string

	// Rejected reports that display stopped because the output failed
	// validation.
	Rejected bool
}

// Assembler consumes completion streams. It holds no per-stream state and is
// safe for concurrent use.
type Assembler struct {
	parser    *order.Parser
	validator *order.Validator
}

// NewAssembler creates an Assembler that parses finished output with p.
// A nil p selects a parser with default settings.
func NewAssembler(p *order.Parser) *Assembler {
	if p == nil {
		p = order.NewParser(nil, nil)
	}
	return &Assembler{parser: p, validator: p.Validator()}
}

// Consume reads ch until the completion finishes, forwarding newly safe
// display text to onDelta in order. onDelta may be nil.
//
// When ctx is cancelled Consume returns ctx.Err() without calling onDelta
// again, and keeps draining ch in the background so the producer can exit.
// A [llm.FinishError] chunk yields an error wrapping [ErrStream]. An error
// returned by onDelta aborts consumption and is returned as is.
func (a *Assembler) Consume(ctx context.Context, ch <-chan llm.Chunk, onDelta func(string) error) (Result, error) {
	var (
		buf      strings.Builder
		emitted  int
		sealed   bool
		rejected bool
		finish   string
	)

	abort := func(err error) (Result, error) {
		go drainChunks(ch)
		return Result{Raw: buf.String(), Displayed: buf.String()[:emitted], Rejected: rejected}, err
	}
	forward := func(final bool) error {
		var shown string
		shown, sealed, rejected = a.displayable(buf.String(), final)
		if len(shown) <= emitted {
			return nil
		}
		delta := shown[emitted:]
		emitted = len(shown)
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	}

loop:
	for {
		var (
			c  llm.Chunk
			ok bool
		)
		select {
		case <-ctx.Done():
			return abort(ctx.Err())
		case c, ok = <-ch:
		}
		if !ok {
			break loop
		}
		if c.FinishReason == llm.FinishError {
			return abort(fmt.Errorf("%w: %s", ErrStream, c.Text))
		}

		buf.WriteString(c.Text)
		if ctx.Err() != nil {
			return abort(ctx.Err())
		}

		if !sealed && c.Text != "" {
			if err := forward(false); err != nil {
				return abort(err)
			}
		}

		if c.FinishReason != "" {
			finish = c.FinishReason
			go drainChunks(ch)
			break loop
		}
	}

	// The last word is complete now.
	if !sealed {
		if err := forward(true); err != nil {
			return abort(err)
		}
	}

	raw := buf.String()
	return Result{
		Raw:          raw,
		Reply:        a.parser.Parse(raw),
		Empty:        strings.TrimSpace(raw) == "",
		Displayed:    raw[:emitted],
		FinishReason: finish,
		Rejected:     rejected,
	}, nil
}

// displayable returns the prefix of text that may be shown so far. While
// the stream runs only complete words are shown, since a partial word can
// still grow into a control token or a flagged phrase. final means text is
// the whole output. sealed reports that nothing more will ever be shown,
// either because the action line started or because rejected is set.
func (a *Assembler) displayable(text string, final bool) (shown string, sealed, rejected bool) {
	if final {
		if v := a.validator.Validate(strings.TrimSpace(text)); !v.Valid {
			return "", true, true
		}
		shown, sealed = SafePrefix(text)
		return shown, sealed, false
	}

	v, checked := a.validator.ValidatePrefix(text)
	if !v.Valid {
		return "", true, true
	}
	shown, sealed = SafePrefix(text)
	if sealed {
		// The message before the action line is complete.
		if v := a.validator.Validate(shown); !v.Valid {
			return "", true, true
		}
		return shown, true, false
	}
	if len(shown) > checked {
		shown = strings.TrimRightFunc(text[:checked], unicode.IsSpace)
	}
	return shown, false, false
}

// SafePrefix returns the longest prefix of text that can be shown to the
// customer without risking a leak of the action line. sealed reports that
// the action line has started, so no later text will ever be safe.
func SafePrefix(text string) (safe string, sealed bool) {
	lineStart := 0
	for lineStart <= len(text) {
		end := strings.IndexByte(text[lineStart:], '\n')
		partial := end < 0
		if partial {
			end = len(text)
		} else {
			end += lineStart
		}
		line := text[lineStart:end]

		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "{") {
			return strings.TrimRight(text[:lineStart], " \t\r\n"), true
		}
		if i := strings.Index(line, order.Delimiter); i >= 0 {
			return strings.TrimRight(text[:lineStart+i], " \t\r\n"), true
		}
		if partial {
			cut := end - delimiterPrefixSuffix(line)
			return strings.TrimRight(text[:cut], " \t\r\n"), false
		}
		lineStart = end + 1
	}
	return strings.TrimRight(text, " \t\r\n"), false
}

// delimiterPrefixSuffix returns the length of the longest suffix of line
// that is a proper prefix of the delimiter.
func delimiterPrefixSuffix(line string) int {
	for k := min(len(order.Delimiter)-1, len(line)); k > 0; k-- {
		if strings.HasSuffix(line, order.Delimiter[:k]) {
			return k
		}
	}
	return 0
}

// drainChunks discards all remaining chunks from ch so the producing
// goroutine is never blocked on a send nobody will receive.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
