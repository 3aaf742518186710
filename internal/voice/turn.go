package voice

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/cafevox/internal/cart"
	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/internal/order"
	"github.com/MrWong99/cafevox/internal/prompt"
	"github.com/MrWong99/cafevox/pkg/provider/llm"
	"github.com/MrWong99/cafevox/pkg/provider/stt"
	"github.com/MrWong99/cafevox/pkg/provider/tts"
)

// turnInput is one utterance: recorded audio, or typed text that skips
// transcription. speak is text the client wants read aloud as is; such a
// turn skips the model too.
type turnInput struct {
	audio []byte
	mime  string
	text  string
	speak string
}

// turn runs one utterance through transcription, the model, the cart and
// synthesis. It runs on its own goroutine and only touches session state
// through emitTurn and report.
type turn struct {
	s       *Session
	gen     uint64
	st      *settings
	history []Turn
	cart    []cart.Item
	in      turnInput
}

func (t *turn) run(ctx context.Context) turnResult {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "voice.turn")
	defer span.End()

	res := t.exec(ctx)
	if ctx.Err() != nil {
		res.outcome = observe.OutcomeCancelled
	}
	span.SetAttributes(attribute.String("outcome", res.outcome))
	if res.outcome == observe.OutcomeError {
		span.SetStatus(codes.Error, "turn failed")
	}
	elapsed := time.Since(start)
	observe.Logger(ctx).Debug("voice: turn finished", "outcome", res.outcome, "duration", elapsed)
	// Cancelled turns are counted by the session when it cancels them.
	if res.outcome != observe.OutcomeCancelled {
		t.s.orch.metrics.RecordTurn(ctx, res.outcome, elapsed)
	}
	return res
}

func (t *turn) exec(ctx context.Context) turnResult {
	if t.in.speak != "" {
		return t.speak(ctx)
	}
	text := t.in.text
	if text == "" {
		tr, ok := t.transcribe(ctx)
		if !ok {
			return turnResult{outcome: observe.OutcomeError}
		}
		if tr == nil {
			return turnResult{outcome: observe.OutcomeNoSpeech}
		}
		text = tr.Text
		t.s.report(turnUpdate{gen: t.gen, state: StateAwaitingModel})
	}
	_ = t.s.emitTurn(ctx, Event{Type: EventStatus, Data: StatusData{State: StatusThinking}})

	builder := t.st.builder
	res := turnResult{outcome: observe.OutcomeOK, userTurn: builder.Sanitize(text)}

	reply, empty, ok := t.complete(ctx, text)
	if !ok {
		res.outcome = observe.OutcomeError
		return res
	}
	if !empty {
		res.assistantTurn = order.FormatReply(reply)
	}

	res.cart = t.applyActions(ctx, reply.Actions)
	if ctx.Err() != nil {
		return res
	}

	t.s.report(turnUpdate{gen: t.gen, state: StateSpeaking})
	speech, err := t.synthesize(ctx, reply.Message)
	if err != nil {
		if ctx.Err() == nil {
			_ = t.s.emitTurn(ctx, Event{Type: EventError, Data: ErrorData{Message: msgTTSFailed, Kind: ErrorKindTransport}})
		}
		res.ttsFailed = true
		return res
	}
	res.speech = speech
	return res
}

// transcribe returns the transcript, nil for a blank one, and false on a
// transport failure. Events for every outcome are emitted here.
func (t *turn) transcribe(ctx context.Context) (*stt.Transcript, bool) {
	tr, err := t.s.orch.transcribe(ctx, t.st.cfg, t.in.audio, t.in.mime)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		t.s.log.Warn("voice: transcription failed", "err", err)
		_ = t.s.emitTurn(ctx, Event{Type: EventError, Data: ErrorData{Message: msgSTTFailed, Kind: ErrorKindTransport}})
		return nil, false
	}
	if tr.Text == "" {
		_ = t.s.emitTurn(ctx, Event{Type: EventTranscriptionComplete, Data: TranscriptionData{Error: msgNotUnderstood}})
		_ = t.s.emitTurn(ctx, Event{Type: EventStatus, Data: StatusData{State: StatusNoSpeech, Message: msgTryAgain}})
		return nil, true
	}
	_ = t.s.emitTurn(ctx, Event{Type: EventTranscriptionComplete, Data: TranscriptionData{Text: tr.Text, Language: tr.Language}})
	return tr, true
}

// complete streams the model reply, forwarding display text as content
// events, and emits the final event. empty reports a reply with no model
// text, in which case the fallback message was sent.
func (t *turn) complete(ctx context.Context, text string) (reply order.Reply, empty, ok bool) {
	cfg := t.st.cfg
	m := t.s.orch.metrics
	name := t.s.orch.names.LLM
	builder := t.st.builder

	items := t.cart
	if c, err := t.s.orch.cart.Get(ctx, t.s.userID); err != nil {
		t.s.log.Warn("voice: cart refresh before prompt failed, using last snapshot", "err", err)
	} else {
		items = c.Items
	}

	lctx, cancel := context.WithTimeout(ctx, cfg.LLMTimeout)
	defer cancel()
	lctx, span := observe.StartSpan(lctx, "voice.llm")
	defer span.End()

	req := llm.CompletionRequest{
		Prompt:      builder.Build(prompt.Input{UserText: text, History: t.history, Cart: items}),
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Stop:        builder.StopSequences(),
	}

	start := time.Now()
	first := true
	fail := func(err error) (order.Reply, bool, bool) {
		if ctx.Err() != nil {
			return order.Reply{}, false, false
		}
		span.SetStatus(codes.Error, err.Error())
		m.RecordProviderRequest(ctx, name, "llm", "error")
		m.RecordProviderError(ctx, name, "llm")
		t.s.log.Warn("voice: completion failed", "err", err)
		_ = t.s.emitTurn(ctx, Event{Type: EventError, Data: ErrorData{Message: msgLLMFailed, Kind: ErrorKindTransport}})
		return order.Reply{}, false, false
	}

	ch, err := t.s.orch.llm.StreamCompletion(lctx, req)
	if err != nil {
		return fail(err)
	}
	result, err := t.st.assembler.Consume(lctx, ch, func(delta string) error {
		if first {
			first = false
			m.LLMFirstDelta.Record(ctx, time.Since(start).Seconds())
		}
		return t.s.emitTurn(ctx, Event{Type: EventContent, Data: ContentData{Delta: delta}})
	})
	m.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fail(err)
	}
	m.RecordProviderRequest(ctx, name, "llm", "ok")

	reply = result.Reply
	if err := t.s.emitTurn(ctx, Event{Type: EventFinal, Data: FinalData{
		Message: reply.Message,
		Actions: reply.Actions,
		Meta:    reply.Meta,
	}}); err != nil && ctx.Err() != nil {
		return order.Reply{}, false, false
	}
	return reply, result.Empty, true
}

// applyActions runs the actions against the cart in order, one call each,
// and returns the refreshed cart. Failures are reported and skipped.
func (t *turn) applyActions(ctx context.Context, actions []order.CartAction) []cart.Item {
	store := t.s.orch.cart
	m := t.s.orch.metrics
	user := t.s.userID

	for _, a := range actions {
		var err error
		switch a.Kind {
		case order.KindAdd:
			_, err = store.Add(ctx, user, a.Item, a.Quantity)
		case order.KindRemove:
			_, err = store.Remove(ctx, user, a.Item, a.Quantity)
		case order.KindEmptyCart:
			_, err = store.Empty(ctx, user)
		default:
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			m.RecordCartAction(ctx, string(a.Kind), "error")
			t.s.log.Warn("voice: cart action failed", "action", a.Kind, "item", a.Item, "quantity", a.Quantity, "err", err)
			_ = t.s.emitTurn(ctx, Event{Type: EventError, Data: ErrorData{Message: cartErrorMessage(a, err), Kind: ErrorKindCart}})
			continue
		}
		m.RecordCartAction(ctx, string(a.Kind), "ok")
	}

	c, err := store.Get(ctx, user)
	if err != nil {
		if ctx.Err() == nil {
			t.s.log.Warn("voice: cart refresh failed", "err", err)
		}
		return nil
	}
	_ = t.s.emitTurn(ctx, Event{Type: EventCartUpdated, Data: CartData{Items: c.Items}})
	return c.Items
}

func cartErrorMessage(a order.CartAction, err error) string {
	switch {
	case errors.Is(err, cart.ErrItemNotFound):
		return a.Item + " is not in your cart."
	case a.Kind == order.KindEmptyCart:
		return "Could not empty the cart."
	default:
		return "Could not update " + a.Item + " in your cart."
	}
}

func (t *turn) synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	a, err := t.s.orch.synthesize(ctx, t.st.cfg, text)
	if err != nil && ctx.Err() == nil {
		t.s.log.Warn("voice: synthesis failed", "err", err)
	}
	return a, err
}

// speak synthesizes client-supplied text without involving the model.
func (t *turn) speak(ctx context.Context) turnResult {
	speech, err := t.synthesize(ctx, t.in.speak)
	if err != nil {
		if ctx.Err() == nil {
			_ = t.s.emitTurn(ctx, Event{Type: EventError, Data: ErrorData{Message: msgTTSFailed, Kind: ErrorKindTransport}})
		}
		return turnResult{outcome: observe.OutcomeError}
	}
	return turnResult{outcome: observe.OutcomeOK, speech: speech}
}
