package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/cafevox/internal/cart"
	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/internal/order"
	"github.com/MrWong99/cafevox/internal/prompt"
	"github.com/MrWong99/cafevox/internal/stream"
	"github.com/MrWong99/cafevox/pkg/provider/llm"
)

// ErrEmptyInput is returned by [Orchestrator.Chat] for blank text.
var ErrEmptyInput = errors.New("voice: empty input")

// ChatRequest is one text exchange outside a voice session.
type ChatRequest struct {
	Text    string
	Cart    []cart.Item
	History []Turn
}

// Chat runs one text exchange through the current prompt and model
// settings. Display text is passed to onDelta as it becomes safe to show;
// onDelta may be nil. The reply's actions are returned, not applied.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest, onDelta func(string) error) (order.Reply, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return order.Reply{}, ErrEmptyInput
	}
	st := o.current.Load()
	name := o.names.LLM

	ctx, cancel := context.WithTimeout(ctx, st.cfg.LLMTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "voice.chat")
	defer span.End()

	start := time.Now()
	ch, err := o.llm.StreamCompletion(ctx, llm.CompletionRequest{
		Prompt:      st.builder.Build(prompt.Input{UserText: text, History: req.History, Cart: req.Cart}),
		MaxTokens:   st.cfg.MaxTokens,
		Temperature: st.cfg.Temperature,
		Stop:        st.builder.StopSequences(),
	})
	if err == nil {
		var res stream.Result
		res, err = st.assembler.Consume(ctx, ch, onDelta)
		if err == nil {
			o.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
			o.metrics.RecordProviderRequest(ctx, name, "llm", "ok")
			return res.Reply, nil
		}
	}
	if ctx.Err() == nil {
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordProviderRequest(ctx, name, "llm", "error")
		o.metrics.RecordProviderError(ctx, name, "llm")
	}
	return order.Reply{}, fmt.Errorf("voice: chat: %w", err)
}
