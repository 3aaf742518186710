// Package anyllm provides an llm.Provider for chat-completion backends,
// backed by github.com/mozilla-ai/any-llm-go. It supports Anthropic, Gemini,
// Ollama, DeepSeek, Mistral, Groq, OpenAI chat models and more.
//
// The rendered completion prompt is split back into its turns and sent as
// chat messages:
//
//   - the leading system turn becomes the system message;
//   - later system turns (cart snapshot, reminder) are sent as user text;
//   - consecutive messages of one role are merged, so roles alternate.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/cafevox/internal/prompt"
	"github.com/MrWong99/cafevox/pkg/provider/llm"
)

// Backends lists the provider names accepted by [New].
var Backends = []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamafile", "openai-chat"}

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a new Provider backed by the named chat backend (see
// [Backends]). model is required.
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option, the backend falls back
// to its environment variable (ANTHROPIC_API_KEY, GEMINI_API_KEY, ...).
func New(backendName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	case "openai-chat":
		return anyllmoai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: %s", name, strings.Join(Backends, ", "))
	}
}

// StreamCompletion implements llm.Provider. A backend error ends the stream
// with an [llm.FinishError] chunk carrying the error text.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	chunks, errs := p.backend.CompletionStream(ctx, p.buildParams(req))
	out := make(chan llm.Chunk, 32)
	send := func(c llm.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			c := llm.Chunk{Text: choice.Delta.Content, FinishReason: string(choice.FinishReason)}
			if c.Text == "" && c.FinishReason == "" {
				continue
			}
			if !send(c) {
				return
			}
		}
		// The error channel is only read once the chunks are drained.
		if err := <-errs; err != nil && ctx.Err() == nil {
			send(llm.Chunk{Text: err.Error(), FinishReason: llm.FinishError})
		}
	}()
	return out, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	switch {
	case err != nil:
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	case len(resp.Choices) == 0:
		return nil, fmt.Errorf("anyllm: completion: no choices")
	}

	out := &llm.CompletionResponse{
		Text:         resp.Choices[0].Message.ContentString(),
		FinishReason: string(resp.Choices[0].FinishReason),
	}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return out, nil
}

// buildParams converts a CompletionRequest into anyllm CompletionParams.
// Stop sequences are template tokens of the raw prompt and do not apply to
// chat messages.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: toMessages(req.Prompt),
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// toMessages turns a rendered prompt into alternating chat messages. A
// prompt without template tokens becomes a single user message.
func toMessages(rendered string) []anyllmlib.Message {
	turns := prompt.SplitTurns(rendered)
	if len(turns) == 0 {
		return []anyllmlib.Message{{Role: "user", Content: rendered}}
	}

	var (
		msgs  []anyllmlib.Message
		roles []string
		parts [][]string
	)
	for i, t := range turns {
		role := "user"
		switch {
		case t.Role == prompt.RoleSystem && i == 0:
			role = "system"
		case t.Role == prompt.RoleAssistant:
			role = "assistant"
		}
		if n := len(roles); n > 0 && roles[n-1] == role {
			parts[n-1] = append(parts[n-1], t.Content)
			continue
		}
		roles = append(roles, role)
		parts = append(parts, []string{t.Content})
	}
	for i, role := range roles {
		msgs = append(msgs, anyllmlib.Message{Role: role, Content: strings.Join(parts[i], "\n\n")})
	}
	return msgs
}
