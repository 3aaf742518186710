// Package openai talks to OpenAI-compatible text completion endpoints
// (POST /v1/completions). The llama.cpp server is the main target: the
// order prompt is sent verbatim with its template tokens, and the reply is
// streamed back as [llm.Chunk] values.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/MrWong99/cafevox/pkg/provider/llm"
)

// streamBuffer is the chunk channel capacity. Deltas are small; the buffer
// only smooths over a briefly busy assembler.
const streamBuffer = 32

// Provider is an [llm.Provider] over the completions API.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

type settings struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option customises a [Provider].
type Option func(*settings)

// WithBaseURL points the client at the /v1 root of a self-hosted server,
// e.g. "http://llama:8080/v1".
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sends an OpenAI organization ID with every request.
func WithOrganization(org string) Option {
	return func(s *settings) { s.organization = org }
}

// WithTimeout bounds each HTTP request, streaming included.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// New creates a Provider for model. apiKey may be empty for servers that do
// not authenticate.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}

	// An explicit key, even an empty one, stops the SDK from reading
	// OPENAI_API_KEY. Failed turns are retried by the customer, not the SDK.
	ro := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if s.baseURL != "" {
		ro = append(ro, option.WithBaseURL(s.baseURL))
	}
	if s.organization != "" {
		ro = append(ro, option.WithOrganization(s.organization))
	}
	if s.timeout > 0 {
		ro = append(ro, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	return &Provider{client: oai.NewClient(ro...), model: model}, nil
}

// StreamCompletion implements [llm.Provider]. Connection errors are returned
// directly; an error after the first chunk arrives as a final chunk with
// [llm.FinishError].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	stream := p.client.Completions.NewStreaming(ctx, p.buildParams(req))
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}
	ch := make(chan llm.Chunk, streamBuffer)
	go pump(ctx, stream, ch)
	return ch, nil
}

// pump forwards non-empty deltas from stream to ch and closes both.
func pump(ctx context.Context, stream *ssestream.Stream[oai.Completion], ch chan<- llm.Chunk) {
	defer close(ch)
	defer stream.Close()

	send := func(c llm.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for stream.Next() {
		c, ok := chunkOf(stream.Current())
		if ok && !send(c) {
			return
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		send(llm.Chunk{FinishReason: llm.FinishError, Text: err.Error()})
	}
}

func chunkOf(c oai.Completion) (llm.Chunk, bool) {
	if len(c.Choices) == 0 {
		return llm.Chunk{}, false
	}
	choice := c.Choices[0]
	out := llm.Chunk{Text: choice.Text, FinishReason: string(choice.FinishReason)}
	return out, out.Text != "" || out.FinishReason != ""
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.client.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai: completion: %w", err)
	}
	c, ok := chunkOf(*resp)
	if !ok {
		return nil, errors.New("openai: completion has no text")
	}
	u := resp.Usage
	return &llm.CompletionResponse{
		Text:         c.Text,
		FinishReason: c.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

// buildParams sends the rendered prompt as a single string. Zero limits are
// left to the server's defaults.
func (p *Provider) buildParams(req llm.CompletionRequest) oai.CompletionNewParams {
	params := oai.CompletionNewParams{
		Model:  oai.CompletionNewParamsModel(p.model),
		Prompt: oai.CompletionNewParamsPromptUnion{OfString: oai.String(req.Prompt)},
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop = oai.CompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	return params
}
