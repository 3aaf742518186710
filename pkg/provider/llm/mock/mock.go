// Package mock provides a scripted llm.Provider for tests.
//
//	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "Hi!"}, {FinishReason: llm.FinishStop}}}
//
// Configure the fields before the first call; recorded calls may be read
// concurrently through [Provider.Streams].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cafevox/pkg/provider/llm"
)

// Call is one recorded request.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider replays StreamChunks on every StreamCompletion call and returns
// CompleteResponse from Complete.
type Provider struct {
	mu sync.Mutex

	StreamChunks []llm.Chunk

	// StreamErr, if set, fails StreamCompletion before a channel is opened.
	StreamErr error

	// Hold, if set, delays the first chunk until it is closed, simulating a
	// slow model.
	Hold chan struct{}

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	StreamCalls   []Call
	CompleteCalls []Call
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion implements llm.Provider. The channel is unbuffered and
// stops early when ctx is done.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: req})
	chunks, hold, err := append([]llm.Chunk(nil), p.StreamChunks...), p.Hold, p.StreamErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return
			}
		}
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// Streams returns the recorded StreamCompletion calls.
func (p *Provider) Streams() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.StreamCalls...)
}
