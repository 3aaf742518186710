package resilience

import (
	"context"

	"github.com/MrWong99/cafevox/pkg/provider/llm"
)

// LLMFallback is the [llm.Provider] the voice pipeline and chat endpoint talk
// to. It forwards each request to the first configured model backend whose
// circuit admits it.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers a backend tried after those already registered.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete returns the first successful non-streaming completion.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a stream on the first backend that accepts the
// request. Failover covers opening the stream only: once chunks flow, a
// backend failure arrives as a chunk with [llm.FinishError] and the turn
// handles it.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Status lists the breaker state of every registered backend.
func (f *LLMFallback) Status() []ProviderStatus { return f.group.Status() }

// Ping fails when every registered backend has an open circuit.
func (f *LLMFallback) Ping(ctx context.Context) error { return f.group.Ping(ctx) }
