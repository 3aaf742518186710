// Package llm defines the Provider interface for raw-prompt text completion
// backends.
//
// The prompt is fully rendered by the caller (including any chat template
// tokens), so providers talk to plain completion endpoints such as the
// llama.cpp server or any OpenAI-compatible /v1/completions API.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Finish reasons reported on the last [Chunk] of a stream.
const (
	FinishStop   = "stop"
	FinishLength = "length"

	// FinishError marks a chunk that reports a transport failure after the
	// stream started. Its Text carries the error message.
	FinishError = "error"
)

// Usage reports token consumption for a completed request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is the input to a completion call.
type CompletionRequest struct {
	// Prompt is the complete, already templated prompt text.
	Prompt string

	// MaxTokens caps the generated length. Zero uses the backend default.
	MaxTokens int

	// Temperature controls sampling randomness. Zero uses the backend default.
	Temperature float64

	// Stop lists sequences that end generation. They are not included in the
	// output.
	Stop []string
}

// Chunk is one incremental piece of a streaming completion.
type Chunk struct {
	// Text is the newly generated text. May be empty on the final chunk.
	Text string

	// FinishReason is non-empty on the last chunk: [FinishStop],
	// [FinishLength] or [FinishError].
	FinishReason string
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Provider is the abstraction over completion backends.
type Provider interface {
	// StreamCompletion starts a streaming completion. The returned channel is
	// closed when generation ends, the backend fails (reported as a
	// [FinishError] chunk) or ctx is cancelled. Callers that stop reading
	// early must cancel ctx so the producer can exit.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete runs a completion to the end and returns the full text.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
