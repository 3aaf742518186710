// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: &tts.Audio{Data: wav, MimeType: "audio/wav"}}
//	a, _ := p.Synthesize(ctx, "Coming right up!", tts.VoiceProfile{ID: "af_sky"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cafevox/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Synthesize. A nil Result yields a one-byte WAV
	// placeholder.
	Result *tts.Audio

	Err error

	// Hold, if non-nil, blocks Synthesize until it is closed or the context
	// ends.
	Hold chan struct{}

	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns Result, Err.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	hold, res, err := p.Hold, p.Result, p.Err
	p.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &tts.Audio{Data: []byte{0}, MimeType: "audio/wav"}, nil
	}
	cp := *res
	return &cp, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}

var _ tts.Provider = (*Provider)(nil)
