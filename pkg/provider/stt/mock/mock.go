// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: &stt.Transcript{Text: "two lattes"}}
//	tr, _ := p.Transcribe(ctx, stt.Request{Audio: wav, MimeType: "audio/wav"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cafevox/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Ctx context.Context
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe. A nil Result yields an empty
	// transcript.
	Result *stt.Transcript

	Err error

	// Hold, if non-nil, blocks Transcribe until it is closed or the
	// context ends.
	Hold chan struct{}

	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: req})
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
		return &stt.Transcript{}, nil
	}
	cp := *res
	return &cp, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.TranscribeCalls...)
}

var _ stt.Provider = (*Provider)(nil)
