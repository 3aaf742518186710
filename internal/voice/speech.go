package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/pkg/provider/stt"
	"github.com/MrWong99/cafevox/pkg/provider/tts"
)

// MaxSpeakChars bounds the text of one direct synthesis request.
const MaxSpeakChars = 2000

var (
	// ErrEmptyAudio is returned by [Orchestrator.Transcribe] for a
	// zero-length recording.
	ErrEmptyAudio = errors.New("voice: empty audio")

	// ErrTextTooLong is returned by [Orchestrator.Synthesize] for text over
	// [MaxSpeakChars] runes.
	ErrTextTooLong = errors.New("voice: text too long to speak")
)

// Transcribe converts one complete recording to text using the current
// language and timeout. A blank transcript is not an error; the returned
// text is trimmed.
func (o *Orchestrator) Transcribe(ctx context.Context, data []byte, mimeType string) (*stt.Transcript, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	return o.transcribe(ctx, o.current.Load().cfg, data, mimeType)
}

// Synthesize speaks text with the current voice and timeout. Blank text
// yields [ErrEmptyInput].
func (o *Orchestrator) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if utf8.RuneCountInString(text) > MaxSpeakChars {
		return nil, ErrTextTooLong
	}
	return o.synthesize(ctx, o.current.Load().cfg, text)
}

func (o *Orchestrator) transcribe(ctx context.Context, cfg Config, data []byte, mimeType string) (*stt.Transcript, error) {
	name := o.names.STT

	sctx, cancel := context.WithTimeout(ctx, cfg.STTTimeout)
	defer cancel()
	sctx, span := observe.StartSpan(sctx, "voice.stt")
	defer span.End()

	start := time.Now()
	tr, err := o.stt.Transcribe(sctx, stt.Request{
		Audio:    data,
		MimeType: mimeType,
		Language: cfg.Language,
	})
	o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			span.SetStatus(codes.Error, err.Error())
			o.metrics.RecordProviderRequest(ctx, name, "stt", "error")
			o.metrics.RecordProviderError(ctx, name, "stt")
		}
		return nil, fmt.Errorf("voice: transcribe: %w", err)
	}
	o.metrics.RecordProviderRequest(ctx, name, "stt", "ok")

	out := &stt.Transcript{}
	if tr != nil {
		out.Text = strings.TrimSpace(tr.Text)
		out.Language = tr.Language
	}
	return out, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, cfg Config, text string) (*tts.Audio, error) {
	name := o.names.TTS

	tctx, cancel := context.WithTimeout(ctx, cfg.TTSTimeout)
	defer cancel()
	tctx, span := observe.StartSpan(tctx, "voice.tts")
	defer span.End()

	start := time.Now()
	a, err := o.tts.Synthesize(tctx, text, cfg.Voice)
	o.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && (a == nil || len(a.Data) == 0) {
		err = errors.New("empty synthesized audio")
	}
	if err != nil {
		if ctx.Err() == nil {
			span.SetStatus(codes.Error, err.Error())
			o.metrics.RecordProviderRequest(ctx, name, "tts", "error")
			o.metrics.RecordProviderError(ctx, name, "tts")
		}
		return nil, fmt.Errorf("voice: synthesize: %w", err)
	}
	o.metrics.RecordProviderRequest(ctx, name, "tts", "ok")
	return a, nil
}
