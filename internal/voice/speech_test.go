package voice

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/cafevox/pkg/provider/stt"
)

func TestOrchestrator_Transcribe(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Language: "de"})
	f.stt.Result = &stt.Transcript{Text: "  zwei Latte  ", Language: "de"}

	tr, err := f.orch.Transcribe(context.Background(), []byte("webm"), "audio/webm")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "zwei Latte" || tr.Language != "de" {
		t.Errorf("transcript = %+v", tr)
	}
	req := f.stt.Calls()[0].Req
	if req.MimeType != "audio/webm" || req.Language != "de" || string(req.Audio) != "webm" {
		t.Errorf("request = %+v", req)
	}
}

func TestOrchestrator_TranscribeErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	if _, err := f.orch.Transcribe(context.Background(), nil, "audio/webm"); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("empty audio: err = %v, want ErrEmptyAudio", err)
	}

	down := errors.New("whisper down")
	f.stt.Err = down
	if _, err := f.orch.Transcribe(context.Background(), []byte("x"), "audio/webm"); !errors.Is(err, down) {
		t.Errorf("err = %v, want wrapped provider error", err)
	}
}

func TestOrchestrator_Synthesize(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	a, err := f.orch.Synthesize(context.Background(), " Coming right up! ")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(a.Data) != "RIFF" {
		t.Errorf("audio = %q", a.Data)
	}
	if got := f.tts.Calls()[0].Text; got != "Coming right up!" {
		t.Errorf("synthesized %q", got)
	}

	if _, err := f.orch.Synthesize(context.Background(), "  "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("blank: err = %v, want ErrEmptyInput", err)
	}
	if _, err := f.orch.Synthesize(context.Background(), strings.Repeat("ü", MaxSpeakChars+1)); !errors.Is(err, ErrTextTooLong) {
		t.Errorf("long: err = %v, want ErrTextTooLong", err)
	}
	if n := len(f.tts.Calls()); n != 1 {
		t.Errorf("tts calls = %d, want 1", n)
	}
}
