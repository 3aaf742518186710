package energy_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/cafevox/pkg/provider/vad"
	"github.com/MrWong99/cafevox/pkg/provider/vad/energy"
)

const frame = 100 * time.Millisecond

func newSession(t *testing.T) vad.SessionHandle {
	t.Helper()
	s, err := energy.New().NewSession(vad.DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// feed sends n frames at level and returns the index (1-based) of the frame
// that produced VADSpeechEnd, or 0 if none did, along with that event.
func feed(t *testing.T, s vad.SessionHandle, level float64, n int) (int, vad.VADEvent) {
	t.Helper()
	for i := 1; i <= n; i++ {
		ev, err := s.ProcessLevel(level, frame)
		if err != nil {
			t.Fatalf("ProcessLevel: %v", err)
		}
		if ev.Type == vad.VADSpeechEnd {
			return i, ev
		}
	}
	return 0, vad.VADEvent{}
}

func TestSession_SpeechStartAndContinue(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	ev, _ := s.ProcessLevel(10, frame)
	if ev.Type != vad.VADSilence {
		t.Errorf("quiet frame = %v, want silence", ev.Type)
	}
	ev, _ = s.ProcessLevel(40, frame)
	if ev.Type != vad.VADSpeechStart {
		t.Errorf("loud frame = %v, want speech_start", ev.Type)
	}
	ev, _ = s.ProcessLevel(20, frame)
	if ev.Type != vad.VADSpeechContinue {
		t.Errorf("frame above peak ratio = %v, want speech_continue", ev.Type)
	}

	st := s.Stats()
	if !st.Detected || st.Peak != 40 || st.Speech != 2*frame || st.Elapsed != 3*frame {
		t.Errorf("Stats = %+v", st)
	}
}

func TestSession_EndsAfterSilenceFollowingSpeech(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	if n, _ := feed(t, s, 40, 5); n != 0 {
		t.Fatalf("ended during speech at frame %d", n)
	}
	// 5 quiet frames fall inside the 1s grace period, then 20 frames make
	// up the 2s of silence.
	n, ev := feed(t, s, 5, 40)
	if n != 25 {
		t.Fatalf("ended after %d quiet frames, want 25", n)
	}
	if ev.Reason != vad.EndSilence {
		t.Errorf("Reason = %v, want EndSilence", ev.Reason)
	}
	if ev.Discard {
		t.Error("500ms of speech flagged for discard")
	}
	if !s.Stats().Ended {
		t.Error("Stats.Ended = false after end")
	}

	// Ended sessions ignore further input.
	ev, err := s.ProcessLevel(90, frame)
	if err != nil || ev.Type != vad.VADSilence {
		t.Errorf("after end = %v, %v", ev.Type, err)
	}
}

func TestSession_SilenceTracksPeak(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	feed(t, s, 40, 5)
	feed(t, s, 100, 10)
	// 15 is above the speech threshold's ratio (8) but below the peak's (20).
	n, ev := feed(t, s, 15, 30)
	if n != 20 || ev.Reason != vad.EndSilence {
		t.Errorf("ended after %d frames (reason %v), want 20 / EndSilence", n, ev.Reason)
	}
}

func TestSession_PeakRatioSeparatesTrailingSpeechFromNoise(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	feed(t, s, 80, 12)
	// Peak 80 puts the silence threshold at 16.
	for i := 0; i < 30; i++ {
		ev, err := s.ProcessLevel(18, frame)
		if err != nil {
			t.Fatalf("ProcessLevel: %v", err)
		}
		if ev.Type != vad.VADSpeechContinue {
			t.Fatalf("level 18 after peak 80 = %v at frame %d, want speech_continue", ev.Type, i+1)
		}
	}
	n, ev := feed(t, s, 10, 30)
	if n != 20 || ev.Reason != vad.EndSilence {
		t.Errorf("level 10 ended after %d frames (reason %v), want 20 / EndSilence", n, ev.Reason)
	}
	if st := s.Stats(); st.Peak != 80 {
		t.Errorf("Peak = %v, want 80", st.Peak)
	}
}

func TestSession_SpeechResetsSilence(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	feed(t, s, 40, 15)
	if n, _ := feed(t, s, 2, 19); n != 0 {
		t.Fatalf("ended early at %d", n)
	}
	feed(t, s, 40, 1)
	if n, _ := feed(t, s, 2, 19); n != 0 {
		t.Fatalf("silence not reset by speech, ended at %d", n)
	}
	if n, _ := feed(t, s, 2, 1); n != 1 {
		t.Error("did not end once silence reached 2s")
	}
}

func TestSession_MaxDuration(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	n, ev := feed(t, s, 60, 200)
	if n != 150 {
		t.Fatalf("ended at frame %d, want 150", n)
	}
	if ev.Reason != vad.EndMaxDuration || ev.Discard {
		t.Errorf("event = %+v, want max duration kept", ev)
	}
}

func TestSession_NoSpeechIsDiscarded(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	n, ev := feed(t, s, 3, 200)
	if n != 150 || ev.Reason != vad.EndMaxDuration {
		t.Fatalf("ended at %d (%v), want 150 / max duration", n, ev.Reason)
	}
	if !ev.Discard {
		t.Error("silent recording not flagged for discard")
	}
}

func TestSession_ShortSpeechIsDiscarded(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	feed(t, s, 40, 1)
	n, ev := feed(t, s, 2, 40)
	if n != 29 {
		t.Fatalf("ended after %d quiet frames, want 29", n)
	}
	if !ev.Discard {
		t.Error("100ms of speech not flagged for discard")
	}
}

func TestSession_Reset(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	feed(t, s, 60, 200)
	s.Reset()
	if st := s.Stats(); st != (vad.Stats{}) {
		t.Errorf("Stats after Reset = %+v", st)
	}
	ev, _ := s.ProcessLevel(40, frame)
	if ev.Type != vad.VADSpeechStart {
		t.Errorf("first frame after Reset = %v, want speech_start", ev.Type)
	}
}

func TestSession_Close(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.ProcessLevel(40, frame); !errors.Is(err, vad.ErrSessionClosed) {
		t.Errorf("ProcessLevel after Close = %v, want ErrSessionClosed", err)
	}
}

func TestEngine_NewSessionValidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*vad.Config)
	}{
		{"zero threshold", func(c *vad.Config) { c.SpeechThreshold = 0 }},
		{"threshold above scale", func(c *vad.Config) { c.SpeechThreshold = 200 }},
		{"zero ratio", func(c *vad.Config) { c.PeakRatio = 0 }},
		{"ratio above one", func(c *vad.Config) { c.PeakRatio = 1.5 }},
		{"zero silence", func(c *vad.Config) { c.Silence = 0 }},
		{"negative grace", func(c *vad.Config) { c.GracePeriod = -time.Second }},
		{"zero max", func(c *vad.Config) { c.MaxDuration = 0 }},
		{"negative min speech", func(c *vad.Config) { c.MinSpeech = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := vad.DefaultConfig()
			tc.mutate(&cfg)
			if _, err := energy.New().NewSession(cfg); err == nil {
				t.Error("NewSession accepted invalid config")
			}
		})
	}
}
