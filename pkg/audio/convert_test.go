package audio

import (
	"encoding/binary"
	"testing"
)

func pcmOf(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestDownmix(t *testing.T) {
	got := downmix([]int16{100, 200, -100, -200, 32767, 32767, -32768, -32768, 1})
	want := []int16{150, -150, 32767, -32768}
	if len(got) != len(want) {
		t.Fatalf("downmix = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		from, to int
		want     []int16
	}{
		{"same rate", []int16{1, 2, 3}, 16000, 16000, []int16{1, 2, 3}},
		{"48k to 16k keeps every third", []int16{0, 30, 60, 90, 120, 150}, 48000, 16000, []int16{0, 90}},
		{"8k to 16k interpolates", []int16{0, 100, 200}, 8000, 16000, []int16{0, 50, 100, 150, 200, 200}},
		{"empty", nil, 48000, 16000, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := resample(tc.in, tc.from, tc.to)
			if len(got) != len(tc.want) {
				t.Fatalf("resample = %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestToSpeechFormat(t *testing.T) {
	t.Run("48k stereo", func(t *testing.T) {
		// 0.1s of 48 kHz stereo with both channels at 1000.
		frames := make([]int16, 4800*2)
		for i := range frames {
			frames[i] = 1000
		}
		out := ToSpeechFormat(pcmOf(frames...), Format{SampleRate: 48000, Channels: 2})
		if len(out) != 1600*2 {
			t.Fatalf("len = %d bytes, want %d", len(out), 1600*2)
		}
		if got := SpeechFormat.Duration(len(out)); got.Milliseconds() != 100 {
			t.Errorf("duration = %v, want 100ms", got)
		}
		for i, s := range decode(out) {
			if s != 1000 {
				t.Fatalf("sample %d = %d, want 1000", i, s)
			}
		}
	})

	t.Run("already speech format", func(t *testing.T) {
		in := pcmOf(5, -5, 7)
		out := ToSpeechFormat(in, SpeechFormat)
		if string(out) != string(in) {
			t.Errorf("ToSpeechFormat changed speech-format audio")
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		in := []byte{1, 2, 3}
		if out := ToSpeechFormat(in, Format{}); string(out) != string(in) {
			t.Errorf("invalid format should pass through, got %v", out)
		}
	})

	t.Run("odd trailing byte", func(t *testing.T) {
		in := append(pcmOf(1, 2), 0xff)
		if out := ToSpeechFormat(in, SpeechFormat); len(out) != 4 {
			t.Errorf("len = %d, want partial frame dropped", len(out))
		}
	})
}
