// Package audio holds small, dependency-free helpers for the audio that flows
// through a voice session: format descriptions, a capped utterance buffer,
// PCM level metering, channel/rate conversion and WAV framing.
//
// All PCM handled here is signed 16-bit little-endian.
package audio

import (
	"strings"
	"time"
)

// MIME types of recordings that clients send.
const (
	// MimePCM16 is raw signed 16-bit little-endian PCM. Sample rate and
	// channel count travel out of band (see [Format]).
	MimePCM16 = "audio/pcm"
	MimeWAV   = "audio/wav"
	MimeWebM  = "audio/webm"
	MimeOgg   = "audio/ogg"
	MimeMP4   = "audio/mp4"
)

// SpeechFormat is the format speech recognisers work best with.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether f describes a usable PCM stream.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && (f.Channels == 1 || f.Channels == 2)
}

// BytesPerSecond returns the PCM16 data rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the playing time of n bytes of PCM16 in format f.
// Returns 0 for an invalid format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// IsPCM16 reports whether mime denotes raw PCM16 that the server can meter
// itself. Parameters such as ";rate=16000" are ignored.
func IsPCM16(mime string) bool {
	base, _, _ := strings.Cut(mime, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	return base == MimePCM16 || base == "audio/l16"
}

// FileExtension returns a file extension (with dot) suitable for mime,
// used when uploading recordings to a transcription service.
func FileExtension(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.ToLower(strings.TrimSpace(base)) {
	case MimeWAV, "audio/x-wav", "audio/wave":
		return ".wav"
	case MimeWebM:
		return ".webm"
	case MimeOgg:
		return ".ogg"
	case MimeMP4, "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case MimePCM16, "audio/l16":
		return ".pcm"
	default:
		return ".bin"
	}
}
