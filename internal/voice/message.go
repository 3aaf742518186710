package voice

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType names a client-to-server message.
type MessageType string

const (
	MsgStart            MessageType = "start"
	MsgAudio            MessageType = "audio"
	MsgLevel            MessageType = "level"
	MsgStop             MessageType = "stop"
	MsgPlaybackComplete MessageType = "playback-complete"
	MsgCancel           MessageType = "cancel"
	MsgContinuous       MessageType = "continuous"
	MsgText             MessageType = "text"
	MsgTTS              MessageType = "tts"
)

func (t MessageType) valid() bool {
	switch t {
	case MsgStart, MsgAudio, MsgLevel, MsgStop, MsgPlaybackComplete, MsgCancel, MsgContinuous, MsgText, MsgTTS:
		return true
	}
	return false
}

// Message is one client input. Text frames decode with [DecodeMessage];
// binary frames become [AudioMessage].
type Message struct {
	Type MessageType `json:"type"`

	// start
	Continuous *bool  `json:"continuous,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`

	// level
	Level      float64 `json:"level,omitempty"`
	DurationMs int     `json:"duration_ms,omitempty"`

	// continuous
	Enabled *bool `json:"enabled,omitempty"`

	// text, tts
	Text string `json:"text,omitempty"`

	Audio []byte `json:"-"`
}

// AudioMessage wraps one binary audio chunk. The slice is not copied.
func AudioMessage(chunk []byte) Message {
	return Message{Type: MsgAudio, Audio: chunk}
}

// Duration returns the span a level message covers.
func (m Message) Duration() time.Duration {
	return time.Duration(m.DurationMs) * time.Millisecond
}

// DecodeMessage parses a JSON text frame.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("voice: decode message: %w", err)
	}
	if !m.Type.valid() || m.Type == MsgAudio {
		return Message{}, fmt.Errorf("voice: unknown message type %q", m.Type)
	}
	return m, nil
}
