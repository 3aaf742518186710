package voice

import (
	"context"
	"errors"

	"github.com/MrWong99/cafevox/internal/cart"
	"github.com/MrWong99/cafevox/internal/order"
)

// ErrSinkClosed is returned by a [Sink] after its session ended.
var ErrSinkClosed = errors.New("voice: sink closed")

// EventType names a server-to-client event.
type EventType string

const (
	EventStatus                EventType = "status"
	EventAudioReceived         EventType = "audio-received"
	EventTranscriptionComplete EventType = "transcription-complete"
	EventContent               EventType = "content"
	EventFinal                 EventType = "final"
	EventCartUpdated           EventType = "cart-updated"
	EventSpeechReady           EventType = "speech-ready"
	EventError                 EventType = "error"
)

// Event is one message to the client. Data is one of the *Data types below.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Sink delivers events to one client. Send may block on a slow client and
// must honour ctx. Implementations need not be safe for concurrent use; a
// [Session] serialises its calls.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(ctx context.Context, ev Event) error

// Send calls f(ctx, ev).
func (f SinkFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Status values carried by [StatusData].
const (
	StatusListening      = "listening"
	StatusSpeechDetected = "speech-detected"
	StatusTranscribing   = "transcribing"
	StatusThinking       = "thinking"
	StatusSpeaking       = "speaking"
	StatusIdle           = "idle"
	StatusNoSpeech       = "no-speech"
	StatusCancelled      = "cancelled"
)

// Error kinds carried by [ErrorData].
const (
	ErrorKindTransport = "transport"
	ErrorKindCart      = "cart"
	ErrorKindProtocol  = "protocol"
)

// Messages shown to the user.
const (
	msgTryAgain      = "I didn't catch that. Please try again."
	msgNotUnderstood = "Could not understand audio. Please try again."
	msgSTTFailed     = "Speech recognition is unavailable right now. Please try again."
	msgLLMFailed     = "I'm having trouble thinking right now. Please try again."
	msgTTSFailed     = "Speech playback is unavailable right now."
)

type StatusData struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

type AudioReceivedData struct {
	Bytes  int `json:"bytes"`
	Chunks int `json:"chunks"`
}

type TranscriptionData struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ContentData struct {
	Delta string `json:"delta"`
}

// FinalData is the parsed reply of one turn.
type FinalData struct {
	Message string             `json:"message"`
	Actions []order.CartAction `json:"actions"`
	Meta    order.Meta         `json:"meta"`
}

type CartData struct {
	Items []cart.Item `json:"items"`
}

// SpeechData carries synthesized audio, base64-encoded by encoding/json.
type SpeechData struct {
	Audio []byte `json:"audio"`
	Mime  string `json:"mime"`
}

type ErrorData struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}
