package voice

// State is the position of a [Session] in the listen, transcribe, think,
// speak cycle.
type State int

const (
	StateIdle State = iota
	StateListening
	StateTranscribing
	StateAwaitingModel
	StateSpeaking
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateAwaitingModel:
		return "awaiting-model"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
