package vad

import "time"

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSilence indicates the level is below the active threshold.
	VADSilence VADEventType = iota

	// VADSpeechStart indicates speech has just been detected for the first
	// time in this recording.
	VADSpeechStart

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates the recording should stop. See VADEvent.Reason.
	VADSpeechEnd
)

// String returns a lower-case name for logs.
func (t VADEventType) String() string {
	switch t {
	case VADSilence:
		return "silence"
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// EndReason says why a recording ended.
type EndReason int

const (
	// EndNone is the zero value for events that do not end a recording.
	EndNone EndReason = iota

	// EndSilence means silence followed speech for long enough.
	EndSilence

	// EndMaxDuration means the recording hit its length limit.
	EndMaxDuration
)

// VADEvent is the detection result for one level sample.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Level is the level that produced this event.
	Level float64

	// Reason is set on VADSpeechEnd events.
	Reason EndReason

	// Discard is set on VADSpeechEnd events when the recording contains
	// less speech than the configured minimum.
	Discard bool
}

// Stats summarises a recording.
type Stats struct {
	// Elapsed is the total audio duration accounted for.
	Elapsed time.Duration

	// Speech is the duration classified as speech.
	Speech time.Duration

	// Peak is the loudest level seen.
	Peak float64

	// Detected reports whether speech was ever detected.
	Detected bool

	// Ended reports whether the session has emitted VADSpeechEnd.
	Ended bool
}
