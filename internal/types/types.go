// Package types provides shared type definitions for the application.
package types

import "time"

// SessionState is the pipeline state owned by the recording controller.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateRecording    SessionState = "recording"
	StateTranscribing SessionState = "transcribing"
	StateError        SessionState = "error"
)

// InteractionMode controls how the trigger key is interpreted.
type InteractionMode string

const (
	ModeClick InteractionMode = "click" // press toggles
	ModeHold  InteractionMode = "hold"  // release after the hold threshold stops
)

// Valid reports whether m is a known interaction mode.
func (m InteractionMode) Valid() bool {
	return m == ModeClick || m == ModeHold
}

// Signal is the normalized trigger produced by the hotkey state machine.
type Signal int

const (
	SignalActivate Signal = iota + 1
	SignalDeactivate
)

func (s Signal) String() string {
	switch s {
	case SignalActivate:
		return "activate"
	case SignalDeactivate:
		return "deactivate"
	default:
		return "unknown"
	}
}

// TranscriptionMode selects the transcription strategy for a recording.
type TranscriptionMode string

const (
	TranscribeBatch     TranscriptionMode = "batch"
	TranscribeStreaming TranscriptionMode = "streaming"
)

// Valid reports whether m is a known transcription mode.
func (m TranscriptionMode) Valid() bool {
	return m == TranscribeBatch || m == TranscribeStreaming
}

// Status is the coarse state reported to the presentation layer.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusError      Status = "error"
)

// StatusOf maps a session state to the status shown to the user.
func StatusOf(s SessionState) Status {
	switch s {
	case StateRecording:
		return StatusListening
	case StateTranscribing:
		return StatusProcessing
	case StateError:
		return StatusError
	default:
		return StatusIdle
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Transcripts
// ─────────────────────────────────────────────────────────────────────────────

// TranscriptEvent is a partial or final transcription result.
// Streaming sessions emit non-final events before exactly one final event
// per utterance; batch transcription emits a single final event.
type TranscriptEvent struct {
	ItemID    string    `json:"itemId,omitempty"` // Service utterance id (streaming only)
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Timestamp time.Time `json:"timestamp"`
}

// Utterance is what the logging collaborator receives for every
// completed, non-empty transcription.
type Utterance struct {
	Audio     []byte            // Encoded WAV, nil for streaming utterances
	Text      string            // Final transcript
	Duration  time.Duration     // Audio duration
	Mode      TranscriptionMode // Strategy that produced the text
	Timestamp time.Time
}
