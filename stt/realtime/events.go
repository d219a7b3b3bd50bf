package realtime

import "encoding/json"

// Server event types handled by the transcription session.
const (
	EventSessionCreated = "session.created"
	EventSessionUpdated = "session.updated"
	EventError          = "error"

	// VAD events
	EventSpeechStarted   = "input_audio_buffer.speech_started"
	EventSpeechStopped   = "input_audio_buffer.speech_stopped"
	EventBufferCommitted = "input_audio_buffer.committed"

	// Transcription events
	EventTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"
)

// Client message types.
const (
	MessageSessionUpdate = "session.update"
	MessageAudioAppend   = "input_audio_buffer.append"
	MessageAudioCommit   = "input_audio_buffer.commit"
)

// VADType specifies the type of voice activity detection.
type VADType string

const (
	VADTypeServerVAD   VADType = "server_vad"
	VADTypeSemanticVAD VADType = "semantic_vad"
)

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              VADType `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
}

// InputAudioTranscription selects the transcription model for input audio.
type InputAudioTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// SessionConfig is the session body of a session.update message.
type SessionConfig struct {
	Modalities              []string                 `json:"modalities"`
	InputAudioFormat        string                   `json:"input_audio_format"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
}

// SessionUpdate is the client message that configures the session.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// AudioAppend carries base64 pcm16 audio.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// AudioCommit closes the current input buffer as one user item.
type AudioCommit struct {
	Type string `json:"type"`
}

// Event is a discriminated union for server events.
// Check the concrete type via type switch.
type Event interface {
	eventType() string
}

// SessionEvent is emitted when the session is created or updated.
type SessionEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Session struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"session"`
}

func (e SessionEvent) eventType() string { return e.Type }

// SpeechStartedEvent is emitted when VAD detects speech.
type SpeechStartedEvent struct {
	EventID      string `json:"event_id"`
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

func (SpeechStartedEvent) eventType() string { return EventSpeechStarted }

// SpeechStoppedEvent is emitted when VAD detects silence.
type SpeechStoppedEvent struct {
	EventID    string `json:"event_id"`
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

func (SpeechStoppedEvent) eventType() string { return EventSpeechStopped }

// CommittedEvent is emitted when the input buffer becomes a user item,
// either by VAD or by an explicit commit.
type CommittedEvent struct {
	EventID        string `json:"event_id"`
	PreviousItemID string `json:"previous_item_id"`
	ItemID         string `json:"item_id"`
}

func (CommittedEvent) eventType() string { return EventBufferCommitted }

// TranscriptDeltaEvent carries an incremental piece of an item's transcript.
type TranscriptDeltaEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	ContentIdx int    `json:"content_index"`
	Delta      string `json:"delta"`
}

func (TranscriptDeltaEvent) eventType() string { return EventTranscriptionDelta }

// TranscriptEvent is emitted when an item's transcription completes.
type TranscriptEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	ContentIdx int    `json:"content_index"`
	Transcript string `json:"transcript"`
}

func (TranscriptEvent) eventType() string { return EventTranscriptionCompleted }

// APIError is the error body shared by error and failure events.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// TranscriptFailedEvent is emitted when one item could not be transcribed.
type TranscriptFailedEvent struct {
	EventID    string   `json:"event_id"`
	ItemID     string   `json:"item_id"`
	ContentIdx int      `json:"content_index"`
	Error      APIError `json:"error"`
}

func (TranscriptFailedEvent) eventType() string { return EventTranscriptionFailed }

// ErrorEvent is emitted when the service rejects a client message or the
// session itself fails.
type ErrorEvent struct {
	EventID string   `json:"event_id"`
	Error   APIError `json:"error"`
}

func (ErrorEvent) eventType() string { return EventError }

// UnknownEvent holds events we don't recognize.
type UnknownEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Raw     json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// ParseEvent unmarshals JSON into the appropriate Event type.
func ParseEvent(data []byte) (Event, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}

	switch header.Type {
	case EventSessionCreated, EventSessionUpdated:
		return decode[SessionEvent](data)
	case EventSpeechStarted:
		return decode[SpeechStartedEvent](data)
	case EventSpeechStopped:
		return decode[SpeechStoppedEvent](data)
	case EventBufferCommitted:
		return decode[CommittedEvent](data)
	case EventTranscriptionDelta:
		return decode[TranscriptDeltaEvent](data)
	case EventTranscriptionCompleted:
		return decode[TranscriptEvent](data)
	case EventTranscriptionFailed:
		return decode[TranscriptFailedEvent](data)
	case EventError:
		return decode[ErrorEvent](data)
	default:
		return UnknownEvent{Type: header.Type, Raw: data}, nil
	}
}

func decode[T Event](data []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}
