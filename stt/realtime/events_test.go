package realtime

import (
	"encoding/json"
	"testing"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		wantType  string
		wantErr   bool
		checkFunc func(t *testing.T, e Event)
	}{
		{
			name: "TranscriptCompleted",
			json: `{
				"type": "conversation.item.input_audio_transcription.completed",
				"event_id": "evt_123",
				"item_id": "item_123",
				"content_index": 0,
				"transcript": "Hello world"
			}`,
			wantType: EventTranscriptionCompleted,
			checkFunc: func(t *testing.T, e Event) {
				te, ok := e.(TranscriptEvent)
				if !ok {
					t.Fatalf("got %T, want TranscriptEvent", e)
				}
				if te.Transcript != "Hello world" {
					t.Errorf("Transcript = %q, want %q", te.Transcript, "Hello world")
				}
				if te.ItemID != "item_123" {
					t.Errorf("ItemID = %q, want %q", te.ItemID, "item_123")
				}
			},
		},
		{
			name: "TranscriptionDelta",
			json: `{
				"type": "conversation.item.input_audio_transcription.delta",
				"event_id": "evt_124",
				"item_id": "item_123",
				"content_index": 0,
				"delta": "Hel"
			}`,
			wantType: EventTranscriptionDelta,
			checkFunc: func(t *testing.T, e Event) {
				de, ok := e.(TranscriptDeltaEvent)
				if !ok {
					t.Fatalf("got %T, want TranscriptDeltaEvent", e)
				}
				if de.Delta != "Hel" {
					t.Errorf("Delta = %q, want %q", de.Delta, "Hel")
				}
			},
		},
		{
			name: "TranscriptionFailed",
			json: `{
				"type": "conversation.item.input_audio_transcription.failed",
				"event_id": "evt_125",
				"item_id": "item_9",
				"content_index": 0,
				"error": {"type": "transcription_error", "code": "audio_unintelligible", "message": "could not decode"}
			}`,
			wantType: EventTranscriptionFailed,
			checkFunc: func(t *testing.T, e Event) {
				fe, ok := e.(TranscriptFailedEvent)
				if !ok {
					t.Fatalf("got %T, want TranscriptFailedEvent", e)
				}
				if fe.Error.Message != "could not decode" {
					t.Errorf("Error.Message = %q, want %q", fe.Error.Message, "could not decode")
				}
			},
		},
		{
			name: "Committed",
			json: `{
				"type": "input_audio_buffer.committed",
				"event_id": "evt_126",
				"previous_item_id": "item_1",
				"item_id": "item_2"
			}`,
			wantType: EventBufferCommitted,
			checkFunc: func(t *testing.T, e Event) {
				ce, ok := e.(CommittedEvent)
				if !ok {
					t.Fatalf("got %T, want CommittedEvent", e)
				}
				if ce.ItemID != "item_2" {
					t.Errorf("ItemID = %q, want %q", ce.ItemID, "item_2")
				}
			},
		},
		{
			name:     "SpeechStarted",
			json:     `{"type": "input_audio_buffer.speech_started", "audio_start_ms": 1200, "item_id": "item_3"}`,
			wantType: EventSpeechStarted,
			checkFunc: func(t *testing.T, e Event) {
				se, ok := e.(SpeechStartedEvent)
				if !ok {
					t.Fatalf("got %T, want SpeechStartedEvent", e)
				}
				if se.AudioStartMs != 1200 {
					t.Errorf("AudioStartMs = %d, want 1200", se.AudioStartMs)
				}
			},
		},
		{
			name:     "SessionUpdated",
			json:     `{"type": "session.updated", "session": {"id": "sess_1", "model": "gpt-4o-mini-realtime-preview"}}`,
			wantType: EventSessionUpdated,
		},
		{
			name: "Error",
			json: `{
				"type": "error",
				"event_id": "evt_err",
				"error": {
					"type": "invalid_request_error",
					"code": "input_audio_buffer_commit_empty",
					"message": "buffer too small"
				}
			}`,
			wantType: EventError,
			checkFunc: func(t *testing.T, e Event) {
				ee, ok := e.(ErrorEvent)
				if !ok {
					t.Fatalf("got %T, want ErrorEvent", e)
				}
				if ee.Error.Code != "input_audio_buffer_commit_empty" {
					t.Errorf("Error.Code = %q, want %q", ee.Error.Code, "input_audio_buffer_commit_empty")
				}
			},
		},
		{
			name: "UnknownType",
			json: `{
				"type": "rate_limits.updated",
				"event_id": "evt_u"
			}`,
			wantType: "rate_limits.updated",
			checkFunc: func(t *testing.T, e Event) {
				if _, ok := e.(UnknownEvent); !ok {
					t.Fatalf("got %T, want UnknownEvent", e)
				}
			},
		},
		{
			name:    "Malformed",
			json:    `{"type": "error", "error": `,
			wantErr: true,
		},
		{
			name:    "WrongFieldType",
			json:    `{"type": "conversation.item.input_audio_transcription.delta", "delta": 42}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := ParseEvent([]byte(tt.json))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if e.eventType() != tt.wantType {
				t.Errorf("eventType() = %q, want %q", e.eventType(), tt.wantType)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, e)
			}
		})
	}
}

func TestSessionUpdate_CreateResponseAlwaysSent(t *testing.T) {
	data, err := json.Marshal(SessionUpdate{
		Type: MessageSessionUpdate,
		Session: SessionConfig{
			TurnDetection: &TurnDetection{Type: VADTypeServerVAD},
		},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got struct {
		Session struct {
			TurnDetection map[string]any `json:"turn_detection"`
		} `json:"session"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v, ok := got.Session.TurnDetection["create_response"]; !ok || v != false {
		t.Errorf("create_response = %v (present %v), want false", v, ok)
	}
}
