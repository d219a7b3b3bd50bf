package realtime

import (
	"errors"
	"fmt"
	"net/http"

	"go.aimuz.me/speechtide/internal/types"
)

var (
	// ErrConnectTimeout is returned when the connection is not established
	// within the connect timeout.
	ErrConnectTimeout = fmt.Errorf("realtime: connect: %w", types.ErrTimeout)

	// ErrConnect is returned when the connection could not be established.
	ErrConnect = fmt.Errorf("realtime: connect: %w", types.ErrService)

	// ErrConnectionLost is reported when the service drops an open session.
	ErrConnectionLost = fmt.Errorf("realtime: connection lost: %w", types.ErrService)

	// ErrClosed is returned by Open when the session was stopped first.
	ErrClosed = errors.New("realtime: session closed")
)

// nonFatalCodes lists error codes that leave the session usable.
// An empty commit is expected when a stop races server-side VAD.
var nonFatalCodes = map[string]bool{
	"input_audio_buffer_commit_empty": true,
}

// ProtocolError is an error event from the service or an unreadable
// server message.
type ProtocolError struct {
	Type    string
	Code    string
	Message string
	Cause   error // Decoding failure, nil for service error events
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("realtime protocol error: %s: %v", e.Message, e.Cause)
	}
	if e.Code != "" {
		return fmt.Sprintf("realtime protocol error %s: %s", e.Code, e.Message)
	}
	return "realtime protocol error: " + e.Message
}

func (e *ProtocolError) Unwrap() error { return types.ErrProtocol }

// Fatal reports whether the session must be torn down.
func (e *ProtocolError) Fatal() bool {
	return !nonFatalCodes[e.Code]
}

// TranscriptionFailedError reports a single item the service could not
// transcribe. The session stays open.
type TranscriptionFailedError struct {
	ItemID  string
	Message string
}

func (e *TranscriptionFailedError) Error() string {
	return fmt.Sprintf("transcription failed for %s: %s", e.ItemID, e.Message)
}

func (e *TranscriptionFailedError) Unwrap() error { return types.ErrService }

// HandshakeError is returned when the service rejects the upgrade request.
type HandshakeError struct {
	StatusCode int
	Body       string
}

func (e *HandshakeError) Error() string {
	msg := fmt.Sprintf("realtime handshake rejected: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *HandshakeError) Unwrap() error { return types.ErrService }

// IsFatal reports whether a session error ends the session. Per-item
// transcription failures and benign protocol codes do not.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var tf *TranscriptionFailedError
	if errors.As(err, &tf) {
		return false
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Fatal()
	}
	return true
}
