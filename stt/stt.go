// Package stt provides speech-to-text providers and the transcription
// session manager.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.aimuz.me/speechtide/internal/types"
	"go.aimuz.me/speechtide/stt/realtime"
)

var (
	// ErrBusy is returned when a transcription exchange is already active.
	ErrBusy = errors.New("stt: transcription already in progress")

	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = fmt.Errorf("stt: %w", types.ErrTimeout)

	// ErrNoCredential is returned when no API key is configured.
	ErrNoCredential = errors.New("stt: api key required")
)

// ServiceError is a transcription request the service or transport
// rejected. StatusCode is zero for transport failures.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return "transcription failed: " + e.Message
	}
	return fmt.Sprintf("transcription failed: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

func (e *ServiceError) Unwrap() error { return types.ErrService }

// IsFatal reports whether a streaming error ends the session.
func IsFatal(err error) bool {
	return realtime.IsFatal(err)
}

// Provider transcribes a complete WAV recording.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// IsReady returns true if the provider has a credential to call with.
	IsReady() bool

	// Transcribe converts a WAV recording to text.
	// language: hint such as "en", empty or "auto" for detection
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}
