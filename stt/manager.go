package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.aimuz.me/speechtide/audiocapture"
	"go.aimuz.me/speechtide/internal/types"
	"go.aimuz.me/speechtide/stt/realtime"
)

// DefaultRequestTimeout bounds one batch transcription request.
const DefaultRequestTimeout = 30 * time.Second

// ManagerConfig holds configuration for a Manager.
type ManagerConfig struct {
	Language       string
	RequestTimeout time.Duration
	Realtime       realtime.Config
}

// Manager runs at most one transcription exchange at a time, either a
// batch request or a streaming session.
type Manager struct {
	provider Provider
	cfg      ManagerConfig

	mu      sync.Mutex
	batch   bool
	session *realtime.Session
}

// NewManager creates a manager around a batch provider and the streaming
// session configuration.
func NewManager(p Provider, cfg ManagerConfig) *Manager {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Realtime.Language == "" {
		cfg.Realtime.Language = cfg.Language
	}
	return &Manager{provider: p, cfg: cfg}
}

// Ready reports whether a credential is configured for mode.
func (m *Manager) Ready(mode types.TranscriptionMode) bool {
	if mode == types.TranscribeStreaming {
		return m.cfg.Realtime.APIKey != ""
	}
	return m.provider.IsReady()
}

// TranscribeBatch sends a WAV recording and blocks until the transcript
// arrives, the request timeout expires or ctx is cancelled. It does not
// retry.
func (m *Manager) TranscribeBatch(ctx context.Context, wav []byte) (string, error) {
	m.mu.Lock()
	if m.batch || m.session != nil {
		m.mu.Unlock()
		return "", ErrBusy
	}
	m.batch = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.batch = false
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	text, err := m.provider.Transcribe(ctx, wav, m.cfg.Language)
	if err != nil {
		if errors.Is(err, types.ErrTimeout) {
			return "", fmt.Errorf("%w after %v", ErrTimeout, m.cfg.RequestTimeout)
		}
		return "", err
	}

	slog.Info("batch transcription complete",
		"provider", m.provider.Name(),
		"bytes", len(wav),
		"chars", len(text),
		"elapsed", time.Since(start))
	return text, nil
}

// StartStreamingSession begins a streaming exchange and returns without
// waiting for the connection. Audio fed meanwhile is buffered. Connection
// failures are reported through onError, like every later session error.
func (m *Manager) StartStreamingSession(ctx context.Context, onTranscript func(types.TranscriptEvent), onError func(error)) error {
	m.mu.Lock()
	if m.batch || m.session != nil {
		m.mu.Unlock()
		return ErrBusy
	}
	s := realtime.NewSession(m.cfg.Realtime, realtime.Handlers{
		OnTranscript: onTranscript,
		OnError:      onError,
	})
	m.session = s
	m.mu.Unlock()

	go func() {
		if err := s.Open(ctx); err != nil {
			if errors.Is(err, realtime.ErrClosed) {
				return
			}
			slog.Error("open realtime session", "error", err)
			if onError != nil {
				onError(err)
			}
		}
	}()
	return nil
}

// FeedAudio forwards one captured chunk to the streaming session as mono
// pcm16. It is a no-op without an active session.
func (m *Manager) FeedAudio(c audiocapture.Chunk) {
	s := m.current()
	if s == nil {
		return
	}
	s.Feed(audiocapture.ToPCM16Mono(c.Data, c.Format), c.Format.SampleRate)
}

// Drain commits buffered audio and waits for outstanding final
// transcripts, bounded by ctx.
func (m *Manager) Drain(ctx context.Context) error {
	s := m.current()
	if s == nil {
		return nil
	}
	return s.Drain(ctx)
}

// StopStreamingSession closes the streaming session. It is a no-op when
// no session is active.
func (m *Manager) StopStreamingSession() error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Stop()
}

// StreamState returns the protocol state of the streaming session.
func (m *Manager) StreamState() realtime.State {
	s := m.current()
	if s == nil {
		return realtime.StateDisconnected
	}
	return s.State()
}

// Close releases any active streaming session.
func (m *Manager) Close() error {
	return m.StopStreamingSession()
}

func (m *Manager) current() *realtime.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}
