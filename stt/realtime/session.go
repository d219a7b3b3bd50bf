// Package realtime implements streaming transcription over the OpenAI
// Realtime WebSocket API.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"go.aimuz.me/speechtide/internal/types"
)

const (
	// DefaultURL is the Realtime API endpoint.
	DefaultURL = "wss://api.openai.com/v1/realtime"
	// DefaultModel is the realtime session model.
	DefaultModel = "gpt-4o-mini-realtime-preview"
	// DefaultTranscriptionModel transcribes the input audio.
	DefaultTranscriptionModel = "whisper-1"
	// DefaultConnectTimeout bounds dialing and the handshake.
	DefaultConnectTimeout = 10 * time.Second

	outboundQueueSize = 512
	writeTimeout      = 5 * time.Second
	stopTimeout       = 2 * time.Second
	drainPollInterval = 20 * time.Millisecond
)

// State is the protocol state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConfigured
	StateStreaming
	StateClosing
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConfigured:   "configured",
	StateStreaming:    "streaming",
	StateClosing:      "closing",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// VADConfig holds server-side voice activity detection parameters.
type VADConfig struct {
	Threshold       float64
	PrefixPadding   time.Duration
	SilenceDuration time.Duration
}

// DefaultVAD returns threshold 0.5, 300ms pre-roll and 500ms trailing silence.
func DefaultVAD() VADConfig {
	return VADConfig{
		Threshold:       0.5,
		PrefixPadding:   300 * time.Millisecond,
		SilenceDuration: 500 * time.Millisecond,
	}
}

// Config holds configuration for a streaming session.
type Config struct {
	URL                string // Optional, defaults to DefaultURL
	APIKey             string
	Model              string
	TranscriptionModel string
	Language           string // Empty or "auto" lets the service detect
	VAD                VADConfig
	ConnectTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = DefaultTranscriptionModel
	}
	if c.VAD == (VADConfig{}) {
		c.VAD = DefaultVAD()
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// Handlers receive session output. They run on the session's own
// goroutines, never on the caller's, and must not block.
type Handlers struct {
	OnTranscript func(types.TranscriptEvent)
	OnError      func(error)
}

type outbound struct {
	data  []byte
	audio bool
}

type item struct {
	text string
	done bool
}

// Session is one streaming transcription exchange. A session is single
// use: once stopped or failed it cannot be reopened.
type Session struct {
	cfg      Config
	handlers Handlers
	state    atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	out    chan outbound

	mu             sync.Mutex
	conn           *websocket.Conn
	pending        []outbound // Queued before the session is configured
	started        bool
	closed         bool
	dirty          bool // Audio appended since the last commit
	speaking       bool
	awaitingCommit bool
	items          map[string]*item
	open           int // Committed items without a final transcript
}

// NewSession creates a disconnected session.
func NewSession(cfg Config, h Handlers) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:      cfg.withDefaults(),
		handlers: h,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		out:      make(chan outbound, outboundQueueSize),
		items:    make(map[string]*item),
	}
}

// State returns the current protocol state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Open connects, sends the session configuration and flushes audio fed
// while connecting. It blocks until the session is configured.
func (s *Session) Open(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("realtime: open in state %v", s.State())
	}

	conn, err := s.dial(ctx)
	if err == nil {
		if err = s.configure(conn); err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		return s.abortOpen(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.started = true
	flushed := len(s.pending)
	for _, msg := range s.pending {
		s.out <- msg
	}
	s.pending = nil
	s.state.Store(int32(StateConfigured))
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.readLoop(conn) })
	g.Go(func() error { return s.writeLoop(gctx, conn) })
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	go func() { s.finish(g.Wait()) }()

	slog.Info("realtime session configured",
		"model", s.cfg.Model,
		"transcription_model", s.cfg.TranscriptionModel,
		"flushed", flushed)
	return nil
}

func (s *Session) abortOpen(err error) error {
	s.mu.Lock()
	stopped := s.closed
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.state.Store(int32(StateDisconnected))
	s.cancel()
	if stopped {
		return ErrClosed
	}
	return err
}

func (s *Session) endpoint() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", ErrConnect, err)
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", s.cfg.Model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := s.endpoint()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.ConnectTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err == nil {
		return conn, nil
	}
	if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &HandshakeError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return nil, fmt.Errorf("%w after %v", ErrConnectTimeout, s.cfg.ConnectTimeout)
	}
	return nil, fmt.Errorf("%w: %v", ErrConnect, err)
}

// configure sends session.update. It is the first message on the wire.
func (s *Session) configure(conn *websocket.Conn) error {
	transcription := &InputAudioTranscription{Model: s.cfg.TranscriptionModel}
	if s.cfg.Language != "" && s.cfg.Language != "auto" {
		transcription.Language = s.cfg.Language
	}

	msg := SessionUpdate{
		Type: MessageSessionUpdate,
		Session: SessionConfig{
			Modalities:              []string{"text"},
			InputAudioFormat:        "pcm16",
			InputAudioTranscription: transcription,
			TurnDetection: &TurnDetection{
				Type:              VADTypeServerVAD,
				Threshold:         s.cfg.VAD.Threshold,
				PrefixPaddingMs:   int(s.cfg.VAD.PrefixPadding.Milliseconds()),
				SilenceDurationMs: int(s.cfg.VAD.SilenceDuration.Milliseconds()),
			},
		},
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: send session.update: %v", ErrConnect, err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return nil
}

// Feed queues mono pcm16 audio captured at rate. Audio fed before the
// session is configured is held and flushed in order once it is.
func (s *Session) Feed(pcm []int16, rate int) {
	if len(pcm) == 0 {
		return
	}
	data, err := json.Marshal(AudioAppend{
		Type:  MessageAudioAppend,
		Audio: encodePCM16(Resample(pcm, rate, SampleRate)),
	})
	if err != nil {
		slog.Warn("encode audio append", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	msg := outbound{data: data, audio: true}
	if !s.started {
		if len(s.pending) >= outboundQueueSize {
			slog.Warn("realtime pre-connect buffer full, dropping oldest audio")
			s.pending = s.pending[1:]
		}
		s.pending = append(s.pending, msg)
		s.dirty = true
		return
	}
	select {
	case s.out <- msg:
		s.dirty = true
	default:
		slog.Warn("realtime send queue full, dropping audio")
	}
}

// Drain commits any uncommitted audio and waits until every committed item
// has its final transcript, or ctx is done.
func (s *Session) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	committed := false
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		if s.started && !committed {
			committed = true
			if s.dirty || s.speaking {
				s.commitLocked()
			}
		}
		idle := committed && !s.speaking && !s.awaitingCommit && s.open == 0
		s.mu.Unlock()

		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain realtime session: %w", ctx.Err())
		case <-s.done:
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Session) commitLocked() {
	data, _ := json.Marshal(AudioCommit{Type: MessageAudioCommit})
	select {
	case s.out <- outbound{data: data}:
		s.awaitingCommit = true
		slog.Debug("realtime input buffer commit sent")
	default:
		slog.Warn("realtime send queue full, dropping commit")
	}
}

// Stop closes the session. It is safe to call more than once and in any
// state; callbacks are not invoked after Stop begins.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	conn, started := s.conn, s.started
	s.state.Store(int32(StateClosing))
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	if started {
		select {
		case <-s.done:
		case <-time.After(stopTimeout):
			slog.Warn("realtime session loops did not exit in time")
		}
	}

	s.state.Store(int32(StateDisconnected))
	slog.Info("realtime session stopped")
	return nil
}

// Done is closed when the session's loops have exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// finish runs once both loops have exited. A loop error that was not
// caused by Stop is reported as fatal.
func (s *Session) finish(err error) {
	defer close(s.done)

	s.mu.Lock()
	stopping := s.closed
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	if stopping {
		return
	}
	s.state.Store(int32(StateDisconnected))
	if err != nil {
		slog.Error("realtime session failed", "error", err)
		if s.handlers.OnError != nil {
			s.handlers.OnError(err)
		}
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─────────────────────────────────────────────────────────────────────────────
// Loops
// ─────────────────────────────────────────────────────────────────────────────

func (s *Session) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				if s.isClosed() {
					return nil
				}
				return fmt.Errorf("%w: write: %v", ErrConnectionLost, err)
			}
			if msg.audio && s.state.CompareAndSwap(int32(StateConfigured), int32(StateStreaming)) {
				slog.Debug("realtime session streaming")
			}
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}

		ev, err := ParseEvent(data)
		if err != nil {
			return &ProtocolError{Message: "malformed server event", Cause: err}
		}
		if err := s.handle(ev); err != nil {
			return err
		}
	}
}

// handle applies one server event. A returned error ends the session.
func (s *Session) handle(ev Event) error {
	switch e := ev.(type) {
	case SessionEvent:
		slog.Debug("realtime session event", "type", e.Type, "session", e.Session.ID)

	case SpeechStartedEvent:
		s.mu.Lock()
		s.speaking = true
		s.mu.Unlock()
		slog.Debug("speech started", "item", e.ItemID, "audio_start_ms", e.AudioStartMs)

	case SpeechStoppedEvent:
		slog.Debug("speech stopped", "item", e.ItemID, "audio_end_ms", e.AudioEndMs)

	case CommittedEvent:
		s.mu.Lock()
		s.speaking = false
		s.awaitingCommit = false
		s.dirty = false
		s.trackLocked(e.ItemID)
		s.mu.Unlock()

	case TranscriptDeltaEvent:
		it := s.track(e.ItemID)
		if it.done {
			slog.Debug("dropping late transcript delta", "item", e.ItemID)
			return nil
		}
		it.text += e.Delta
		s.emitTranscript(types.TranscriptEvent{
			ItemID:    e.ItemID,
			Text:      strings.TrimSpace(it.text),
			Timestamp: time.Now(),
		})

	case TranscriptEvent:
		it := s.track(e.ItemID)
		if it.done {
			slog.Debug("dropping duplicate final transcript", "item", e.ItemID)
			return nil
		}
		s.emitTranscript(types.TranscriptEvent{
			ItemID:    e.ItemID,
			Text:      strings.TrimSpace(e.Transcript),
			IsFinal:   true,
			Timestamp: time.Now(),
		})
		s.complete(it)

	case TranscriptFailedEvent:
		s.emitError(&TranscriptionFailedError{ItemID: e.ItemID, Message: e.Error.Message})
		if it := s.track(e.ItemID); !it.done {
			s.complete(it)
		}

	case ErrorEvent:
		pe := &ProtocolError{Type: e.Error.Type, Code: e.Error.Code, Message: e.Error.Message}
		if pe.Fatal() {
			return pe
		}
		s.mu.Lock()
		s.awaitingCommit = false
		s.dirty = false
		s.mu.Unlock()
		slog.Warn("realtime error ignored", "code", pe.Code, "message", pe.Message)

	case UnknownEvent:
		slog.Debug("unhandled realtime event", "type", e.Type)
	}
	return nil
}

func (s *Session) track(id string) *item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackLocked(id)
}

func (s *Session) trackLocked(id string) *item {
	it, ok := s.items[id]
	if !ok {
		it = &item{}
		s.items[id] = it
		s.open++
	}
	return it
}

func (s *Session) complete(it *item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it.done = true
	s.open--
}

func (s *Session) emitTranscript(ev types.TranscriptEvent) {
	if s.isClosed() || s.handlers.OnTranscript == nil {
		return
	}
	s.handlers.OnTranscript(ev)
}

func (s *Session) emitError(err error) {
	if s.isClosed() || s.handlers.OnError == nil {
		return
	}
	s.handlers.OnError(err)
}
