// Package audiocapture provides microphone capture for dictation.
package audiocapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/speechtide/internal/types"
)

var (
	// ErrDeviceUnavailable is returned when no input stream can be opened.
	ErrDeviceUnavailable = fmt.Errorf("audiocapture: %w", types.ErrDeviceUnavailable)

	// ErrNotInitialized is returned when the audio library has not been
	// initialized with Init.
	ErrNotInitialized = errors.New("audiocapture: not initialized")

	// ErrBusy is returned by Start while a microphone test holds the device.
	ErrBusy = fmt.Errorf("%w: microphone test in progress", ErrDeviceUnavailable)
)

// DefaultFramesPerBuffer is the number of frames delivered per chunk.
const DefaultFramesPerBuffer = 1024

const readRetryDelay = 10 * time.Millisecond

// Config holds configuration for audio capture.
type Config struct {
	Format          Format
	FramesPerBuffer int    // Frames per hardware buffer, default 1024
	Device          string // Input device name, empty for the system default
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{
		Format:          DefaultFormat(),
		FramesPerBuffer: DefaultFramesPerBuffer,
	}
}

// Chunk is one hardware buffer of interleaved little-endian PCM.
// Chunks are immutable once delivered.
type Chunk struct {
	Data      []byte
	Format    Format
	Frames    int
	Seq       uint64 // Monotonic within a recording, starting at 1
	Timestamp time.Time
}

// Recording is the encoded result of one capture.
type Recording struct {
	WAV      []byte // nil when nothing was captured
	Format   Format
	Frames   int
	Chunks   int
	Duration time.Duration
}

// Empty reports whether the recording holds no audio.
func (r *Recording) Empty() bool {
	return r == nil || r.Frames == 0
}

// Device describes an audio input device.
type Device struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Channels   int     `json:"channels"`
	SampleRate float64 `json:"sampleRate"`
	Default    bool    `json:"default"`
}

// inputStream is an open hardware stream delivering one buffer per Read.
type inputStream interface {
	Start() error
	Read() ([]byte, error) // Blocks until a buffer is available
	Stop() error
	Close() error
}

// backend is the platform audio library.
type backend interface {
	init() error
	terminate() error
	open(cfg Config) (inputStream, error)
	devices() ([]Device, error)
}

// Engine owns the microphone stream. Only one recording is active at a time.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	backend backend

	// Lifecycle
	initialized bool
	recording   bool
	testing     bool
	stream      inputStream
	stop        chan struct{}
	done        chan struct{}

	// Recording buffer, written only by the read loop while recording.
	chunks [][]byte
	frames int
	seq    uint64

	// Observers
	onVolume atomic.Pointer[func(float64)]
	onChunk  atomic.Pointer[func(Chunk)]
}

// New creates a capture engine backed by PortAudio.
func New(cfg Config) *Engine {
	return newEngine(cfg, portAudio{})
}

func newEngine(cfg Config, b backend) *Engine {
	if cfg.Format == (Format{}) {
		cfg.Format = DefaultFormat()
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultFramesPerBuffer
	}
	return &Engine{cfg: cfg, backend: b}
}

// Init initializes the process-wide audio library.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}
	if err := e.backend.init(); err != nil {
		return fmt.Errorf("%w: init audio: %v", ErrDeviceUnavailable, err)
	}
	e.initialized = true
	return nil
}

// Shutdown stops any recording and releases the audio library.
func (e *Engine) Shutdown() error {
	if _, err := e.Stop(); err != nil {
		slog.Warn("stop capture on shutdown", "error", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}
	e.initialized = false
	return e.backend.terminate()
}

// Format returns the configured capture format.
func (e *Engine) Format() Format {
	return e.cfg.Format
}

// OnVolume registers the volume observer. It is called synchronously from
// the capture goroutine once per chunk and must not block.
func (e *Engine) OnVolume(fn func(level float64)) {
	e.onVolume.Store(&fn)
}

// OnChunk registers the chunk observer, called synchronously from the
// capture goroutine in capture order. It must not block.
func (e *Engine) OnChunk(fn func(Chunk)) {
	e.onChunk.Store(&fn)
}

// IsRecording returns true while a recording is active.
func (e *Engine) IsRecording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recording
}

// Start opens the input stream and begins a new recording. A redundant call
// while recording is ignored with a warning.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.recording {
		slog.Warn("audio capture already running")
		return nil
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	if e.testing {
		return ErrBusy
	}
	if err := e.cfg.Format.Validate(); err != nil {
		return fmt.Errorf("capture format: %w", err)
	}

	stream, err := e.backend.open(e.cfg)
	if err != nil {
		return fmt.Errorf("%w: open input stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: start input stream: %v", ErrDeviceUnavailable, err)
	}

	e.stream = stream
	e.chunks = nil
	e.frames = 0
	e.seq = 0
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.recording = true

	go e.readLoop(stream, e.stop, e.done)

	slog.Info("audio capture started",
		"sample_rate", e.cfg.Format.SampleRate,
		"channels", e.cfg.Format.Channels,
		"format", e.cfg.Format.Sample,
		"device", e.cfg.Device)
	return nil
}

// Stop ends the recording, releases the stream and returns the captured
// audio as a WAV container. Calling Stop when not recording returns an empty
// recording and no error.
func (e *Engine) Stop() (*Recording, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.recording {
		return &Recording{Format: e.cfg.Format}, nil
	}

	close(e.stop)
	<-e.done
	e.recording = false

	var errs []error
	if err := e.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop input stream: %w", err))
	}
	if err := e.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close input stream: %w", err))
	}
	e.stream = nil
	if err := errors.Join(errs...); err != nil {
		slog.Warn("release input stream", "error", err)
	}

	chunks := e.chunks
	e.chunks = nil
	rec := &Recording{
		Format: e.cfg.Format,
		Frames: e.frames,
		Chunks: len(chunks),
	}

	if len(chunks) == 0 {
		slog.Warn("no audio captured")
		return rec, nil
	}

	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	pcm := make([]byte, 0, size)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}

	wav, err := EncodeWAV(pcm, e.cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("encode recording: %w", err)
	}
	rec.WAV = wav
	rec.Duration = time.Duration(rec.Frames) * time.Second / time.Duration(e.cfg.Format.SampleRate)

	slog.Info("audio capture stopped", "chunks", rec.Chunks, "duration", rec.Duration, "bytes", len(wav))
	return rec, nil
}

func (e *Engine) readLoop(stream inputStream, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var readErrors int
	for {
		select {
		case <-stop:
			return
		default:
		}

		data, err := stream.Read()
		if err != nil {
			readErrors++
			if readErrors == 1 || readErrors%100 == 0 {
				slog.Warn("read input stream", "error", err, "count", readErrors)
			}
			time.Sleep(readRetryDelay)
			continue
		}
		if len(data) == 0 {
			continue
		}
		e.handleChunk(data)
	}
}

// handleChunk appends one buffer to the recording and notifies observers.
func (e *Engine) handleChunk(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	e.seq++
	chunk := Chunk{
		Data:      buf,
		Format:    e.cfg.Format,
		Frames:    e.cfg.Format.Frames(len(buf)),
		Seq:       e.seq,
		Timestamp: time.Now(),
	}
	e.chunks = append(e.chunks, buf)
	e.frames += chunk.Frames

	if fn := e.onVolume.Load(); fn != nil && *fn != nil {
		(*fn)(Volume(buf, e.cfg.Format.Sample))
	}
	if fn := e.onChunk.Load(); fn != nil && *fn != nil {
		(*fn)(chunk)
	}

	if e.seq%100 == 0 {
		slog.Debug("captured audio chunks", "count", e.seq)
	}
}

// Devices lists the available input devices. The query is best effort.
func (e *Engine) Devices() ([]Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, ErrNotInitialized
	}
	return e.backend.devices()
}

// TestMicrophone records for d without touching the active recording and
// returns the peak chunk volume. It fails if a recording is in progress, and
// Start fails with ErrBusy until it returns.
func (e *Engine) TestMicrophone(ctx context.Context, d time.Duration) (float64, error) {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return 0, ErrNotInitialized
	}
	if e.recording {
		e.mu.Unlock()
		return 0, errors.New("audiocapture: recording in progress")
	}
	if e.testing {
		e.mu.Unlock()
		return 0, ErrBusy
	}
	e.testing = true
	cfg := e.cfg
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.testing = false
		e.mu.Unlock()
	}()

	stream, err := e.backend.open(cfg)
	if err != nil {
		return 0, fmt.Errorf("%w: open input stream: %v", ErrDeviceUnavailable, err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return 0, fmt.Errorf("%w: start input stream: %v", ErrDeviceUnavailable, err)
	}
	defer stream.Stop()

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var peak float64
	var chunks, readErrors int
	for ctx.Err() == nil {
		data, err := stream.Read()
		if err != nil {
			readErrors++
			select {
			case <-ctx.Done():
			case <-time.After(readRetryDelay):
			}
			continue
		}
		chunks++
		peak = max(peak, Volume(data, cfg.Format.Sample))
	}
	if chunks == 0 {
		return 0, fmt.Errorf("%w: no audio received (%d read errors)", ErrDeviceUnavailable, readErrors)
	}
	slog.Info("microphone test", "chunks", chunks, "read_errors", readErrors, "peak", peak)
	return peak, nil
}
