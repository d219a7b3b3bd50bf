package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/speechtide/audiocapture"
	"go.aimuz.me/speechtide/internal/types"
	"go.aimuz.me/speechtide/stt"
)

// Defaults for Options.
const (
	DefaultMaxDuration  = 60 * time.Second
	DefaultDrainTimeout = 3 * time.Second
)

const (
	// deliveryQueueSize bounds utterances waiting for delivery.
	deliveryQueueSize = 16

	// deliveryTimeout bounds one clipboard delivery, including the paste delay.
	deliveryTimeout = 5 * time.Second
)

// ─────────────────────────────────────────────────────────────────────────────
// Collaborators
// ─────────────────────────────────────────────────────────────────────────────

// AudioSource captures microphone audio.
type AudioSource interface {
	Start() error
	Stop() (*audiocapture.Recording, error)
	OnVolume(fn func(level float64))
	OnChunk(fn func(audiocapture.Chunk))
}

// Transcriber turns recordings or live audio into text.
type Transcriber interface {
	Ready(mode types.TranscriptionMode) bool
	TranscribeBatch(ctx context.Context, wav []byte) (string, error)
	StartStreamingSession(ctx context.Context, onTranscript func(types.TranscriptEvent), onError func(error)) error
	FeedAudio(c audiocapture.Chunk)
	Drain(ctx context.Context) error
	StopStreamingSession() error
}

// TextDelivery hands a final transcript to the user.
type TextDelivery interface {
	Deliver(ctx context.Context, text string) error
}

// UtteranceLogger records completed utterances.
type UtteranceLogger interface {
	Log(u types.Utterance) error
}

// Notifier shows user-visible messages.
type Notifier interface {
	Notify(title, message string)
}

// Observer is the presentation layer. Calls arrive from controller
// goroutines and must not block.
type Observer interface {
	StateChanged(s types.Status)
	Volume(level float64)
	Transcript(ev types.TranscriptEvent)
}

// Deps are the controller collaborators. Logger and Observer are optional.
type Deps struct {
	Audio       AudioSource
	Transcriber Transcriber
	Delivery    TextDelivery
	Logger      UtteranceLogger
	Notifier    Notifier
	Observer    Observer
}

// Options tune the controller.
type Options struct {
	Mode         types.TranscriptionMode
	MaxDuration  time.Duration // Recording is stopped automatically after this
	DrainTimeout time.Duration // Bound on waiting for streaming finals at stop
}

// ─────────────────────────────────────────────────────────────────────────────
// Controller
// ─────────────────────────────────────────────────────────────────────────────

// Controller owns the session state. All transitions happen on the Run
// goroutine; other goroutines only post events.
type Controller struct {
	deps Deps
	opts Options

	events     chan event
	deliveries chan types.Utterance
	done       chan struct{}
	state      atomic.Value // types.SessionState
	feeding    atomic.Bool

	// Owned by the Run goroutine.
	ctx        context.Context
	cur        types.SessionState
	gen        uint64
	started    time.Time
	maxTimer   *time.Timer
	cancelWork context.CancelFunc
	streaming  bool
}

// NewController creates a controller. Call Run to start processing.
func NewController(deps Deps, opts Options) *Controller {
	if opts.Mode == "" {
		opts.Mode = types.TranscribeBatch
	}
	if opts.MaxDuration == 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	c := &Controller{
		deps:       deps,
		opts:       opts,
		events:     make(chan event, eventQueueSize),
		deliveries: make(chan types.Utterance, deliveryQueueSize),
		done:       make(chan struct{}),
		cur:        types.StateIdle,
	}
	c.state.Store(types.StateIdle)

	deps.Audio.OnVolume(deps.Observer.Volume)
	deps.Audio.OnChunk(func(ch audiocapture.Chunk) {
		if c.feeding.Load() {
			deps.Transcriber.FeedAudio(ch)
		}
	})
	return c
}

// State returns the current session state.
func (c *Controller) State() types.SessionState {
	return c.state.Load().(types.SessionState)
}

// Mode returns the transcription mode used for new recordings.
func (c *Controller) Mode() types.TranscriptionMode {
	return c.opts.Mode
}

// Trigger hands a hotkey signal to the controller without blocking.
func (c *Controller) Trigger(sig types.Signal) {
	c.offer(signalEvent{sig: sig})
}

// RequestStart starts a recording unless one is already in progress.
func (c *Controller) RequestStart() { c.offer(startRequest{}) }

// RequestStop stops the current recording.
func (c *Controller) RequestStop() { c.offer(stopRequest{}) }

// Cancel aborts the current recording or transcription. Results of the
// aborted work are discarded.
func (c *Controller) Cancel() { c.offer(cancelRequest{}) }

// Recover clears the Error state once the user has fixed its cause.
func (c *Controller) Recover() { c.offer(recoverRequest{}) }

// Fail reports a fatal subsystem error. The controller moves to Error
// until the user activates again.
func (c *Controller) Fail(err error) { c.post(failEvent{err: err}) }

// offer enqueues ev or drops it when the inbox is full.
func (c *Controller) offer(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	default:
		slog.Warn("controller busy, dropping event", "event", ev.eventName())
	}
}

// post enqueues ev, waiting for room until the controller stops.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run processes events until ctx is cancelled. It must be called once.
func (c *Controller) Run(ctx context.Context) {
	c.ctx = ctx

	var wg sync.WaitGroup
	wg.Go(func() { c.deliverLoop(ctx) })

	slog.Info("controller started", "mode", c.opts.Mode)
	defer func() {
		c.shutdown()
		close(c.done)
		close(c.deliveries)
		wg.Wait()
		slog.Info("controller stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev event) {
	switch e := ev.(type) {
	case signalEvent:
		c.onSignal(e.sig)
	case startRequest:
		c.onStartRequest()
	case stopRequest:
		if c.cur == types.StateRecording {
			c.stopRecording()
		}
	case cancelRequest:
		c.cancel()
	case recoverRequest:
		if c.cur == types.StateError {
			c.setState(types.StateIdle)
		}
	case failEvent:
		c.fail(e.err)
	case batchResult:
		c.onBatchResult(e)
	case streamTranscript:
		c.onStreamTranscript(e)
	case streamError:
		c.onStreamError(e)
	case drainDone:
		c.onDrainDone(e)
	case maxDurationReached:
		if e.gen == c.gen && c.cur == types.StateRecording {
			slog.Info("maximum recording duration reached", "limit", c.opts.MaxDuration)
			c.stopRecording()
		}
	}
}

func (c *Controller) setState(s types.SessionState) {
	if c.cur == s {
		return
	}
	slog.Info("state changed", "from", c.cur, "to", s)
	c.cur = s
	c.state.Store(s)
	c.deps.Observer.StateChanged(types.StatusOf(s))
}

// ─────────────────────────────────────────────────────────────────────────────
// Transitions
// ─────────────────────────────────────────────────────────────────────────────

func (c *Controller) onSignal(sig types.Signal) {
	switch sig {
	case types.SignalActivate:
		switch c.cur {
		case types.StateIdle, types.StateError:
			c.startRecording()
		case types.StateRecording:
			c.stopRecording()
		default:
			slog.Warn("activation ignored while transcribing")
		}
	case types.SignalDeactivate:
		if c.cur == types.StateRecording {
			c.stopRecording()
		}
	}
}

func (c *Controller) onStartRequest() {
	switch c.cur {
	case types.StateIdle, types.StateError:
		c.startRecording()
	default:
		slog.Warn("start ignored", "state", c.cur)
	}
}

func (c *Controller) startRecording() {
	mode := c.opts.Mode
	if !c.deps.Transcriber.Ready(mode) {
		slog.Warn("recording rejected, no api key configured", "mode", mode)
		c.notify("API Key Required", "Set an OpenAI API key in the configuration file.")
		return
	}

	c.gen++
	gen := c.gen

	// Open the session first; it buffers audio until connected.
	if mode == types.TranscribeStreaming {
		err := c.deps.Transcriber.StartStreamingSession(c.ctx,
			func(ev types.TranscriptEvent) { c.post(streamTranscript{gen: gen, ev: ev}) },
			func(err error) { c.post(streamError{gen: gen, err: err}) },
		)
		if err != nil {
			slog.Error("start streaming session", "error", err)
			c.setState(types.StateIdle)
			c.notifyError(err)
			return
		}
		c.streaming = true
		c.feeding.Store(true)
	}

	if err := c.startCapture(); err != nil {
		slog.Error("start capture", "error", err)
		if c.streaming {
			c.endStreaming()
		}
		c.setState(types.StateError)
		c.notifyError(err)
		return
	}

	c.started = time.Now()
	if c.opts.MaxDuration > 0 {
		c.maxTimer = time.AfterFunc(c.opts.MaxDuration, func() {
			c.post(maxDurationReached{gen: gen})
		})
	}
	c.setState(types.StateRecording)
}

// startCapture opens the microphone, retrying once when the device is
// unavailable.
func (c *Controller) startCapture() error {
	err := c.deps.Audio.Start()
	if err == nil || types.Classify(err) != types.KindDeviceUnavailable {
		return err
	}
	slog.Warn("audio device unavailable, retrying once", "error", err)
	return c.deps.Audio.Start()
}

func (c *Controller) stopRecording() {
	c.stopTimer()
	c.feeding.Store(false)

	rec, err := c.deps.Audio.Stop()
	if err != nil {
		slog.Error("stop capture", "error", err)
	}

	if c.streaming {
		c.setState(types.StateTranscribing)
		c.drain()
		return
	}

	if err != nil {
		c.setState(types.StateIdle)
		c.notifyError(err)
		return
	}
	if rec.Empty() {
		c.setState(types.StateIdle)
		c.notify("No Audio", "No audio was captured. Check the microphone.")
		return
	}

	c.setState(types.StateTranscribing)
	c.transcribe(rec)
}

func (c *Controller) transcribe(rec *audiocapture.Recording) {
	gen := c.gen
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelWork = cancel

	slog.Info("transcribing recording", "duration", rec.Duration, "bytes", len(rec.WAV))
	go func() {
		defer cancel()
		text, err := c.deps.Transcriber.TranscribeBatch(ctx, rec.WAV)
		c.post(batchResult{gen: gen, rec: rec, text: text, err: err})
	}()
}

func (c *Controller) drain() {
	gen := c.gen
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.DrainTimeout)
	c.cancelWork = cancel

	go func() {
		defer cancel()
		err := c.deps.Transcriber.Drain(ctx)
		c.post(drainDone{gen: gen, err: err})
	}()
}

func (c *Controller) onBatchResult(r batchResult) {
	if r.gen != c.gen || c.cur != types.StateTranscribing {
		slog.Debug("discarding stale transcription result", "gen", r.gen)
		return
	}
	c.cancelWork = nil
	c.setState(types.StateIdle)

	switch {
	case errors.Is(r.err, context.Canceled):
		slog.Info("transcription cancelled")
	case r.err != nil:
		slog.Error("transcribe", "error", r.err)
		c.notifyError(r.err)
	case strings.TrimSpace(r.text) == "":
		slog.Info("no speech detected", "duration", r.rec.Duration)
		c.notify("No Speech", "No speech was detected in the recording.")
	default:
		ev := types.TranscriptEvent{Text: r.text, IsFinal: true, Timestamp: time.Now()}
		c.deps.Observer.Transcript(ev)
		c.enqueue(types.Utterance{
			Audio:     r.rec.WAV,
			Text:      r.text,
			Duration:  r.rec.Duration,
			Mode:      types.TranscribeBatch,
			Timestamp: ev.Timestamp,
		})
	}
}

func (c *Controller) onStreamTranscript(t streamTranscript) {
	if t.gen != c.gen || !c.streaming {
		return
	}
	c.deps.Observer.Transcript(t.ev)
	if !t.ev.IsFinal || strings.TrimSpace(t.ev.Text) == "" {
		return
	}
	c.enqueue(types.Utterance{
		Text:      t.ev.Text,
		Duration:  time.Since(c.started),
		Mode:      types.TranscribeStreaming,
		Timestamp: t.ev.Timestamp,
	})
}

func (c *Controller) onStreamError(e streamError) {
	if e.gen != c.gen || !c.streaming {
		return
	}
	if !stt.IsFatal(e.err) {
		slog.Warn("streaming transcription error", "error", e.err)
		c.notifyError(e.err)
		return
	}

	slog.Error("streaming session failed", "error", e.err)
	c.endStreaming()
	c.setState(types.StateIdle)
	c.notifyError(e.err)
}

func (c *Controller) onDrainDone(d drainDone) {
	if d.gen != c.gen || !c.streaming {
		return
	}
	if d.err != nil {
		slog.Warn("drain streaming session", "error", d.err)
	}
	c.cancelWork = nil
	c.endStreaming()
	c.setState(types.StateIdle)
}

// endStreaming closes the streaming session and any capture still running.
// Events from the closed session are dropped.
func (c *Controller) endStreaming() {
	c.gen++
	c.stopTimer()
	c.feeding.Store(false)
	if c.cancelWork != nil {
		c.cancelWork()
		c.cancelWork = nil
	}
	if c.cur == types.StateRecording {
		c.stopCapture()
	}
	if err := c.deps.Transcriber.StopStreamingSession(); err != nil {
		slog.Warn("stop streaming session", "error", err)
	}
	c.streaming = false
}

func (c *Controller) cancel() {
	switch c.cur {
	case types.StateRecording, types.StateTranscribing:
	default:
		return
	}
	slog.Info("cancelling", "state", c.cur)

	if c.streaming {
		c.endStreaming()
	} else {
		c.gen++
		c.stopTimer()
		if c.cancelWork != nil {
			c.cancelWork()
			c.cancelWork = nil
		}
		if c.cur == types.StateRecording {
			c.stopCapture()
		}
	}
	c.setState(types.StateIdle)
}

func (c *Controller) fail(err error) {
	slog.Error("subsystem failure", "error", err)
	if c.streaming {
		c.endStreaming()
	} else {
		c.gen++
		c.stopTimer()
		if c.cancelWork != nil {
			c.cancelWork()
			c.cancelWork = nil
		}
		if c.cur == types.StateRecording {
			c.stopCapture()
		}
	}
	c.setState(types.StateError)
	c.notifyError(err)
}

func (c *Controller) shutdown() {
	if c.cur == types.StateRecording || c.cur == types.StateTranscribing {
		c.cancel()
	}
}

func (c *Controller) stopCapture() {
	if _, err := c.deps.Audio.Stop(); err != nil {
		slog.Warn("stop capture", "error", err)
	}
}

func (c *Controller) stopTimer() {
	if c.maxTimer != nil {
		c.maxTimer.Stop()
		c.maxTimer = nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Delivery
// ─────────────────────────────────────────────────────────────────────────────

func (c *Controller) enqueue(u types.Utterance) {
	select {
	case c.deliveries <- u:
	default:
		slog.Error("delivery queue full, dropping transcript", "chars", len(u.Text))
		c.notify("Transcript Not Delivered", u.Text)
	}
}

// deliverLoop delivers and logs utterances in order. Each delivery gets its
// own deadline so transcripts queued at shutdown still reach the clipboard.
func (c *Controller) deliverLoop(ctx context.Context) {
	for u := range c.deliveries {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
		err := c.deps.Delivery.Deliver(dctx, u.Text)
		cancel()
		if err != nil {
			slog.Error("deliver text", "error", err)
			c.notify("Copy Failed", u.Text)
		}
		if c.deps.Logger == nil {
			continue
		}
		if err := c.deps.Logger.Log(u); err != nil {
			slog.Error("log utterance", "error", err)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Notifications
// ─────────────────────────────────────────────────────────────────────────────

func (c *Controller) notify(title, msg string) {
	if c.deps.Notifier != nil {
		c.deps.Notifier.Notify(title, msg)
	}
}

func (c *Controller) notifyError(err error) {
	title, msg := describe(err)
	c.notify(title, msg)
}

// describe maps a failure to a notification title and message.
func describe(err error) (title, msg string) {
	switch types.Classify(err) {
	case types.KindPermissionDenied:
		return "Permission Required", "Grant Accessibility and Microphone access in System Settings, then try again."
	case types.KindDeviceUnavailable:
		return "Microphone Unavailable", "Check that an input device is connected, then try again."
	case types.KindTimeout:
		return "Timed Out", "The transcription service did not respond in time. Try again."
	case types.KindProtocol:
		return "Streaming Error", fmt.Sprintf("The streaming session was closed: %v", err)
	case types.KindService:
		return "Transcription Failed", err.Error()
	default:
		return "Error", err.Error()
	}
}

type nopObserver struct{}

func (nopObserver) StateChanged(types.Status)        {}
func (nopObserver) Volume(float64)                   {}
func (nopObserver) Transcript(types.TranscriptEvent) {}
