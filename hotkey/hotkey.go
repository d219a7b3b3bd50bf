// Package hotkey provides system-wide trigger key handling.
package hotkey

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	hook "github.com/robotn/gohook"

	"go.aimuz.me/speechtide/internal/types"
)

var (
	// ErrPermissionDenied is returned by Start when the process may not
	// observe global key events.
	ErrPermissionDenied = fmt.Errorf("hotkey: %w", types.ErrPermissionDenied)

	// ErrRunning is returned by Start when the listener is already running.
	ErrRunning = errors.New("hotkey: listener already running")
)

const stopTimeout = time.Second

// Config holds the trigger key settings.
type Config struct {
	Key           string                // Key name, see AvailableKeys
	Mode          types.InteractionMode // click or hold
	HoldThreshold time.Duration
}

// eventSource abstracts the global hook so the listener can be tested.
type eventSource interface {
	Start() <-chan hook.Event
	End()
}

type gohookSource struct{}

func (gohookSource) Start() <-chan hook.Event { return hook.Start() }
func (gohookSource) End()                     { hook.End() }

// Listener consumes global key events on its own goroutine and hands the
// classified signals to a dispatch function. Dispatch must not block.
type Listener struct {
	mu         sync.Mutex
	classifier *Classifier
	dispatch   func(types.Signal)
	onStatus   func(granted bool)

	source     eventSource
	permission func(prompt bool) bool

	running bool
	done    chan struct{}
}

// NewListener creates a listener for cfg. It does not start listening.
func NewListener(cfg Config, dispatch func(types.Signal)) (*Listener, error) {
	if dispatch == nil {
		return nil, errors.New("hotkey: nil dispatch")
	}
	code, err := ParseKey(cfg.Key)
	if err != nil {
		return nil, err
	}
	return &Listener{
		classifier: NewClassifier(code, cfg.Mode, cfg.HoldThreshold),
		dispatch:   dispatch,
		source:     gohookSource{},
		permission: IsAccessibilityEnabled,
	}, nil
}

// SetStatusCallback registers a callback reporting the permission state
// observed by Start.
func (l *Listener) SetStatusCallback(fn func(granted bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStatus = fn
}

// Start begins listening. It fails fast with ErrPermissionDenied when the
// accessibility permission is missing; the system prompt is shown once.
// Start may be called again after the permission has been granted.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrRunning
	}

	granted := l.permission(true)
	if l.onStatus != nil {
		l.onStatus(granted)
	}
	if !granted {
		return ErrPermissionDenied
	}

	events := l.source.Start()
	l.running = true
	l.done = make(chan struct{})
	go l.loop(events, l.done)

	slog.Info("hotkey listener started", "mode", l.classifier.Mode())
	return nil
}

// Running reports whether the listener is consuming key events.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Stop ends listening. It is safe to call when not running.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	done := l.done
	l.mu.Unlock()

	l.source.End()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("hotkey listener did not exit in time")
	}
	slog.Info("hotkey listener stopped")
}

// Update applies a new trigger configuration without restarting.
func (l *Listener) Update(cfg Config) error {
	code, err := ParseKey(cfg.Key)
	if err != nil {
		return err
	}
	l.classifier.Reconfigure(code, cfg.Mode, cfg.HoldThreshold)
	slog.Info("hotkey updated", "key", cfg.Key, "mode", cfg.Mode, "threshold", cfg.HoldThreshold)
	return nil
}

// CheckPermission reports whether global key events can be observed,
// without prompting.
func (l *Listener) CheckPermission() bool {
	return l.permission(false)
}

func (l *Listener) loop(events <-chan hook.Event, done chan struct{}) {
	defer close(done)

	for ev := range events {
		var pressed bool
		switch ev.Kind {
		case hook.KeyHold:
			pressed = true
		case hook.KeyUp:
			pressed = false
		default:
			continue
		}

		at := ev.When
		if at.IsZero() {
			at = time.Now()
		}
		sig, ok := l.classifier.Handle(Event{Code: ev.Keycode, Pressed: pressed, Time: at})
		if !ok {
			continue
		}
		slog.Debug("hotkey signal", "signal", sig, "keycode", ev.Keycode)
		l.dispatch(sig)
	}
}
