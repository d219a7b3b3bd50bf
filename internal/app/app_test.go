package app

import (
	"errors"
	"sync"
	"testing"

	"go.aimuz.me/speechtide/config"
	"go.aimuz.me/speechtide/hotkey"
	"go.aimuz.me/speechtide/internal/types"
	"go.aimuz.me/speechtide/notify"
)

type fakeListener struct {
	mu        sync.Mutex
	startErrs []error
	starts    int
	running   bool
	cfg       hotkey.Config
}

func (l *fakeListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
	if len(l.startErrs) > 0 {
		err := l.startErrs[0]
		l.startErrs = l.startErrs[1:]
		return err
	}
	l.running = true
	return nil
}

func (l *fakeListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
}

func (l *fakeListener) Update(cfg hotkey.Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	return nil
}

func (l *fakeListener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *fakeListener) startCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts
}

// newHotkeyService returns a service whose listener was denied permission at
// startup, leaving the controller in Error.
func newHotkeyService(t *testing.T, l *fakeListener) *Service {
	t.Helper()
	h := newHarness(t, Options{}, nil)
	s := &Service{
		cfg:      config.Default(),
		hotkey:   l,
		ctrl:     h.ctrl,
		notifier: notify.New(false),
	}
	if err := l.Start(); !errors.Is(err, hotkey.ErrPermissionDenied) {
		t.Fatalf("initial Start() error = %v, want ErrPermissionDenied", err)
	}
	s.ctrl.Fail(hotkey.ErrPermissionDenied)
	waitState(t, s.ctrl, types.StateError)
	return s
}

func TestService_EnableHotkey(t *testing.T) {
	l := &fakeListener{startErrs: []error{hotkey.ErrPermissionDenied, hotkey.ErrPermissionDenied}}
	s := newHotkeyService(t, l)

	// Still denied: stays in Error.
	if err := s.EnableHotkey(); !errors.Is(err, hotkey.ErrPermissionDenied) {
		t.Fatalf("EnableHotkey() error = %v, want ErrPermissionDenied", err)
	}
	if st := s.ctrl.State(); st != types.StateError {
		t.Errorf("state = %s, want error", st)
	}

	// Granted: listener runs and the controller recovers.
	if err := s.EnableHotkey(); err != nil {
		t.Fatalf("EnableHotkey: %v", err)
	}
	if !l.Running() {
		t.Error("listener not running after EnableHotkey")
	}
	waitState(t, s.ctrl, types.StateIdle)

	// Already running: no further start.
	if err := s.EnableHotkey(); err != nil {
		t.Fatalf("EnableHotkey while running: %v", err)
	}
	if n := l.startCount(); n != 3 {
		t.Errorf("starts = %d, want 3", n)
	}
}

func TestService_SetHotkeyStartsStoppedListener(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("AppData", dir)

	l := &fakeListener{startErrs: []error{hotkey.ErrPermissionDenied}}
	s := newHotkeyService(t, l)

	cfg := hotkey.Config{Key: "right_alt", Mode: types.ModeHold, HoldThreshold: s.cfg.Hotkey.HoldThreshold}
	if err := s.SetHotkey(cfg); err != nil {
		t.Fatalf("SetHotkey: %v", err)
	}
	if !l.Running() {
		t.Error("listener not running after SetHotkey")
	}
	if l.cfg != cfg {
		t.Errorf("listener config = %+v, want %+v", l.cfg, cfg)
	}
	if s.cfg.Hotkey.Mode != types.ModeHold {
		t.Errorf("saved mode = %q, want %q", s.cfg.Hotkey.Mode, types.ModeHold)
	}
	waitState(t, s.ctrl, types.StateIdle)
}

func TestService_EnableHotkeyWithoutListener(t *testing.T) {
	s := &Service{}
	if err := s.EnableHotkey(); !errors.Is(err, errHotkeyUnavailable) {
		t.Errorf("EnableHotkey() error = %v, want errHotkeyUnavailable", err)
	}
}
