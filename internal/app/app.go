// Package app wires the dictation pipeline together and exposes it to the
// tray UI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.aimuz.me/speechtide/audiocapture"
	"go.aimuz.me/speechtide/clipboard"
	"go.aimuz.me/speechtide/config"
	"go.aimuz.me/speechtide/history"
	"go.aimuz.me/speechtide/hotkey"
	"go.aimuz.me/speechtide/internal/types"
	"go.aimuz.me/speechtide/notify"
	"go.aimuz.me/speechtide/stt"
	"go.aimuz.me/speechtide/stt/realtime"
)

// micTestDuration is how long TestMicrophone listens.
const micTestDuration = 2 * time.Second

var errHotkeyUnavailable = errors.New("hotkey listener not configured")

// hotkeyListener is the global trigger key listener.
type hotkeyListener interface {
	Start() error
	Stop()
	Update(cfg hotkey.Config) error
	Running() bool
}

// Service owns the long-lived components. Call Init once, then Shutdown.
type Service struct {
	cfg      *config.Config
	audio    *audiocapture.Engine
	stt      *stt.Manager
	history  *history.Store
	notifier *notify.Notifier
	delivery *clipboard.Delivery
	hotkey   hotkeyListener
	ctrl     *Controller

	cancel context.CancelFunc
	done   chan struct{}

	// Version info (set by caller)
	version string
}

// New creates a new Service.
func New(version string) *Service {
	return &Service{version: version}
}

// GetVersion returns the application version.
func (s *Service) GetVersion() string {
	return s.version
}

// Init builds the pipeline from cfg and starts the controller and the
// hotkey listener. obs receives state, volume and transcript updates.
// A hotkey permission failure is not returned; it moves the controller to
// Error so recording stays available from the tray, and EnableHotkey
// retries once permission has been granted.
func (s *Service) Init(cfg *config.Config, obs Observer) error {
	s.cfg = cfg

	format, err := cfg.CaptureFormat()
	if err != nil {
		return fmt.Errorf("audio format: %w", err)
	}
	s.audio = audiocapture.New(audiocapture.Config{
		Format:          format,
		FramesPerBuffer: cfg.Audio.ChunkSize,
		Device:          cfg.Audio.Device,
	})
	if err := s.audio.Init(); err != nil {
		return fmt.Errorf("init audio: %w", err)
	}

	s.setupSTT()
	s.setupHistory()
	s.notifier = notify.New(cfg.Delivery.Notifications)
	s.delivery = clipboard.New(clipboard.Options{
		AutoPaste: cfg.Delivery.AutoPaste,
		Notify:    s.notifier.Notify,
	})

	deps := Deps{
		Audio:       s.audio,
		Transcriber: s.stt,
		Delivery:    s.delivery,
		Notifier:    s.notifier,
		Observer:    obs,
	}
	if s.history != nil {
		deps.Logger = s.history
	}
	s.ctrl = NewController(deps, Options{
		Mode:         cfg.Behavior.Transcription,
		MaxDuration:  cfg.Behavior.MaxRecordingDuration,
		DrainTimeout: cfg.Behavior.DrainTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.ctrl.Run(ctx)
	}()

	s.setupHotkey()
	return nil
}

func (s *Service) setupSTT() {
	oc := s.cfg.OpenAI
	provider := stt.NewOpenAI(stt.OpenAIConfig{
		APIKey:  oc.Credential(),
		BaseURL: oc.BaseURL,
		Model:   oc.ModelTranscribe,
	})
	s.stt = stt.NewManager(provider, stt.ManagerConfig{
		Language:       oc.Language,
		RequestTimeout: oc.RequestTimeout,
		Realtime: realtime.Config{
			URL:                oc.RealtimeURL,
			APIKey:             oc.Credential(),
			Model:              oc.ModelRealtime,
			TranscriptionModel: oc.ModelStreamingTranscribe,
			Language:           oc.Language,
			VAD: realtime.VADConfig{
				Threshold:       oc.VAD.Threshold,
				PrefixPadding:   oc.VAD.PrefixPadding,
				SilenceDuration: oc.VAD.SilenceDuration,
			},
			ConnectTimeout: oc.ConnectTimeout,
		},
	})
	slog.Info("transcription configured",
		"mode", s.cfg.Behavior.Transcription,
		"provider", provider.Name(),
		"ready", s.stt.Ready(s.cfg.Behavior.Transcription))
}

func (s *Service) setupHistory() {
	if !s.cfg.Logging.EnableConversationLogging {
		return
	}
	dir, err := s.cfg.DataDir()
	if err != nil {
		slog.Error("history dir", "error", err)
		return
	}
	store, err := history.Open(dir, history.Options{SaveAudio: s.cfg.Logging.SaveAudio})
	if err != nil {
		slog.Error("open history", "error", err)
		return
	}
	s.history = store
}

func (s *Service) setupHotkey() {
	l, err := hotkey.NewListener(hotkey.Config{
		Key:           s.cfg.Hotkey.Key,
		Mode:          s.cfg.Hotkey.Mode,
		HoldThreshold: s.cfg.Hotkey.HoldThreshold,
	}, s.ctrl.Trigger)
	if err != nil {
		s.ctrl.Fail(err)
		return
	}
	l.SetStatusCallback(func(granted bool) {
		if granted {
			slog.Info("accessibility permission granted")
		} else {
			slog.Warn("accessibility permission denied")
		}
	})
	s.hotkey = l

	if err := l.Start(); err != nil {
		slog.Error("start hotkey", "error", err)
		s.ctrl.Fail(err)
	}
}

// Shutdown stops the pipeline and releases the audio library and the
// history database.
func (s *Service) Shutdown() {
	if s.hotkey != nil {
		s.hotkey.Stop()
	}
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if s.stt != nil {
		if err := s.stt.Close(); err != nil {
			slog.Error("close stt", "error", err)
		}
	}
	if s.audio != nil {
		if err := s.audio.Shutdown(); err != nil {
			slog.Error("shutdown audio", "error", err)
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			slog.Error("close history", "error", err)
		}
	}
}

// Controller returns the recording controller.
func (s *Service) Controller() *Controller {
	return s.ctrl
}

// ─────────────────────────────────────────────────────────────────────────────
// Settings
// ─────────────────────────────────────────────────────────────────────────────

// SetHotkey changes the trigger key and interaction mode, applies them to
// the listener and saves the configuration. A stopped listener is started.
func (s *Service) SetHotkey(cfg hotkey.Config) error {
	if s.hotkey == nil {
		return errHotkeyUnavailable
	}
	if err := s.hotkey.Update(cfg); err != nil {
		return err
	}
	if err := s.EnableHotkey(); err != nil {
		slog.Warn("hotkey still disabled", "error", err)
	}
	s.cfg.Hotkey.Key = cfg.Key
	s.cfg.Hotkey.Mode = cfg.Mode
	s.cfg.Hotkey.HoldThreshold = cfg.HoldThreshold
	return s.cfg.Save()
}

// EnableHotkey starts the hotkey listener if it is not running, typically
// after the user has granted accessibility permission. On success a
// controller left in Error by the earlier failure returns to Idle.
func (s *Service) EnableHotkey() error {
	if s.hotkey == nil {
		return errHotkeyUnavailable
	}
	if s.hotkey.Running() {
		return nil
	}
	if err := s.hotkey.Start(); err != nil {
		slog.Error("start hotkey", "error", err)
		s.notifier.Notify("Permission Required",
			"Allow SpeechTide in Accessibility settings, then choose Enable Hotkey again.")
		return err
	}
	s.ctrl.Recover()
	s.notifier.Notify("Hotkey Enabled", "Press the trigger key to start recording.")
	return nil
}

// GetAccessibilityPermission returns whether global key events are allowed.
func (s *Service) GetAccessibilityPermission() bool {
	return hotkey.IsAccessibilityEnabled(false)
}

// ─────────────────────────────────────────────────────────────────────────────
// Audio
// ─────────────────────────────────────────────────────────────────────────────

// Devices lists the available input devices.
func (s *Service) Devices() ([]audiocapture.Device, error) {
	return s.audio.Devices()
}

// TestMicrophone records briefly and reports the peak level. It refuses to
// run while the controller is using the microphone.
func (s *Service) TestMicrophone(ctx context.Context) (float64, error) {
	if st := s.ctrl.State(); st != types.StateIdle && st != types.StateError {
		return 0, fmt.Errorf("microphone busy (%s)", st)
	}
	peak, err := s.audio.TestMicrophone(ctx, micTestDuration)
	if err != nil {
		s.notifier.Notify("Microphone Test Failed", err.Error())
		return 0, err
	}
	s.notifier.Notify("Microphone Test", fmt.Sprintf("Peak level %.0f%%", peak*100))
	return peak, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// History
// ─────────────────────────────────────────────────────────────────────────────

// RecentSessions returns up to limit logged sessions, newest first.
func (s *Service) RecentSessions(limit int) ([]history.Summary, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.History(limit)
}

// CopyLastTranscript puts the most recent logged transcript back on the
// clipboard.
func (s *Service) CopyLastTranscript(ctx context.Context) error {
	if s.history == nil {
		return errors.New("conversation logging is disabled")
	}
	recent, err := s.history.History(1)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return errors.New("no transcripts yet")
	}
	sess, err := s.history.Session(recent[0].Number)
	if err != nil {
		return err
	}
	if len(sess.Interactions) == 0 {
		return errors.New("no transcripts yet")
	}
	last := sess.Interactions[len(sess.Interactions)-1]
	return s.delivery.Deliver(ctx, last.Transcription)
}
