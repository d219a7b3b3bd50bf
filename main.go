package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"unicode/utf8"

	"github.com/wailsapp/wails/v3/pkg/application"

	"go.aimuz.me/speechtide/config"
	"go.aimuz.me/speechtide/hotkey"
	"go.aimuz.me/speechtide/internal/app"
	"go.aimuz.me/speechtide/internal/types"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ─────────────────────────────────────────────────────────────────────────────
// Tray
// ─────────────────────────────────────────────────────────────────────────────

// tray is the status-bar presentation of the controller. Observer calls
// arrive from controller goroutines and are marshalled onto the UI thread.
type tray struct {
	systray *application.SystemTray
	status  *application.MenuItem
	toggle  *application.MenuItem
	cancel  *application.MenuItem
	last    *application.MenuItem

	state atomic.Value // types.Status
	meter atomic.Int32
}

var meterBars = []rune(" ▁▂▃▄▅▆▇█")

func newTray() *tray {
	t := &tray{}
	t.state.Store(types.StatusIdle)
	return t
}

func (t *tray) StateChanged(s types.Status) {
	t.state.Store(s)
	t.meter.Store(0)
	application.InvokeAsync(func() {
		t.systray.SetLabel(trayLabel(s, 0))
		t.status.SetLabel("Status: " + statusText(s))
		if s == types.StatusListening {
			t.toggle.SetLabel("Stop Recording")
		} else {
			t.toggle.SetLabel("Start Recording")
		}
		t.toggle.SetEnabled(s != types.StatusProcessing)
		t.cancel.SetEnabled(s == types.StatusListening || s == types.StatusProcessing)
	})
}

func (t *tray) Volume(level float64) {
	if t.state.Load().(types.Status) != types.StatusListening {
		return
	}
	bar := int32(level * float64(len(meterBars)-1))
	if t.meter.Swap(bar) == bar {
		return
	}
	application.InvokeAsync(func() {
		t.systray.SetLabel(trayLabel(types.StatusListening, int(bar)))
	})
}

func (t *tray) Transcript(ev types.TranscriptEvent) {
	text := ev.Text
	if !ev.IsFinal {
		text += "…"
	}
	application.InvokeAsync(func() {
		t.last.SetLabel("Last: " + ellipsize(text, 40))
	})
}

func trayLabel(s types.Status, bar int) string {
	switch s {
	case types.StatusListening:
		return "● " + string(meterBars[bar])
	case types.StatusProcessing:
		return "◌"
	case types.StatusError:
		return "⚠"
	default:
		return "○"
	}
}

func statusText(s types.Status) string {
	switch s {
	case types.StatusListening:
		return "Listening"
	case types.StatusProcessing:
		return "Processing"
	case types.StatusError:
		return "Error"
	default:
		return "Idle"
	}
}

func ellipsize(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// ─────────────────────────────────────────────────────────────────────────────
// Main Entry
// ─────────────────────────────────────────────────────────────────────────────

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		cfg = config.Default()
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.Info("starting app", "version", version, "commit", commit, "date", date)

	svc := app.New(version)

	wails := application.New(application.Options{
		Name:        "SpeechTide",
		Description: "Voice dictation from the menu bar",
		Mac: application.MacOptions{
			ActivationPolicy: application.ActivationPolicyAccessory,
			// No windows; the tray keeps the app alive
			ApplicationShouldTerminateAfterLastWindowClosed: false,
		},
	})

	t := newTray()
	t.systray = wails.SystemTray.New()
	t.systray.SetLabel(trayLabel(types.StatusIdle, 0))

	menu := wails.NewMenu()
	t.status = menu.Add("Status: Idle").SetEnabled(false)
	t.toggle = menu.Add("Start Recording").OnClick(func(*application.Context) {
		ctrl := svc.Controller()
		if ctrl.State() == types.StateRecording {
			ctrl.RequestStop()
		} else {
			ctrl.RequestStart()
		}
	})
	t.cancel = menu.Add("Cancel").SetEnabled(false).OnClick(func(*application.Context) {
		svc.Controller().Cancel()
	})

	menu.AddSeparator()
	t.last = menu.Add("Last: -").SetEnabled(false)
	menu.Add("Copy Last Transcript").OnClick(func(*application.Context) {
		go func() {
			if err := svc.CopyLastTranscript(context.Background()); err != nil {
				slog.Warn("copy last transcript", "error", err)
			}
		}()
	})

	menu.AddSeparator()
	modes := menu.AddSubmenu("Trigger Mode")
	for _, m := range []types.InteractionMode{types.ModeClick, types.ModeHold} {
		mode := m
		modes.AddRadio(modeLabel(mode), cfg.Hotkey.Mode == mode).OnClick(func(*application.Context) {
			err := svc.SetHotkey(hotkey.Config{
				Key:           cfg.Hotkey.Key,
				Mode:          mode,
				HoldThreshold: cfg.Hotkey.HoldThreshold,
			})
			if err != nil {
				slog.Error("set trigger mode", "error", err)
			}
		})
	}
	menu.Add("Enable Hotkey").OnClick(func(*application.Context) {
		if err := svc.EnableHotkey(); err != nil {
			slog.Warn("enable hotkey", "error", err)
		}
	})
	menu.Add("Test Microphone").OnClick(func(*application.Context) {
		go func() {
			if _, err := svc.TestMicrophone(context.Background()); err != nil {
				slog.Warn("test microphone", "error", err)
			}
		}()
	})
	devices := menu.AddSubmenu("Input Devices")

	var quitOnce sync.Once
	quit := func() {
		quitOnce.Do(func() {
			svc.Shutdown()
			wails.Quit()
		})
	}

	menu.AddSeparator()
	menu.Add("Quit").
		SetAccelerator("CmdOrCtrl+Q").
		OnClick(func(*application.Context) { quit() })

	if err := svc.Init(cfg, t); err != nil {
		slog.Error("init service", "error", err)
		os.Exit(1)
	}

	if list, err := svc.Devices(); err != nil {
		slog.Warn("list input devices", "error", err)
		devices.Add("Unavailable").SetEnabled(false)
	} else {
		for _, d := range list {
			label := fmt.Sprintf("%s (%d ch)", d.Name, d.Channels)
			if d.Default {
				label += " - default"
			}
			devices.Add(label).SetEnabled(false)
		}
	}
	if !cfg.APIKeyConfigured() {
		slog.Warn("no api key configured, set openai.api_key or OPENAI_API_KEY")
	}

	t.systray.SetMenu(menu)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		slog.Info("received signal, shutting down", "signal", sig)
		quit()
	}()

	if err := wails.Run(); err != nil {
		slog.Error("run app", "error", err)
	}
}

func modeLabel(m types.InteractionMode) string {
	if m == types.ModeHold {
		return "Hold to Record"
	}
	return "Click to Toggle"
}
