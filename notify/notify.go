// Package notify shows desktop notifications.
package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// AppName prefixes every notification title.
const AppName = "SpeechTide"

// Notifier sends desktop notifications when enabled. Failures are logged
// and otherwise ignored.
type Notifier struct {
	enabled bool
	send    func(title, message, icon string) error
}

// New creates a notifier. A disabled notifier only logs.
func New(enabled bool) *Notifier {
	return &Notifier{enabled: enabled, send: beeep.Notify}
}

// Notify shows a notification titled "SpeechTide - title".
func (n *Notifier) Notify(title, message string) {
	slog.Info("notification", "title", title, "message", message, "shown", n.enabled)
	if !n.enabled {
		return
	}
	if err := n.send(AppName+" - "+title, message, ""); err != nil {
		slog.Warn("show notification", "error", err)
	}
}
