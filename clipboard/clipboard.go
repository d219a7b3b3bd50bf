// Package clipboard delivers transcribed text to the user through the
// system clipboard, optionally followed by a synthetic paste keystroke.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
)

// DefaultPasteDelay is the pause between writing the clipboard and
// sending the paste keystroke.
const DefaultPasteDelay = 80 * time.Millisecond

// ErrEmptyText is returned when there is nothing to deliver.
var ErrEmptyText = errors.New("empty text")

// Options configures a Delivery.
type Options struct {
	AutoPaste  bool
	PasteDelay time.Duration
	Notify     func(title, message string)
}

// Delivery copies text to the clipboard.
type Delivery struct {
	opts  Options
	write func(string) error
	paste func() error
}

// New creates a Delivery backed by the system clipboard.
func New(opts Options) *Delivery {
	if opts.PasteDelay <= 0 {
		opts.PasteDelay = DefaultPasteDelay
	}
	return &Delivery{
		opts:  opts,
		write: clipboard.WriteAll,
		paste: sendPaste,
	}
}

// Deliver places text on the clipboard and, with auto-paste enabled,
// pastes it into the focused application. A failed paste leaves the text
// on the clipboard and is not an error.
func (d *Delivery) Deliver(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if err := d.write(text); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	slog.Info("text copied to clipboard", "chars", len(text))

	if !d.opts.AutoPaste {
		d.notify("Text Ready", "Copied to clipboard. Press "+pasteShortcut+" to paste.")
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.opts.PasteDelay):
	}
	if err := d.paste(); err != nil {
		slog.Warn("auto paste", "error", err)
		d.notify("Text Ready", "Auto paste failed. Press "+pasteShortcut+" to paste.")
		return nil
	}
	slog.Info("text pasted")
	return nil
}

func (d *Delivery) notify(title, msg string) {
	if d.opts.Notify != nil {
		d.opts.Notify(title, msg)
	}
}
