package clipboard

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClipboard struct {
	text     string
	writeErr error
	pasteErr error
	pastes   int
	notes    []string
}

func newTestDelivery(fc *fakeClipboard, autoPaste bool) *Delivery {
	d := New(Options{
		AutoPaste:  autoPaste,
		PasteDelay: time.Millisecond,
		Notify:     func(title, msg string) { fc.notes = append(fc.notes, title) },
	})
	d.write = func(s string) error {
		if fc.writeErr != nil {
			return fc.writeErr
		}
		fc.text = s
		return nil
	}
	d.paste = func() error {
		fc.pastes++
		return fc.pasteErr
	}
	return d
}

func TestDeliver(t *testing.T) {
	tests := []struct {
		name       string
		autoPaste  bool
		pasteErr   error
		wantPastes int
		wantNotes  int
	}{
		{"copy only", false, nil, 0, 1},
		{"auto paste", true, nil, 1, 0},
		{"auto paste fails", true, errors.New("no uinput"), 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeClipboard{pasteErr: tt.pasteErr}
			d := newTestDelivery(fc, tt.autoPaste)

			if err := d.Deliver(context.Background(), "hello world"); err != nil {
				t.Fatalf("Deliver() error = %v", err)
			}
			if fc.text != "hello world" {
				t.Errorf("clipboard = %q, want %q", fc.text, "hello world")
			}
			if fc.pastes != tt.wantPastes {
				t.Errorf("pastes = %d, want %d", fc.pastes, tt.wantPastes)
			}
			if len(fc.notes) != tt.wantNotes {
				t.Errorf("notifications = %d, want %d", len(fc.notes), tt.wantNotes)
			}
		})
	}
}

func TestDeliver_WriteError(t *testing.T) {
	fc := &fakeClipboard{writeErr: errors.New("no clipboard utility")}
	d := newTestDelivery(fc, true)

	err := d.Deliver(context.Background(), "hello")
	if err == nil {
		t.Fatal("Deliver() error = nil, want error")
	}
	if fc.pastes != 0 {
		t.Errorf("pastes = %d after failed copy, want 0", fc.pastes)
	}
}

func TestDeliver_EmptyText(t *testing.T) {
	fc := &fakeClipboard{}
	d := newTestDelivery(fc, false)

	if err := d.Deliver(context.Background(), "  \n"); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Deliver() error = %v, want ErrEmptyText", err)
	}
	if fc.text != "" {
		t.Errorf("clipboard = %q, want untouched", fc.text)
	}
}

func TestDeliver_CancelledBeforePaste(t *testing.T) {
	fc := &fakeClipboard{}
	d := newTestDelivery(fc, true)
	d.opts.PasteDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Deliver(ctx, "hello"); !errors.Is(err, context.Canceled) {
		t.Errorf("Deliver() error = %v, want context.Canceled", err)
	}
	if fc.pastes != 0 {
		t.Errorf("pastes = %d, want 0", fc.pastes)
	}
}
