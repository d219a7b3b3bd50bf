package notify

import (
	"errors"
	"testing"
)

func TestNotify(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		sendErr error
		want    int
	}{
		{"enabled", true, nil, 1},
		{"disabled", false, nil, 0},
		{"send error ignored", true, errors.New("no dbus"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var titles []string
			n := New(tt.enabled)
			n.send = func(title, msg, icon string) error {
				titles = append(titles, title)
				return tt.sendErr
			}

			n.Notify("Text Ready", "hello")

			if len(titles) != tt.want {
				t.Fatalf("sent %d notifications, want %d", len(titles), tt.want)
			}
			if tt.want > 0 && titles[0] != "SpeechTide - Text Ready" {
				t.Errorf("title = %q, want %q", titles[0], "SpeechTide - Text Ready")
			}
		})
	}
}
