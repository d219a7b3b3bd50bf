package history

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.aimuz.me/speechtide/internal/types"
)

func detectEnglish(text string) (string, string) { return "en", "English" }

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", Options{Detect: detectEnglish})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func logText(t *testing.T, s *Store, text string) {
	t.Helper()
	err := s.Log(types.Utterance{
		Audio:    []byte("RIFF"),
		Text:     text,
		Duration: 1500 * time.Millisecond,
		Mode:     types.TranscribeBatch,
	})
	if err != nil {
		t.Fatalf("Log(%q) error = %v", text, err)
	}
}

func TestStore_LogStartsSession(t *testing.T) {
	s := openMemory(t)
	logText(t, s, "hello world")

	sess, err := s.Session(1)
	if err != nil {
		t.Fatalf("Session(1) error = %v", err)
	}
	if len(sess.Interactions) != 1 {
		t.Fatalf("interactions = %d, want 1", len(sess.Interactions))
	}

	in := sess.Interactions[0]
	if in.WordCount != 2 {
		t.Errorf("WordCount = %d, want 2", in.WordCount)
	}
	if in.Transcription != "hello world" {
		t.Errorf("Transcription = %q, want %q", in.Transcription, "hello world")
	}
	if in.Mode != types.TranscribeBatch {
		t.Errorf("Mode = %q, want %q", in.Mode, types.TranscribeBatch)
	}
	if in.Language != "en" {
		t.Errorf("Language = %q, want %q", in.Language, "en")
	}
	if in.AudioLength != 4 {
		t.Errorf("AudioLength = %d, want 4", in.AudioLength)
	}
	if in.ID == "" {
		t.Error("interaction ID is empty")
	}
	if in.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
	if in.AudioFile != "" {
		t.Errorf("AudioFile = %q, want none for in-memory store", in.AudioFile)
	}
	if sess.Title != "hello world" {
		t.Errorf("Title = %q, want %q", sess.Title, "hello world")
	}
	if sess.TotalDuration != 1500*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 1.5s", sess.TotalDuration)
	}
}

func TestStore_Totals(t *testing.T) {
	s := openMemory(t)
	logText(t, s, "first note")
	logText(t, s, "second note with more words")

	sess, err := s.Session(1)
	if err != nil {
		t.Fatalf("Session(1) error = %v", err)
	}
	if sess.WordCount != 7 {
		t.Errorf("WordCount = %d, want 7", sess.WordCount)
	}
	if sess.TotalDuration != 3*time.Second {
		t.Errorf("TotalDuration = %v, want 3s", sess.TotalDuration)
	}
	// The title comes from the first transcription only.
	if sess.Title != "first note" {
		t.Errorf("Title = %q, want %q", sess.Title, "first note")
	}
}

func TestTitleFrom(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"short", "hello world", "hello world"},
		{"six words", "one two three four five six seven eight", "one two three four five six"},
		{"whitespace", "  spaced \n out  ", "spaced out"},
		{"empty", "   ", ""},
		{
			"long words",
			"internationalization considerations notwithstanding, extraordinarily",
			"internationalization considerations notwithstan...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := titleFrom(tt.text)
			if got != tt.want {
				t.Errorf("titleFrom(%q) = %q, want %q", tt.text, got, tt.want)
			}
			if n := len([]rune(got)); n > titleMaxLen {
				t.Errorf("title length = %d, want <= %d", n, titleMaxLen)
			}
		})
	}
}

func TestStore_History(t *testing.T) {
	s := openMemory(t)

	for _, text := range []string{"alpha", "beta", "gamma"} {
		if _, err := s.StartSession(types.TranscribeStreaming); err != nil {
			t.Fatalf("StartSession() error = %v", err)
		}
		logText(t, s, text)
	}
	if _, err := s.EndSession(); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}

	got, err := s.History(2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("History(2) = %d sessions, want 2", len(got))
	}
	if got[0].Number != 3 || got[1].Number != 2 {
		t.Errorf("History order = [%d %d], want [3 2]", got[0].Number, got[1].Number)
	}
	if got[0].Title != "gamma" {
		t.Errorf("Title = %q, want %q", got[0].Title, "gamma")
	}
	if got[0].EndTime == nil {
		t.Error("ended session has no EndTime")
	}
	if got[1].EndTime == nil {
		t.Error("session ended by StartSession has no EndTime")
	}
	if got[0].InteractionCount != 1 {
		t.Errorf("InteractionCount = %d, want 1", got[0].InteractionCount)
	}
}

func TestStore_Search(t *testing.T) {
	s := openMemory(t)
	logText(t, s, "Remember to buy MILK tomorrow")
	logText(t, s, "call the plumber")
	logText(t, s, "milk and eggs")

	tests := []struct {
		name  string
		query string
		limit int
		want  int
	}{
		{"case insensitive", "milk", 0, 2},
		{"limit", "milk", 1, 1},
		{"no match", "bread", 0, 0},
		{"blank", "  ", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(tt.query, tt.limit)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Search(%q) = %d matches, want %d", tt.query, len(got), tt.want)
			}
		})
	}

	got, _ := s.Search("milk", 1)
	if got[0].Context != "remember to buy milk tomorrow" {
		t.Errorf("Context = %q, want lowercased transcription", got[0].Context)
	}
	if got[0].SessionNumber != 1 {
		t.Errorf("SessionNumber = %d, want 1", got[0].SessionNumber)
	}
}

func TestMatchAround(t *testing.T) {
	text := strings.Repeat("a", 60) + "needle" + strings.Repeat("b", 60)
	got := matchAround(text, "needle", 5)
	if want := "...aaaaaneedlebbbbb..."; got != want {
		t.Errorf("matchAround() = %q, want %q", got, want)
	}
}

func TestStore_DeleteSession(t *testing.T) {
	s := openMemory(t)
	logText(t, s, "to be removed")

	if err := s.DeleteSession(1); err != nil {
		t.Fatalf("DeleteSession(1) error = %v", err)
	}
	if _, err := s.Session(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Session(1) error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteSession(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteSession(1) error = %v, want ErrNotFound", err)
	}

	// Logging after deleting the current session starts a new one.
	logText(t, s, "fresh start")
	if _, err := s.Session(2); err != nil {
		t.Errorf("Session(2) error = %v", err)
	}
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, Options{SaveAudio: true, Detect: detectEnglish})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	logText(t, s, "saved with audio")
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = Open(dir, Options{Detect: detectEnglish})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	sess, err := s.Session(1)
	if err != nil {
		t.Fatalf("Session(1) error = %v", err)
	}
	rel := sess.Interactions[0].AudioFile
	if rel == "" {
		t.Fatal("AudioFile is empty with SaveAudio enabled")
	}
	data, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		t.Fatalf("read saved audio: %v", err)
	}
	if string(data) != "RIFF" {
		t.Errorf("saved audio = %q, want %q", data, "RIFF")
	}

	// Numbering continues after the last stored session.
	logText(t, s, "next one")
	if _, err := s.Session(2); err != nil {
		t.Errorf("Session(2) error = %v", err)
	}
}

func TestStore_Export(t *testing.T) {
	s := openMemory(t)
	logText(t, s, "hello, world")

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := s.Export(&buf, 1, FormatCSV); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		rows, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("parse csv: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("rows = %d, want 2", len(rows))
		}
		if rows[1][4] != "hello, world" {
			t.Errorf("transcription = %q, want %q", rows[1][4], "hello, world")
		}
		if rows[1][5] != "1.50" {
			t.Errorf("duration = %q, want %q", rows[1][5], "1.50")
		}
	})

	t.Run("txt", func(t *testing.T) {
		var buf bytes.Buffer
		if err := s.Export(&buf, 1, FormatText); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		if !strings.Contains(buf.String(), "   hello, world\n") {
			t.Errorf("text export missing transcription:\n%s", buf.String())
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if err := s.Export(&bytes.Buffer{}, 1, "xml"); err == nil {
			t.Error("Export(xml) error = nil, want error")
		}
	})

	t.Run("missing session", func(t *testing.T) {
		if err := s.Export(&bytes.Buffer{}, 9, FormatJSON); !errors.Is(err, ErrNotFound) {
			t.Errorf("Export() error = %v, want ErrNotFound", err)
		}
	})
}
