// Package history keeps a local log of dictation sessions in badger.
//
// Every completed transcription is stored as an interaction inside a
// numbered session. Sessions are kept as JSON values under
// "session/<number>" keys, so a reverse key scan yields the most recent
// session first.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"go.aimuz.me/speechtide/internal/types"
	"go.aimuz.me/speechtide/langdetect"
)

// ErrNotFound is returned when a session number does not exist.
var ErrNotFound = errors.New("session not found")

const (
	sessionPrefix = "session/"

	titleWords  = 6
	titleMaxLen = 50

	matchContext = 50
)

// Options configures a Store.
type Options struct {
	// SaveAudio stores the WAV of batch interactions next to the database.
	SaveAudio bool
	// Detect tags each transcription with a language. Defaults to
	// langdetect.Detect.
	Detect func(text string) (code, name string)
}

// Interaction is a single logged transcription.
type Interaction struct {
	ID            string                  `json:"interaction_id"`
	Timestamp     time.Time               `json:"timestamp"`
	Mode          types.TranscriptionMode `json:"mode"`
	Transcription string                  `json:"transcription"`
	Duration      time.Duration           `json:"duration"`
	AudioLength   int                     `json:"audio_length"`
	WordCount     int                     `json:"word_count"`
	Language      string                  `json:"language,omitempty"`
	AudioFile     string                  `json:"audio_file,omitempty"` // Relative to the store directory
}

// Session groups the interactions recorded between StartSession and
// EndSession.
type Session struct {
	ID            string                  `json:"session_id"`
	Number        int                     `json:"session_number"`
	Mode          types.TranscriptionMode `json:"mode"`
	StartTime     time.Time               `json:"start_time"`
	EndTime       *time.Time              `json:"end_time"`
	Interactions  []Interaction           `json:"interactions"`
	TotalDuration time.Duration           `json:"total_duration"`
	WordCount     int                     `json:"word_count"`
	Title         string                  `json:"title"`
}

// Summary is the list view of a session.
type Summary struct {
	Number           int
	Title            string
	StartTime        time.Time
	EndTime          *time.Time
	Mode             types.TranscriptionMode
	InteractionCount int
	TotalDuration    time.Duration
	WordCount        int
}

// Match is a search hit.
type Match struct {
	SessionNumber int
	Title         string
	InteractionID string
	Timestamp     time.Time
	Transcription string
	Context       string // Lowercased text around the match
}

// Store is a badger-backed conversation log.
type Store struct {
	db   *badger.DB
	dir  string
	opts Options

	mu      sync.Mutex
	current *Session
	next    int
}

// Open opens the log under dir. An empty dir keeps everything in memory
// and disables audio files.
func Open(dir string, opts Options) (*Store, error) {
	var bopts badger.Options
	if dir == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
		opts.SaveAudio = false
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
		bopts = badger.DefaultOptions(filepath.Join(dir, "db"))
	}
	if opts.Detect == nil {
		opts.Detect = langdetect.Detect
	}

	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	s := &Store{db: db, dir: dir, opts: opts}
	last, err := s.lastNumber()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.next = last + 1

	slog.Info("history opened", "dir", dir, "next_session", s.next)
	return s, nil
}

// Close ends the current session and closes the database.
func (s *Store) Close() error {
	if _, err := s.EndSession(); err != nil {
		slog.Error("end session on close", "error", err)
	}
	return s.db.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Recording
// ─────────────────────────────────────────────────────────────────────────────

// StartSession begins a new numbered session, ending any current one.
func (s *Store) StartSession(mode types.TranscriptionMode) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		if err := s.endLocked(); err != nil {
			return "", err
		}
	}
	return s.startLocked(mode)
}

func (s *Store) startLocked(mode types.TranscriptionMode) (string, error) {
	sess := &Session{
		ID:           uuid.NewString(),
		Number:       s.next,
		Mode:         mode,
		StartTime:    time.Now(),
		Interactions: []Interaction{},
		Title:        defaultTitle(s.next),
	}
	if err := s.put(sess); err != nil {
		return "", err
	}
	s.current = sess
	s.next++

	slog.Info("history session started", "session", sess.Number, "id", sess.ID, "mode", mode)
	return sess.ID, nil
}

// Log records u in the current session, starting one if needed.
func (s *Store) Log(u types.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		if _, err := s.startLocked(u.Mode); err != nil {
			return err
		}
	}
	sess := s.current

	ts := u.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	in := Interaction{
		ID:            uuid.NewString(),
		Timestamp:     ts,
		Mode:          u.Mode,
		Transcription: u.Text,
		Duration:      u.Duration,
		AudioLength:   len(u.Audio),
		WordCount:     len(strings.Fields(u.Text)),
	}
	if code, _ := s.opts.Detect(u.Text); code != langdetect.Auto {
		in.Language = code
	}

	if s.opts.SaveAudio && len(u.Audio) > 0 {
		rel, err := s.saveAudio(sess.Number, in.ID, u.Audio)
		if err != nil {
			slog.Error("save interaction audio", "session", sess.Number, "error", err)
		} else {
			in.AudioFile = rel
		}
	}

	sess.Interactions = append(sess.Interactions, in)
	sess.TotalDuration += in.Duration
	sess.WordCount += in.WordCount
	if sess.Title == defaultTitle(sess.Number) {
		if t := titleFrom(u.Text); t != "" {
			sess.Title = t
		}
	}

	if err := s.put(sess); err != nil {
		return err
	}
	slog.Debug("interaction logged", "session", sess.Number, "words", in.WordCount, "language", in.Language)
	return nil
}

// EndSession closes the current session and returns it, or nil when no
// session is active.
func (s *Store) EndSession() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.current
	if sess == nil {
		return nil, nil
	}
	if err := s.endLocked(); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) endLocked() error {
	sess := s.current
	now := time.Now()
	sess.EndTime = &now
	if err := s.put(sess); err != nil {
		return err
	}
	s.current = nil
	slog.Info("history session ended", "session", sess.Number, "interactions", len(sess.Interactions))
	return nil
}

func (s *Store) saveAudio(session int, id string, wav []byte) (string, error) {
	rel := filepath.Join("session_"+strconv.Itoa(session), "audio", id+".wav")
	path := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, wav, 0o600); err != nil {
		return "", err
	}
	return rel, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────────────────────────────────────

// History returns up to limit sessions, most recent first.
func (s *Store) History(limit int) ([]Summary, error) {
	var out []Summary
	err := s.each(func(sess *Session) bool {
		out = append(out, Summary{
			Number:           sess.Number,
			Title:            sess.Title,
			StartTime:        sess.StartTime,
			EndTime:          sess.EndTime,
			Mode:             sess.Mode,
			InteractionCount: len(sess.Interactions),
			TotalDuration:    sess.TotalDuration,
			WordCount:        sess.WordCount,
		})
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// Session returns the full record of session n.
func (s *Store) Session(n int) (*Session, error) {
	var sess Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(n))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("session %d: %w", n, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read session %d: %w", n, err)
	}
	return &sess, nil
}

// Search returns up to limit interactions whose transcription contains
// query, ignoring case. Recent sessions are searched first.
func (s *Store) Search(query string, limit int) ([]Match, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	var out []Match
	err := s.each(func(sess *Session) bool {
		for _, in := range sess.Interactions {
			text := strings.ToLower(in.Transcription)
			if !strings.Contains(text, q) {
				continue
			}
			out = append(out, Match{
				SessionNumber: sess.Number,
				Title:         sess.Title,
				InteractionID: in.ID,
				Timestamp:     in.Timestamp,
				Transcription: in.Transcription,
				Context:       matchAround(text, q, matchContext),
			})
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		return true
	})
	return out, err
}

// DeleteSession removes session n and its saved audio.
func (s *Store) DeleteSession(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(n)); err != nil {
			return err
		}
		return txn.Delete(sessionKey(n))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("session %d: %w", n, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete session %d: %w", n, err)
	}

	if s.current != nil && s.current.Number == n {
		s.current = nil
	}
	if s.dir != "" {
		if err := os.RemoveAll(filepath.Join(s.dir, "session_"+strconv.Itoa(n))); err != nil {
			slog.Warn("remove session audio", "session", n, "error", err)
		}
	}
	slog.Info("history session deleted", "session", n)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Storage
// ─────────────────────────────────────────────────────────────────────────────

func sessionKey(n int) []byte {
	return fmt.Appendf(nil, "%s%08d", sessionPrefix, n)
}

func (s *Store) put(sess *Session) error {
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", sess.Number, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(sess.Number), val)
	})
	if err != nil {
		return fmt.Errorf("write session %d: %w", sess.Number, err)
	}
	return nil
}

// each visits sessions from the highest number down until fn returns
// false. Undecodable values are logged and skipped.
func (s *Store) each(fn func(*Session) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionPrefix)
		for it.Seek(append(bytes.Clone(prefix), 0xff)); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var sess Session
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			})
			if err != nil {
				slog.Error("decode session", "key", string(item.Key()), "error", err)
				continue
			}
			if !fn(&sess) {
				return nil
			}
		}
		return nil
	})
}

func (s *Store) lastNumber() (int, error) {
	last := 0
	err := s.each(func(sess *Session) bool {
		last = sess.Number
		return false
	})
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}
	return last, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Text helpers
// ─────────────────────────────────────────────────────────────────────────────

func defaultTitle(n int) string {
	return "Session " + strconv.Itoa(n)
}

// titleFrom builds a session title from the first words of text.
func titleFrom(text string) string {
	words := strings.Fields(text)
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	title := strings.Join(words, " ")
	if utf8.RuneCountInString(title) > titleMaxLen {
		title = string([]rune(title)[:titleMaxLen-3]) + "..."
	}
	return title
}

// matchAround returns up to n runes of text on each side of query.
func matchAround(text, query string, n int) string {
	pos := strings.Index(text, query)
	runes := []rune(text)
	if pos < 0 {
		return string(runes[:min(n, len(runes))])
	}

	start := utf8.RuneCountInString(text[:pos])
	end := start + utf8.RuneCountInString(query)
	from := max(0, start-n)
	to := min(len(runes), end+n)

	ctx := string(runes[from:to])
	if from > 0 {
		ctx = "..." + ctx
	}
	if to < len(runes) {
		ctx += "..."
	}
	return ctx
}
