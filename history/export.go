package history

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatText = "txt"
	FormatCSV  = "csv"
)

// Export writes session n to w in the given format.
func (s *Store) Export(w io.Writer, n int, format string) error {
	sess, err := s.Session(n)
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(sess)
	case FormatText:
		err = exportText(w, sess)
	case FormatCSV:
		err = exportCSV(w, sess)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return fmt.Errorf("export session %d: %w", n, err)
	}
	return nil
}

func exportText(w io.Writer, sess *Session) error {
	var b strings.Builder
	b.WriteString("SpeechTide Session Export\n")
	b.WriteString("========================\n\n")
	fmt.Fprintf(&b, "Session: %s\n", sess.Title)
	fmt.Fprintf(&b, "Number: %d\n", sess.Number)
	fmt.Fprintf(&b, "Mode: %s\n", sess.Mode)
	fmt.Fprintf(&b, "Start Time: %s\n", sess.StartTime.Format(time.RFC3339))
	if sess.EndTime != nil {
		fmt.Fprintf(&b, "End Time: %s\n", sess.EndTime.Format(time.RFC3339))
	} else {
		b.WriteString("End Time: -\n")
	}
	fmt.Fprintf(&b, "Total Duration: %.2fs\n", sess.TotalDuration.Seconds())
	fmt.Fprintf(&b, "Word Count: %d\n\n", sess.WordCount)

	b.WriteString("Transcriptions:\n")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for i, in := range sess.Interactions {
		fmt.Fprintf(&b, "\n%d. [%s]\n", i+1, in.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(&b, "   %s\n", in.Transcription)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func exportCSV(w io.Writer, sess *Session) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"Session Number", "Interaction ID", "Timestamp", "Mode",
		"Transcription", "Duration", "Word Count",
	})
	num := strconv.Itoa(sess.Number)
	for _, in := range sess.Interactions {
		_ = cw.Write([]string{
			num,
			in.ID,
			in.Timestamp.Format(time.RFC3339),
			string(in.Mode),
			in.Transcription,
			strconv.FormatFloat(in.Duration.Seconds(), 'f', 2, 64),
			strconv.Itoa(in.WordCount),
		})
	}
	cw.Flush()
	return cw.Error()
}
