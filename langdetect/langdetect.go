// Package langdetect tags transcripts with the language they were spoken in.
package langdetect

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// Auto is returned when the language cannot be determined.
const Auto = "auto"

// minRunes is the shortest text worth classifying.
const minRunes = 3

// Languages is the default candidate set.
var Languages = []lingua.Language{
	lingua.English,
	lingua.Chinese,
	lingua.Japanese,
	lingua.Korean,
	lingua.French,
	lingua.German,
	lingua.Spanish,
	lingua.Portuguese,
	lingua.Italian,
	lingua.Russian,
	lingua.Dutch,
	lingua.Arabic,
}

// Detector wraps a lingua language detector.
type Detector struct {
	d lingua.LanguageDetector
}

// New builds a detector for langs, or for Languages when none are given.
func New(langs ...lingua.Language) *Detector {
	if len(langs) == 0 {
		langs = Languages
	}
	d := lingua.NewLanguageDetectorBuilder().
		FromLanguages(langs...).
		WithMinimumRelativeDistance(0.1).
		Build()
	return &Detector{d: d}
}

// Detect returns the ISO 639-1 code and English name of the language of
// text. It returns Auto for both when the text is too short or ambiguous.
func (d *Detector) Detect(text string) (code, name string) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minRunes {
		return Auto, Auto
	}

	lang, ok := d.d.DetectLanguageOf(text)
	if !ok {
		return Auto, Auto
	}
	return strings.ToLower(lang.IsoCode639_1().String()), lang.String()
}

var (
	defaultOnce     sync.Once
	defaultDetector *Detector
)

// Detect classifies text with a shared detector built on first use.
func Detect(text string) (code, name string) {
	defaultOnce.Do(func() { defaultDetector = New() })
	return defaultDetector.Detect(text)
}
