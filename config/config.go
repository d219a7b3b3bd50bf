// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"go.aimuz.me/speechtide/audiocapture"
	"go.aimuz.me/speechtide/hotkey"
	"go.aimuz.me/speechtide/internal/types"
)

const (
	appName        = "speechtide"
	configFileName = "config.yaml"
	legacyFileName = "settings.json"
)

// Environment variables that override the configured API key, in order.
var apiKeyEnv = []string{"SPEECHTIDE_API_KEY", "OPENAI_API_KEY"}

// Config represents the application configuration.
type Config struct {
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Hotkey   HotkeyConfig   `yaml:"hotkey"`
	Audio    AudioConfig    `yaml:"audio"`
	Behavior BehaviorConfig `yaml:"behavior"`
	Logging  LoggingConfig  `yaml:"logging"`
	Delivery DeliveryConfig `yaml:"delivery"`
}

// OpenAIConfig holds the service credential, endpoints and models.
type OpenAIConfig struct {
	APIKey                   string        `yaml:"api_key"`
	BaseURL                  string        `yaml:"base_url"`
	RealtimeURL              string        `yaml:"realtime_url,omitempty"`
	ModelTranscribe          string        `yaml:"model_transcribe"`
	ModelRealtime            string        `yaml:"model_realtime"`
	ModelStreamingTranscribe string        `yaml:"model_streaming_transcribe"`
	Language                 string        `yaml:"language"` // "auto" or a BCP 47 tag
	RequestTimeout           time.Duration `yaml:"request_timeout"`
	ConnectTimeout           time.Duration `yaml:"connect_timeout"`
	VAD                      VADConfig     `yaml:"vad"`

	envAPIKey string // From the environment, never saved
}

// Credential returns the API key in effect: the environment override when
// set, otherwise the configured key.
func (o OpenAIConfig) Credential() string {
	if o.envAPIKey != "" {
		return o.envAPIKey
	}
	return o.APIKey
}

// VADConfig holds server-side voice activity detection parameters.
type VADConfig struct {
	Threshold       float64       `yaml:"threshold"`
	PrefixPadding   time.Duration `yaml:"prefix_padding"`
	SilenceDuration time.Duration `yaml:"silence_duration"`
}

// HotkeyConfig selects the trigger key and how it is interpreted.
type HotkeyConfig struct {
	Key           string                `yaml:"key"`
	Mode          types.InteractionMode `yaml:"mode"`
	HoldThreshold time.Duration         `yaml:"hold_threshold"`
}

// AudioConfig describes the capture format.
type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	ChunkSize  int    `yaml:"chunk_size"`
	Format     string `yaml:"format"`
	Device     string `yaml:"device,omitempty"`
}

// BehaviorConfig controls the recording pipeline.
type BehaviorConfig struct {
	Transcription        types.TranscriptionMode `yaml:"transcription"`
	MaxRecordingDuration time.Duration           `yaml:"max_recording_duration"`
	DrainTimeout         time.Duration           `yaml:"drain_timeout"`
}

// LoggingConfig controls diagnostics and the conversation history.
type LoggingConfig struct {
	EnableConversationLogging bool   `yaml:"enable_conversation_logging"`
	SaveAudio                 bool   `yaml:"save_audio"`
	LogLevel                  string `yaml:"log_level"`
	HistoryDir                string `yaml:"history_dir,omitempty"` // Defaults to the config dir
}

// DeliveryConfig controls how transcripts reach the user.
type DeliveryConfig struct {
	AutoPaste     bool `yaml:"auto_paste"`
	Notifications bool `yaml:"notifications"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			BaseURL:                  "https://api.openai.com/v1",
			ModelTranscribe:          "whisper-1",
			ModelRealtime:            "gpt-4o-mini-realtime-preview",
			ModelStreamingTranscribe: "whisper-1",
			Language:                 "auto",
			RequestTimeout:           30 * time.Second,
			ConnectTimeout:           10 * time.Second,
			VAD: VADConfig{
				Threshold:       0.5,
				PrefixPadding:   300 * time.Millisecond,
				SilenceDuration: 500 * time.Millisecond,
			},
		},
		Hotkey: HotkeyConfig{
			Key:           "right_cmd",
			Mode:          types.ModeClick,
			HoldThreshold: hotkey.DefaultHoldThreshold,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			ChunkSize:  audiocapture.DefaultFramesPerBuffer,
			Format:     "int16",
		},
		Behavior: BehaviorConfig{
			Transcription:        types.TranscribeBatch,
			MaxRecordingDuration: 60 * time.Second,
			DrainTimeout:         3 * time.Second,
		},
		Logging: LoggingConfig{
			EnableConversationLogging: true,
			LogLevel:                  "INFO",
		},
		Delivery: DeliveryConfig{
			Notifications: true,
		},
	}
}

// Load loads configuration from the config file.
// Returns default config if file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}
	if err := migrateLegacyConfig(path); err != nil {
		return nil, fmt.Errorf("migrate legacy config: %w", err)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults and applies
// environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists the configuration to disk.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("get config path: %w", err)
	}
	return c.SaveFile(path)
}

// SaveFile writes the configuration to path. The file holds a credential,
// so it is created owner-readable only.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks every field that the pipeline depends on and normalizes
// the language hint to its base language.
func (c *Config) Validate() error {
	var errs []error

	if _, err := hotkey.ParseKey(c.Hotkey.Key); err != nil {
		errs = append(errs, fmt.Errorf("hotkey.key: %w", err))
	}
	if !c.Hotkey.Mode.Valid() {
		errs = append(errs, fmt.Errorf("hotkey.mode: unknown mode %q", c.Hotkey.Mode))
	}
	if c.Hotkey.HoldThreshold <= 0 {
		errs = append(errs, fmt.Errorf("hotkey.hold_threshold: must be positive"))
	}

	if _, err := c.CaptureFormat(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if c.Audio.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_size: must be positive"))
	}

	if !c.Behavior.Transcription.Valid() {
		errs = append(errs, fmt.Errorf("behavior.transcription: unknown mode %q", c.Behavior.Transcription))
	}
	if c.OpenAI.RequestTimeout <= 0 || c.OpenAI.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("openai: timeouts must be positive"))
	}
	if t := c.OpenAI.VAD.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("openai.vad.threshold: %v outside [0, 1]", t))
	}

	lang, err := normalizeLanguage(c.OpenAI.Language)
	if err != nil {
		errs = append(errs, fmt.Errorf("openai.language: %w", err))
	}
	c.OpenAI.Language = lang

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CaptureFormat returns the configured audio format.
func (c *Config) CaptureFormat() (audiocapture.Format, error) {
	sample, err := audiocapture.ParseSampleFormat(c.Audio.Format)
	if err != nil {
		return audiocapture.Format{}, err
	}
	f := audiocapture.Format{SampleRate: c.Audio.SampleRate, Channels: c.Audio.Channels, Sample: sample}
	return f, f.Validate()
}

// APIKeyConfigured reports whether a non-blank credential is present.
func (c *Config) APIKeyConfigured() bool {
	return strings.TrimSpace(c.OpenAI.Credential()) != ""
}

// DataDir returns the directory for history and saved recordings.
func (c *Config) DataDir() (string, error) {
	if c.Logging.HistoryDir != "" {
		return c.Logging.HistoryDir, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, "history"), nil
}

// SlogLevel maps the configured log level to slog.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Logging.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (c *Config) applyEnv() {
	for _, name := range apiKeyEnv {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			c.OpenAI.envAPIKey = v
			return
		}
	}
}

// normalizeLanguage reduces a tag such as "en-US" to "en". Empty and
// "auto" both mean automatic detection.
func normalizeLanguage(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return "auto", nil
	}
	tag, err := language.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", s, err)
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", fmt.Errorf("no base language for %q", s)
	}
	return base.String(), nil
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Migration from Legacy Format
// ─────────────────────────────────────────────────────────────────────────────

// legacyConfig is the settings.json layout of earlier releases. Durations
// were stored as float seconds.
type legacyConfig struct {
	OpenAI struct {
		APIKey          string `yaml:"api_key"`
		BaseURL         string `yaml:"base_url"`
		ModelRealtime   string `yaml:"model_realtime"`
		ModelTranscribe string `yaml:"model_transcribe"`
	} `yaml:"openai"`
	Hotkeys struct {
		Primary string `yaml:"primary"`
	} `yaml:"hotkeys"`
	Audio struct {
		SampleRate int    `yaml:"sample_rate"`
		Channels   int    `yaml:"channels"`
		ChunkSize  int    `yaml:"chunk_size"`
		Format     string `yaml:"format"`
	} `yaml:"audio"`
	Behavior struct {
		MaxRecordingDuration float64 `yaml:"max_recording_duration"`
	} `yaml:"behavior"`
	Logging struct {
		EnableConversationLogging *bool  `yaml:"enable_conversation_logging"`
		LogLevel                  string `yaml:"log_level"`
	} `yaml:"logging"`
}

// migrateLegacyConfig converts settings.json next to path into config.yaml
// when only the legacy file exists. The legacy file is kept as a backup.
func migrateLegacyConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}

	legacyPath := filepath.Join(filepath.Dir(path), legacyFileName)
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read legacy config: %w", err)
	}

	cfg, err := fromLegacy(data)
	if err != nil {
		return err
	}
	if err := cfg.SaveFile(path); err != nil {
		return err
	}
	if err := os.Rename(legacyPath, legacyPath+".bak"); err != nil {
		return fmt.Errorf("back up legacy config: %w", err)
	}

	slog.Info("migrated legacy config", "from", legacyPath, "to", path)
	return nil
}

// fromLegacy maps a settings.json document onto the defaults. JSON is
// valid YAML, so the YAML decoder reads it directly.
func fromLegacy(data []byte) (*Config, error) {
	var old legacyConfig
	if err := yaml.Unmarshal(data, &old); err != nil {
		return nil, fmt.Errorf("unmarshal legacy config: %w", err)
	}

	cfg := Default()
	setString(&cfg.OpenAI.APIKey, old.OpenAI.APIKey)
	setString(&cfg.OpenAI.BaseURL, old.OpenAI.BaseURL)
	setString(&cfg.OpenAI.ModelRealtime, old.OpenAI.ModelRealtime)
	setString(&cfg.Hotkey.Key, old.Hotkeys.Primary)
	setString(&cfg.Audio.Format, old.Audio.Format)
	setString(&cfg.Logging.LogLevel, old.Logging.LogLevel)

	// The legacy chat model is not a transcription model; keep the default.
	if m := old.OpenAI.ModelTranscribe; strings.Contains(m, "whisper") || strings.Contains(m, "transcribe") {
		cfg.OpenAI.ModelTranscribe = m
	}
	if old.Audio.SampleRate > 0 {
		cfg.Audio.SampleRate = old.Audio.SampleRate
	}
	if old.Audio.Channels > 0 {
		cfg.Audio.Channels = old.Audio.Channels
	}
	if old.Audio.ChunkSize > 0 {
		cfg.Audio.ChunkSize = old.Audio.ChunkSize
	}
	if old.Behavior.MaxRecordingDuration > 0 {
		cfg.Behavior.MaxRecordingDuration = time.Duration(old.Behavior.MaxRecordingDuration * float64(time.Second))
	}
	if old.Logging.EnableConversationLogging != nil {
		cfg.Logging.EnableConversationLogging = *old.Logging.EnableConversationLogging
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
