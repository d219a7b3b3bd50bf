package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.aimuz.me/speechtide/internal/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Hotkey.HoldThreshold != 100*time.Millisecond {
		t.Errorf("HoldThreshold = %v, want 100ms", cfg.Hotkey.HoldThreshold)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.ChunkSize != 1024 {
		t.Errorf("Audio = %+v, want 16 kHz mono, 1024 frames", cfg.Audio)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("SPEECHTIDE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
openai:
  api_key: sk-file
  language: en-US
  request_timeout: 45s
hotkey:
  key: right_option
  mode: hold
  hold_threshold: 250ms
behavior:
  transcription: streaming
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-file" {
		t.Errorf("APIKey = %q, want %q", cfg.OpenAI.APIKey, "sk-file")
	}
	if cfg.OpenAI.Language != "en" {
		t.Errorf("Language = %q, want %q", cfg.OpenAI.Language, "en")
	}
	if cfg.OpenAI.RequestTimeout != 45*time.Second {
		t.Errorf("RequestTimeout = %v, want 45s", cfg.OpenAI.RequestTimeout)
	}
	if cfg.Hotkey.Mode != types.ModeHold || cfg.Hotkey.HoldThreshold != 250*time.Millisecond {
		t.Errorf("Hotkey = %+v", cfg.Hotkey)
	}
	if cfg.Behavior.Transcription != types.TranscribeStreaming {
		t.Errorf("Transcription = %q, want streaming", cfg.Behavior.Transcription)
	}
	// Unset fields keep their defaults.
	if cfg.OpenAI.ModelRealtime != "gpt-4o-mini-realtime-preview" {
		t.Errorf("ModelRealtime = %q, want default", cfg.OpenAI.ModelRealtime)
	}
	if cfg.OpenAI.VAD.SilenceDuration != 500*time.Millisecond {
		t.Errorf("VAD.SilenceDuration = %v, want 500ms", cfg.OpenAI.VAD.SilenceDuration)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	t.Setenv("SPEECHTIDE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.APIKeyConfigured() {
		t.Error("APIKeyConfigured = true with no file and no environment")
	}
}

func TestLoadFile_EnvOverride(t *testing.T) {
	tests := []struct {
		name      string
		speechEnv string
		openaiEnv string
		want      string
	}{
		{"file value", "", "", "sk-file"},
		{"openai env", "", "sk-openai", "sk-openai"},
		{"speechtide env wins", "sk-speech", "sk-openai", "sk-speech"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SPEECHTIDE_API_KEY", tt.speechEnv)
			t.Setenv("OPENAI_API_KEY", tt.openaiEnv)

			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, "openai:\n  api_key: sk-file\n")

			cfg, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if got := cfg.OpenAI.Credential(); got != tt.want {
				t.Errorf("Credential() = %q, want %q", got, tt.want)
			}
			if cfg.OpenAI.APIKey != "sk-file" {
				t.Errorf("APIKey = %q, want file value %q", cfg.OpenAI.APIKey, "sk-file")
			}
		})
	}
}

func TestSaveFile_KeepsEnvironmentKeyOut(t *testing.T) {
	t.Setenv("SPEECHTIDE_API_KEY", "sk-from-env")
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		name     string
		file     string
		wantSave string
	}{
		{"no file key", "hotkey:\n  mode: hold\n", `api_key: ""`},
		{"file key kept", "openai:\n  api_key: sk-file\n", "api_key: sk-file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, tt.file)

			cfg, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if !cfg.APIKeyConfigured() {
				t.Error("APIKeyConfigured = false with key in environment")
			}
			if err := cfg.SaveFile(path); err != nil {
				t.Fatalf("SaveFile: %v", err)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if strings.Contains(string(data), "sk-from-env") {
				t.Errorf("saved config contains the environment key:\n%s", data)
			}
			if !strings.Contains(string(data), tt.wantSave) {
				t.Errorf("saved config missing %q:\n%s", tt.wantSave, data)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown key", func(c *Config) { c.Hotkey.Key = "hyper" }, "hotkey.key"},
		{"unknown mode", func(c *Config) { c.Hotkey.Mode = "double" }, "hotkey.mode"},
		{"zero threshold", func(c *Config) { c.Hotkey.HoldThreshold = 0 }, "hotkey.hold_threshold"},
		{"bad format", func(c *Config) { c.Audio.Format = "int24" }, "audio"},
		{"zero rate", func(c *Config) { c.Audio.SampleRate = 0 }, "audio"},
		{"unknown transcription", func(c *Config) { c.Behavior.Transcription = "offline" }, "behavior.transcription"},
		{"vad out of range", func(c *Config) { c.OpenAI.VAD.Threshold = 1.5 }, "openai.vad.threshold"},
		{"bad language", func(c *Config) { c.OpenAI.Language = "not a language!" }, "openai.language"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "auto"},
		{"AUTO", "auto"},
		{"en", "en"},
		{"en-US", "en"},
		{"zh-Hans-CN", "zh"},
		{"pt_BR", "pt"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeLanguage(tt.in)
			if err != nil {
				t.Fatalf("normalizeLanguage(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("normalizeLanguage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSaveFileRoundTrip(t *testing.T) {
	t.Setenv("SPEECHTIDE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Hotkey.HoldThreshold = 175 * time.Millisecond
	if err := cfg.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "hold_threshold: 175ms") {
		t.Errorf("saved config does not use duration strings:\n%s", data)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got.Hotkey.HoldThreshold != 175*time.Millisecond {
		t.Errorf("HoldThreshold = %v, want 175ms", got.Hotkey.HoldThreshold)
	}
}

func TestMigrateLegacyConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, configFileName)
	legacy := filepath.Join(dir, legacyFileName)
	writeFile(t, legacy, `{
  "openai": {
    "api_key": "sk-legacy",
    "base_url": "https://proxy.example.com/v1",
    "model_realtime": "gpt-4o-mini-realtime-preview",
    "model_transcribe": "gpt-4o-mini"
  },
  "hotkeys": {"primary": "right_option", "secondary": "right_cmd"},
  "audio": {"sample_rate": 16000, "channels": 1, "chunk_size": 2048, "format": "int16"},
  "behavior": {"max_recording_duration": 90.5},
  "logging": {"enable_conversation_logging": false, "log_level": "DEBUG"}
}`)

	if err := migrateLegacyConfig(path); err != nil {
		t.Fatalf("migrateLegacyConfig: %v", err)
	}
	if _, err := os.Stat(legacy + ".bak"); err != nil {
		t.Errorf("legacy backup missing: %v", err)
	}

	t.Setenv("SPEECHTIDE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-legacy" || cfg.OpenAI.BaseURL != "https://proxy.example.com/v1" {
		t.Errorf("OpenAI = %+v", cfg.OpenAI)
	}
	if cfg.OpenAI.ModelTranscribe != "whisper-1" {
		t.Errorf("ModelTranscribe = %q, want the whisper default", cfg.OpenAI.ModelTranscribe)
	}
	if cfg.Hotkey.Key != "right_option" {
		t.Errorf("Hotkey.Key = %q, want right_option", cfg.Hotkey.Key)
	}
	if cfg.Audio.ChunkSize != 2048 {
		t.Errorf("ChunkSize = %d, want 2048", cfg.Audio.ChunkSize)
	}
	if cfg.Behavior.MaxRecordingDuration != 90500*time.Millisecond {
		t.Errorf("MaxRecordingDuration = %v, want 1m30.5s", cfg.Behavior.MaxRecordingDuration)
	}
	if cfg.Logging.EnableConversationLogging {
		t.Error("EnableConversationLogging = true, want false")
	}

	// A second run leaves the migrated file alone.
	if err := migrateLegacyConfig(path); err != nil {
		t.Fatalf("second migrateLegacyConfig: %v", err)
	}
}
