package stt

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the batch transcription model.
	DefaultModel = "whisper-1"
)

// OpenAIConfig holds configuration for OpenAI.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string       // Optional, defaults to OpenAI's API
	Model      string       // Optional, defaults to "whisper-1"
	HTTPClient *http.Client // Optional
}

// OpenAI implements Provider with the audio transcriptions endpoint.
// It never retries; retry policy belongs to the caller.
type OpenAI struct {
	client openai.Client
	model  string
	ready  bool
}

// NewOpenAI creates a new OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		ready:  cfg.APIKey != "",
	}
}

func (o *OpenAI) Name() string  { return "openai" }
func (o *OpenAI) IsReady() bool { return o.ready }

// Transcribe uploads the recording and returns the trimmed transcript.
// An empty string means no speech was recognized.
func (o *OpenAI) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if !o.ready {
		return "", ErrNoCredential
	}

	params := openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:          openai.AudioModel(o.model),
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	// The API does not accept "auto"; omitting the field requests detection.
	if language != "" && language != "auto" {
		params.Language = openai.String(language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classify(ctx, err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// classify maps SDK and transport errors onto the stt error types.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &ServiceError{StatusCode: apiErr.StatusCode, Message: msg}
	}
	return &ServiceError{Message: err.Error()}
}
