package speech

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI recognizes speech with the OpenAI transcription endpoint.
type OpenAI struct {
	client   oai.Client
	model    oai.AudioModel
	language string
}

type openAIConfig struct {
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// OpenAIOption configures an OpenAI recognizer.
type OpenAIOption func(*openAIConfig)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithOpenAIModel overrides the transcription model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithOpenAIHTTPClient replaces the HTTP client used by the SDK.
func WithOpenAIHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openAIConfig) { c.httpClient = hc }
}

// NewOpenAI returns a recognizer authenticated with apiKey.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai speech: API key must not be empty")
	}
	cfg := openAIConfig{
		model:    string(oai.AudioModelWhisper1),
		language: "en",
	}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &OpenAI{
		client:   oai.NewClient(reqOpts...),
		model:    oai.AudioModel(cfg.model),
		language: cfg.language,
	}, nil
}

// Recognize uploads the WAV and returns the transcription text.
func (o *OpenAI) Recognize(ctx context.Context, audio []byte, _ int) (string, error) {
	resp, err := o.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:     oai.File(bytes.NewReader(audio), "audio.wav", "audio/wav"),
		Model:    o.model,
		Language: oai.String(o.language),
	})
	if err != nil {
		return "", fmt.Errorf("openai speech: transcribe: %w", err)
	}
	return resp.Text, nil
}
