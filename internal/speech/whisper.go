package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultWhisperModel = "base.en"

// WhisperServer recognizes speech through a whisper.cpp HTTP server.
type WhisperServer struct {
	url      string
	model    string
	language string
	client   *http.Client
}

// WhisperOption configures a WhisperServer.
type WhisperOption func(*WhisperServer)

// WithWhisperModel selects the model name sent with each request.
func WithWhisperModel(model string) WhisperOption {
	return func(w *WhisperServer) { w.model = model }
}

// WithWhisperLanguage sets the expected spoken language.
func WithWhisperLanguage(lang string) WhisperOption {
	return func(w *WhisperServer) { w.language = lang }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) WhisperOption {
	return func(w *WhisperServer) { w.client = c }
}

// NewWhisperServer returns a recognizer posting to serverURL/inference.
func NewWhisperServer(serverURL string, opts ...WhisperOption) (*WhisperServer, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("whisper: server URL must not be empty")
	}
	w := &WhisperServer{
		url:      strings.TrimRight(serverURL, "/"),
		model:    defaultWhisperModel,
		language: "en",
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

type whisperResponse struct {
	Text string `json:"text"`
}

// Recognize posts the WAV as multipart form data and returns the text.
func (w *WhisperServer) Recognize(ctx context.Context, audio []byte, _ int) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("whisper: write audio: %w", err)
	}
	if err := mw.WriteField("language", w.language); err != nil {
		return "", fmt.Errorf("whisper: write language field: %w", err)
	}
	if err := mw.WriteField("model", w.model); err != nil {
		return "", fmt.Errorf("whisper: write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return out.Text, nil
}
