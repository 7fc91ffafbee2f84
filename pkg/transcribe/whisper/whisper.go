// Package whisper implements pkg/transcribe's Transcriber against a
// Whisper-compatible HTTP transcription API.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/murmurhq/murmur/pkg/transcribe"
)

const (
	// DefaultModel is the default transcription model.
	DefaultModel = "whisper-1"

	// DefaultTimeout bounds one transcription call. A hung backend must
	// fail the ingestion attempt, not wedge the pipeline.
	DefaultTimeout = 60 * time.Second
)

// Transcriber wraps a Whisper-compatible transcription endpoint.
type Transcriber struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// Config holds configuration for the Whisper transcriber.
type Config struct {
	// BaseURL is the API base (e.g., "https://api.openai.com/v1" or a
	// local whisper.cpp server). Required.
	BaseURL string

	// Model defaults to DefaultModel if empty.
	Model string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Timeout defaults to DefaultTimeout if zero.
	Timeout time.Duration
}

// transcriptionResponse is the verbose_json response body.
type transcriptionResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

// NewTranscriber creates a new Whisper-compatible transcriber.
func NewTranscriber(cfg Config) (*Transcriber, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("transcription base URL is required")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Transcriber{
		baseURL: cfg.BaseURL,
		model:   model,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Transcribe sends audio as multipart form data and returns the transcript.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (*transcribe.Transcript, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("%w: creating form file: %v", transcribe.ErrTranscription, err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("%w: reading audio: %v", transcribe.ErrTranscription, err)
	}
	if err := writer.WriteField("model", t.model); err != nil {
		return nil, fmt.Errorf("%w: writing model field: %v", transcribe.ErrTranscription, err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("%w: writing format field: %v", transcribe.ErrTranscription, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing form: %v", transcribe.ErrTranscription, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", transcribe.ErrTranscription, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", transcribe.ErrTranscription, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: backend returned status %d: %s", transcribe.ErrTranscription, resp.StatusCode, string(respBody))
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", transcribe.ErrTranscription, err)
	}
	if tr.Text == "" {
		return nil, fmt.Errorf("%w: empty transcript", transcribe.ErrTranscription)
	}

	return &transcribe.Transcript{
		Text:        tr.Text,
		DurationSec: int(math.Round(tr.Duration)),
	}, nil
}

// Close releases resources held by the transcriber.
func (t *Transcriber) Close() error {
	return nil
}

var _ transcribe.Transcriber = (*Transcriber)(nil)
