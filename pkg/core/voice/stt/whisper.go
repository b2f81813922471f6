package stt

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

	"github.com/sethvargo/go-retry"

	"github.com/coachsim/pulse/pkg/core"
)

const whisperBaseURL = "https://api.openai.com/v1"

// WhisperProvider implements the STT Provider interface over a
// whisper-style HTTP transcription endpoint.
type WhisperProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
}

// Option configures the provider.
type Option func(*WhisperProvider)

// WithBackoff sets the delay before the single retry.
func WithBackoff(d time.Duration) Option {
	return func(w *WhisperProvider) {
		if d > 0 {
			w.backoff = d
		}
	}
}

// NewWhisper creates a new whisper STT provider.
func NewWhisper(apiKey string, opts ...Option) *WhisperProvider {
	p := &WhisperProvider{
		apiKey:     apiKey,
		baseURL:    whisperBaseURL,
		httpClient: &http.Client{},
		backoff:    300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewWhisperWithClient creates a provider with a custom base URL and HTTP
// client (for testing or proxying).
func NewWhisperWithClient(apiKey, baseURL string, client *http.Client, opts ...Option) *WhisperProvider {
	p := NewWhisper(apiKey, opts...)
	if baseURL != "" {
		p.baseURL = baseURL
	}
	if client != nil {
		p.httpClient = client
	}
	return p
}

// Name returns the provider identifier.
func (w *WhisperProvider) Name() string {
	return "whisper"
}

// Transcribe converts audio to text via the transcription endpoint,
// retrying transient failures once before giving up.
func (w *WhisperProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	audioData, err := io.ReadAll(audio)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	ext := opts.Format
	if ext == "" {
		ext = "webm"
	}
	fw, err := mw.CreateFormFile("file", "audio."+ext)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audioData); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "whisper-1"
	}
	if err := mw.WriteField("model", model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if opts.Language != "" {
		if err := mw.WriteField("language", opts.Language); err != nil {
			return nil, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	reqURL := strings.TrimRight(w.baseURL, "/") + "/audio/transcriptions"
	contentType := mw.FormDataContentType()
	payload := buf.Bytes()

	var out *Transcript
	bo := retry.WithMaxRetries(1, retry.NewConstant(w.backoff))
	if err := retry.Do(ctx, bo, func(ctx context.Context) error {
		tr, err := w.transcribeOnce(ctx, reqURL, contentType, payload)
		if err != nil {
			return err
		}
		out = tr
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *WhisperProvider) transcribeOnce(ctx context.Context, url, contentType string, payload []byte) (*Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, retry.RetryableError(
			core.NewProviderError(w.Name(), fmt.Sprintf("http request: %v", err)))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		perr := core.NewProviderError(w.Name(),
			fmt.Sprintf("transcription status %d: %s", resp.StatusCode, string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.RetryableError(perr)
		}
		return nil, perr
	}

	var parsed struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}

	return &Transcript{
		Text:     parsed.Text,
		Language: parsed.Language,
		Duration: parsed.Duration,
	}, nil
}
