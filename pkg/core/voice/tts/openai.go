package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/coachsim/pulse/pkg/core"
)

const openaiBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements the TTS Provider interface over the speech
// endpoint. Used as the audio fallback when the avatar transport is down.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	backoff    time.Duration
}

// Option configures the provider.
type Option func(*OpenAIProvider)

// WithBackoff sets the delay before the single retry.
func WithBackoff(d time.Duration) Option {
	return func(o *OpenAIProvider) {
		if d > 0 {
			o.backoff = d
		}
	}
}

// NewOpenAI creates a new OpenAI TTS provider.
func NewOpenAI(apiKey string, opts ...Option) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    openaiBaseURL,
		model:      "tts-1",
		httpClient: &http.Client{},
		backoff:    300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAIWithClient creates a provider with a custom base URL and HTTP
// client (for testing or proxying).
func NewOpenAIWithClient(apiKey, baseURL string, client *http.Client, opts ...Option) *OpenAIProvider {
	p := NewOpenAI(apiKey, opts...)
	if baseURL != "" {
		p.baseURL = baseURL
	}
	if client != nil {
		p.httpClient = client
	}
	return p
}

// Name returns the provider identifier.
func (o *OpenAIProvider) Name() string {
	return "openai-tts"
}

// Synthesize converts text to audio via the speech endpoint, retrying
// transient failures once before giving up.
func (o *OpenAIProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if text == "" {
		return nil, core.NewInvalidRequestErrorWithParam("text must not be empty", "text")
	}

	voice := opts.Voice
	if voice == "" {
		voice = "alloy"
	}
	format := opts.Format
	if format == "" {
		format = "mp3"
	}

	payload := map[string]any{
		"model":           o.model,
		"input":           text,
		"voice":           voice,
		"response_format": format,
	}
	if opts.Speed > 0 {
		payload["speed"] = opts.Speed
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqURL := strings.TrimRight(o.baseURL, "/") + "/audio/speech"

	var out *Synthesis
	bo := retry.WithMaxRetries(1, retry.NewConstant(o.backoff))
	if err := retry.Do(ctx, bo, func(ctx context.Context) error {
		syn, err := o.synthesizeOnce(ctx, reqURL, body, format)
		if err != nil {
			return err
		}
		out = syn
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *OpenAIProvider) synthesizeOnce(ctx context.Context, url string, body []byte, format string) (*Synthesis, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, retry.RetryableError(
			core.NewProviderError(o.Name(), fmt.Sprintf("http request: %v", err)))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		perr := core.NewProviderError(o.Name(),
			fmt.Sprintf("synthesis status %d: %s", resp.StatusCode, string(errBody)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.RetryableError(perr)
		}
		return nil, perr
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	return &Synthesis{Audio: audio, Format: format}, nil
}
