// Package avatar manages the streaming avatar connection: token-gated
// media transport, proactive token refresh, and speech dispatch.
package avatar

import (
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

// DefaultTokenTTL is assumed when the issuer does not report an expiry.
const DefaultTokenTTL = 600 * time.Second

// ICEServer is one relay entry for the client-side media connection.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Credentials is one issued avatar session token with its relay info.
type Credentials struct {
	Token      string
	Region     string
	ICEServers []ICEServer
	ExpiresIn  time.Duration
	IssuedAt   time.Time
}

// TokenSource issues avatar session credentials.
type TokenSource interface {
	Fetch(ctx context.Context) (*Credentials, error)
}

// SpeechTokenSource fetches tokens from a speech-service issuer plus the
// ICE relay endpoint for the media stream.
type SpeechTokenSource struct {
	key        string
	region     string
	issueURL   string
	relayURL   string
	httpClient *http.Client
	backoff    time.Duration
	now        func() time.Time
}

// TokenOption configures a SpeechTokenSource.
type TokenOption func(*SpeechTokenSource)

// WithIssueURL overrides the token issuer URL (for testing or proxying).
func WithIssueURL(u string) TokenOption {
	return func(s *SpeechTokenSource) { s.issueURL = u }
}

// WithRelayURL overrides the ICE relay URL.
func WithRelayURL(u string) TokenOption {
	return func(s *SpeechTokenSource) { s.relayURL = u }
}

// WithTokenHTTPClient sets a custom HTTP client.
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(s *SpeechTokenSource) { s.httpClient = c }
}

// WithTokenBackoff sets the delay before the single retry.
func WithTokenBackoff(d time.Duration) TokenOption {
	return func(s *SpeechTokenSource) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// WithTokenClock injects the time source.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *SpeechTokenSource) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSpeechTokenSource creates a token source for the given region.
func NewSpeechTokenSource(key, region string, opts ...TokenOption) *SpeechTokenSource {
	s := &SpeechTokenSource{
		key:        key,
		region:     region,
		issueURL:   fmt.Sprintf("https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken", region),
		relayURL:   fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/avatar/relay/token/v1", region),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		backoff:    300 * time.Millisecond,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch issues a token and resolves the ICE relay, retrying each call
// once before failing.
func (s *SpeechTokenSource) Fetch(ctx context.Context) (*Credentials, error) {
	var token string
	backoff := retry.WithMaxRetries(1, retry.NewConstant(s.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		t, err := s.issueToken(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		token = t
		return nil
	})
	if err != nil {
		return nil, core.NewProviderError("avatar-token", err.Error())
	}

	// Relay failure is not fatal: the client can still fall back to
	// direct connectivity.
	ice, err := s.iceServers(ctx)
	if err != nil {
		ice = nil
	}

	return &Credentials{
		Token:      token,
		Region:     s.region,
		ICEServers: ice,
		ExpiresIn:  DefaultTokenTTL,
		IssuedAt:   s.now(),
	}, nil
}

func (s *SpeechTokenSource) issueToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.issueURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.key)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("issue token status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("issuer returned empty token")
	}
	return token, nil
}

func (s *SpeechTokenSource) iceServers(ctx context.Context) ([]ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.key)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("relay token status %d", resp.StatusCode)
	}

	var parsed struct {
		URLs     []string `json:"Urls"`
		Username string   `json:"Username"`
		Password string   `json:"Password"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse relay response: %w", err)
	}
	if len(parsed.URLs) == 0 {
		return nil, nil
	}
	return []ICEServer{{
		URLs:       parsed.URLs,
		Username:   parsed.Username,
		Credential: parsed.Password,
	}}, nil
}
