package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coachsim/pulse/pkg/core"
)

// doRequest sends a non-streaming request to OpenAI.
func (p *Provider) doRequest(ctx context.Context, req *chatRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, p.parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return respBody, nil
}

// setHeaders sets the required OpenAI API headers.
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

func (p *Provider) chatCompletionsURL() string {
	return strings.TrimRight(p.baseURL, "/") + "/chat/completions"
}

// openaiError represents an error response body from OpenAI.
type openaiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// parseError maps an upstream error response into the canonical taxonomy.
func (p *Provider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var oaiErr openaiError
	if err := json.Unmarshal(body, &oaiErr); err != nil || oaiErr.Error.Message == "" {
		// Can't parse error, return generic
		return core.NewProviderError(p.Name(),
			fmt.Sprintf("upstream status %d: %s", resp.StatusCode, string(body)))
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.NewAuthenticationError(oaiErr.Error.Message)
	case http.StatusNotFound:
		return core.NewNotFoundError(oaiErr.Error.Message)
	case http.StatusTooManyRequests:
		return core.NewRateLimitError(oaiErr.Error.Message)
	case http.StatusBadRequest:
		return core.NewInvalidRequestError(oaiErr.Error.Message)
	default:
		return core.NewProviderError(p.Name(), oaiErr.Error.Message)
	}
}
