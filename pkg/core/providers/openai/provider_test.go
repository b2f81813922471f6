package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coachsim/pulse/pkg/core"
)

func TestCompleteSendsRequestAndParsesContent(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path=%s, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth header=%q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"Happy to help."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := New("test-key", WithBaseURL(srv.URL), WithModel("gpt-4o-mini"))
	out, err := p.Complete(context.Background(), ChatRequest{
		Messages:    []Message{{Role: "user", Content: "hello"}},
		Temperature: 0.8,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Happy to help." {
		t.Fatalf("content=%q", out)
	}
	if got.Model != "gpt-4o-mini" {
		t.Fatalf("model=%q", got.Model)
	}
	if got.Temperature != 0.8 {
		t.Fatalf("temperature=%v", got.Temperature)
	}
	if got.ResponseFormat != nil {
		t.Fatalf("unexpected response_format on plain completion")
	}
}

func TestCompleteJSONSetsJSONObjectMode(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"stage\":2}"}}]}`))
	}))
	defer srv.Close()

	p := New("test-key", WithBaseURL(srv.URL))
	out, err := p.CompleteJSON(context.Background(), "grade this", "utterance")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if out != `{"stage":2}` {
		t.Fatalf("content=%q", out)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("response_format=%+v, want json_object", got.ResponseFormat)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("messages=%+v", got.Messages)
	}
}

func TestCompleteMapsUpstreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   core.ErrorType
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"type":"rate_limit_error","message":"slow down"}}`, core.ErrRateLimit},
		{"auth", http.StatusUnauthorized, `{"error":{"type":"invalid_api_key","message":"bad key"}}`, core.ErrAuthentication},
		{"bad request", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"bad model"}}`, core.ErrInvalidRequest},
		{"server error", http.StatusInternalServerError, `{"error":{"type":"server_error","message":"boom"}}`, core.ErrProvider},
		{"unparseable body", http.StatusBadGateway, `upstream fell over`, core.ErrProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := New("test-key", WithBaseURL(srv.URL))
			_, err := p.Complete(context.Background(), ChatRequest{
				Messages: []Message{{Role: "user", Content: "hello"}},
			})
			if err == nil {
				t.Fatalf("expected error")
			}
			var coreErr *core.Error
			if !errors.As(err, &coreErr) {
				t.Fatalf("error type %T, want *core.Error", err)
			}
			if coreErr.Type != tt.want {
				t.Fatalf("error type=%s, want %s", coreErr.Type, tt.want)
			}
		})
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := New("test-key", WithBaseURL(srv.URL))
	if _, err := p.Complete(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	}); err == nil {
		t.Fatalf("expected error on empty choices")
	}
}
