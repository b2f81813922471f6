package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coachsim/pulse/pkg/gateway/config"
)

func testConfig() config.Config {
	return config.Config{
		AuthMode: config.AuthModeDisabled,
		APIKeys:  map[string]struct{}{},

		CORSAllowedOrigins: map[string]struct{}{},
		MaxBodyBytes:       1 << 20,
		MaxAudioChunkBytes: 1 << 20,

		MaxSessionsPerPrincipal: 2,
		SilenceCommitDuration:   1500 * time.Millisecond,
		TurnTimeout:             30 * time.Second,
		TTSVoice:                "alloy",

		LimitRPS:                   10,
		LimitBurst:                 20,
		LimitMaxConcurrentRequests: 20,

		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := New(testConfig(), testLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_HealthAndMetrics_Reachable(t *testing.T) {
	s := New(testConfig(), testLogger())
	h := s.Handler()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s status=%d body=%q", path, rr.Code, rr.Body.String())
		}
	}
}

func TestServer_SessionRoutes_Reachable(t *testing.T) {
	s := New(testConfig(), testLogger())
	h := s.Handler()

	// No provider credentials are configured, so only routes that stay
	// offline end to end are exercised here.
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/session/start", strings.NewReader(`{"personaType":"Director"}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /session/start status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"sessionId"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}

	for _, path := range []string{"/audio/chunk", "/avatar/token", "/session/complete"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"sessionId":"sess_nope"}`))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(rr, req)
		if rr.Code == http.StatusNotFound && strings.Contains(rr.Body.String(), "no such route") {
			t.Fatalf("path %s not routed", path)
		}
	}
}

func TestServer_DrainFlipsReadiness(t *testing.T) {
	s := New(testConfig(), testLogger())
	h := s.Handler()

	s.SetDraining()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining readyz status=%d, want 503", rr.Code)
	}
}

func TestServer_WaitSessions_ImmediateWhenIdle(t *testing.T) {
	s := New(testConfig(), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !s.WaitSessions(ctx) {
		t.Fatalf("WaitSessions should return true with no live sessions")
	}
}
