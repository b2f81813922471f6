// Package handlers implements the gateway's HTTP surface.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/coachsim/pulse/pkg/avatar"
	"github.com/coachsim/pulse/pkg/core"
	"github.com/coachsim/pulse/pkg/core/live"
	"github.com/coachsim/pulse/pkg/core/persona"
	"github.com/coachsim/pulse/pkg/core/session"
	"github.com/coachsim/pulse/pkg/core/voice/stt"
	"github.com/coachsim/pulse/pkg/core/voice/tts"
	"github.com/coachsim/pulse/pkg/gateway/apierror"
	"github.com/coachsim/pulse/pkg/gateway/config"
	"github.com/coachsim/pulse/pkg/gateway/metrics"
	"github.com/coachsim/pulse/pkg/gateway/mw"
	"github.com/coachsim/pulse/pkg/gateway/sessions"
)

// Deps bundles the collaborators the handlers share.
type Deps struct {
	Config       config.Config
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Orchestrator *session.Orchestrator
	Store        *sessions.Store
	STT          stt.Provider
	TTS          tts.Provider
	Tokens       avatar.TokenSource

	// NewAvatar builds the per-session avatar manager; nil disables the
	// avatar path (audio-only sessions).
	NewAvatar func(profile persona.Profile) *avatar.Manager
	// NewCapture builds the per-session speech capture pipeline.
	NewCapture func() *live.Manager
}

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config   config.Config
	Store    *sessions.Store
	Draining *atomic.Bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		AuthMode       string   `json:"authMode"`
		ActiveSessions int      `json:"activeSessions"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	if h.Draining != nil && h.Draining.Load() {
		issues = append(issues, "draining")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}

	active := 0
	if h.Store != nil {
		active = h.Store.Len()
	}

	status := http.StatusOK
	if len(issues) > 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{
		OK:             len(issues) == 0,
		AuthMode:       string(h.Config.AuthMode),
		ActiveSessions: active,
		Issues:         issues,
	})
}

// NotFoundHandler is the mux fallback; it keeps unknown routes on the
// JSON error envelope.
type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, core.NewNotFoundError("no such route: "+r.URL.Path))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apiErr, status := apierror.FromError(err, reqID)
	writeJSON(w, status, apierror.Envelope{Error: apiErr})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	defer func() { _ = body.Close() }()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return core.NewInvalidRequestError("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return core.NewInvalidRequestError("request body must not be empty")
		}
		return core.NewInvalidRequestError("malformed json: " + err.Error())
	}
	return nil
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost {
		return true
	}
	reqID, _ := mw.RequestIDFrom(r.Context())
	w.Header().Set("Allow", http.MethodPost)
	writeJSON(w, http.StatusMethodNotAllowed, apierror.Envelope{Error: &core.Error{
		Type:      core.ErrInvalidRequest,
		Message:   "method not allowed",
		RequestID: reqID,
	}})
	return false
}

// turnContext bounds one trainee turn end to end.
func (d Deps) turnContext(parent context.Context) (context.Context, context.CancelFunc) {
	if d.Config.TurnTimeout > 0 {
		return context.WithTimeout(parent, d.Config.TurnTimeout)
	}
	return context.WithCancel(parent)
}
