package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coachsim/pulse/pkg/avatar"
	"github.com/coachsim/pulse/pkg/core"
	"github.com/coachsim/pulse/pkg/core/persona"
	"github.com/coachsim/pulse/pkg/core/session"
	"github.com/coachsim/pulse/pkg/gateway/auth"
	"github.com/coachsim/pulse/pkg/gateway/sessions"
)

// avatarConnectTimeout bounds the best-effort background connect kicked
// off at session start.
const avatarConnectTimeout = 30 * time.Second

type personaInfo struct {
	Type        string `json:"type"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	IntroLine   string `json:"introLine"`
}

type avatarConfig struct {
	Character  string `json:"character"`
	Style      string `json:"style"`
	Voice      string `json:"voice"`
	VoiceStyle string `json:"voiceStyle"`
}

func avatarConfigFor(profile persona.Profile) avatarConfig {
	return avatarConfig{
		Character:  profile.Character,
		Style:      profile.Style,
		Voice:      profile.Voice,
		VoiceStyle: profile.VoiceStyle,
	}
}

// StartHandler creates a session: orchestrator state, capture pipeline,
// and a best-effort avatar connection.
type StartHandler struct {
	Deps
}

func (h StartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		PersonaType string `json:"personaType"`
	}
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	principal := "anonymous"
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		principal = p.APIKey
	}

	s, profile := h.Orchestrator.Start(persona.Type(strings.TrimSpace(req.PersonaType)))

	capture := h.NewCapture()
	captureCtx, cancel := context.WithCancel(context.Background())
	capture.Start(captureCtx)

	var av *avatar.Manager
	if h.NewAvatar != nil {
		av = h.NewAvatar(profile)
		if av != nil {
			av.OnSpeaking = capture.SetPersonaSpeaking
		}
	}

	rt := sessions.NewRuntime(s.ID, principal, av, capture, cancel)
	if err := h.Store.Register(rt); err != nil {
		rt.Close()
		if _, cerr := h.Orchestrator.Complete(s.ID); cerr != nil {
			h.Logger.Warn("discard over-cap session", "session", s.ID, "error", cerr)
		}
		writeError(w, r, err)
		return
	}

	if av != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), avatarConnectTimeout)
			defer cancel()
			if err := av.Connect(ctx); err != nil {
				h.Logger.Warn("avatar connect failed, session continues without avatar",
					"session", s.ID, "error", err)
			}
		}()
	}

	if h.Metrics != nil {
		h.Metrics.SessionsTotal.Inc()
		h.Metrics.ActiveSessions.Inc()
	}

	writeJSON(w, http.StatusOK, struct {
		SessionID    string       `json:"sessionId"`
		Persona      personaInfo  `json:"persona"`
		AvatarConfig avatarConfig `json:"avatarConfig"`
	}{
		SessionID: s.ID,
		Persona: personaInfo{
			Type:        string(profile.Type),
			DisplayName: profile.DisplayName,
			Description: profile.Description,
			IntroLine:   profile.IntroLine,
		},
		AvatarConfig: avatarConfigFor(profile),
	})
}

// CompleteHandler finalizes a session and returns the scorecard.
type CompleteHandler struct {
	Deps
}

func (h CompleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("sessionId is required", "sessionId"))
		return
	}

	summary, err := h.Orchestrator.Complete(req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt, ok := h.Store.Remove(req.SessionID); ok {
		rt.Close()
	}

	if h.Metrics != nil {
		h.Metrics.ActiveSessions.Dec()
		h.Metrics.Outcomes.WithLabelValues(string(summary.Details.SaleOutcome)).Inc()
	}

	writeJSON(w, http.StatusOK, struct {
		Summary *session.Summary `json:"summary"`
	}{Summary: summary})
}
