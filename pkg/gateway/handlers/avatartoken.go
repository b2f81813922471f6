package handlers

import (
	"net/http"
	"strings"

	"github.com/coachsim/pulse/pkg/avatar"
	"github.com/coachsim/pulse/pkg/core"
	"github.com/coachsim/pulse/pkg/core/persona"
)

// AvatarTokenHandler issues the client-side avatar credentials: a speech
// token, the ICE relay, and the persona's render configuration.
type AvatarTokenHandler struct {
	Deps
}

func (h AvatarTokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		Persona   string `json:"persona"`
		SessionID string `json:"sessionId"`
	}
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	// An unknown or absent persona falls back to the default profile; a
	// session id, when given, wins over the persona field.
	profile := persona.Lookup(persona.Type(strings.TrimSpace(req.Persona)))
	if id := strings.TrimSpace(req.SessionID); id != "" {
		s, err := h.Orchestrator.Get(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		profile = persona.Lookup(persona.Type(s.PersonaType))
	}

	if h.Tokens == nil {
		writeError(w, r, core.NewAPIError("avatar tokens not configured"))
		return
	}
	creds, err := h.Tokens.Fetch(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Token        string             `json:"token"`
		Region       string             `json:"region"`
		ICEServers   []avatar.ICEServer `json:"iceServers,omitempty"`
		ExpiresIn    int                `json:"expiresIn"`
		AvatarConfig avatarConfig       `json:"avatarConfig"`
	}{
		Token:        creds.Token,
		Region:       creds.Region,
		ICEServers:   creds.ICEServers,
		ExpiresIn:    int(creds.ExpiresIn.Seconds()),
		AvatarConfig: avatarConfigFor(profile),
	})
}
