package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coachsim/pulse/pkg/core"
	"github.com/coachsim/pulse/pkg/core/live"
	"github.com/coachsim/pulse/pkg/core/types"
	"github.com/coachsim/pulse/pkg/core/voice/stt"
	"github.com/coachsim/pulse/pkg/core/voice/tts"
	"github.com/coachsim/pulse/pkg/gateway/sessions"
)

type saleOutcomeInfo struct {
	Status           string   `json:"status"`
	TrustScore       int      `json:"trustScore"`
	MisstepsThisTurn []string `json:"misstepsThisTurn"`
	TotalMissteps    int      `json:"totalMissteps"`
	Feedback         string   `json:"feedback,omitempty"`
}

type chunkResponse struct {
	SessionID         string           `json:"sessionId"`
	PartialTranscript string           `json:"partialTranscript"`
	Message           string           `json:"message,omitempty"`
	AIResponse        string           `json:"aiResponse,omitempty"`
	AudioBase64       string           `json:"audioBase64,omitempty"`
	AvatarState       string           `json:"avatarState"`
	Emotion           string           `json:"emotion,omitempty"`
	PulseStage        int              `json:"pulseStage,omitempty"`
	PulseStageName    string           `json:"pulseStageName,omitempty"`
	SaleOutcome       *saleOutcomeInfo `json:"saleOutcome,omitempty"`
	AvatarUnavailable bool             `json:"avatarUnavailable,omitempty"`
}

// AudioChunkHandler runs one audio chunk through the turn pipeline:
// transcribe, debounce through capture, score finalized utterances,
// respond, and synthesize playback audio alongside the avatar.
type AudioChunkHandler struct {
	Deps
}

func (h AudioChunkHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req struct {
		SessionID  string `json:"sessionId"`
		AudioChunk string `json:"audioChunk"`
		Commit     bool   `json:"commit"`
	}
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("sessionId is required", "sessionId"))
		return
	}

	rt, ok := h.Store.Get(req.SessionID)
	if !ok {
		writeError(w, r, core.NewNotFoundError("session not found: "+req.SessionID))
		return
	}

	audio, err := base64.StdEncoding.DecodeString(req.AudioChunk)
	if err != nil {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("audioChunk must be base64", "audioChunk"))
		return
	}
	if int64(len(audio)) > h.Config.MaxAudioChunkBytes {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("audioChunk too large", "audioChunk"))
		return
	}

	transcript := h.transcribe(r.Context(), audio)
	if transcript != "" {
		rt.Capture.Push(transcript, false)
	}
	if req.Commit {
		rt.Capture.Flush()
	}

	utterances := drainUtterances(rt.Capture)
	if len(utterances) == 0 {
		resp := chunkResponse{
			SessionID:         req.SessionID,
			PartialTranscript: rt.Capture.Partial(),
			AvatarState:       avatarState(rt),
		}
		if transcript == "" && resp.PartialTranscript == "" {
			resp.Message = "No speech detected in audio chunk"
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// Silence-finalized utterances queued since the last chunk are
	// drained here along with the current one, oldest first.
	var (
		last     *types.TurnResult
		lastText string
	)
	for _, u := range utterances {
		ctx, cancel := h.turnContext(r.Context())
		start := time.Now()
		result, err := h.Orchestrator.SubmitUtterance(ctx, req.SessionID, u.Text, u.BargeIn)
		cancel()
		if err != nil {
			writeError(w, r, err)
			return
		}
		if h.Metrics != nil {
			h.Metrics.TurnsTotal.Inc()
			h.Metrics.TurnLatency.Observe(time.Since(start).Seconds())
		}
		last = result
		lastText = u.Text
	}

	audioB64, avatarDown := h.playback(r.Context(), rt, last.Response, last.Emotion)
	if avatarDown {
		last.AvatarUnavailable = true
	}

	writeJSON(w, http.StatusOK, chunkResponse{
		SessionID:         req.SessionID,
		PartialTranscript: lastText,
		AIResponse:        last.Response,
		AudioBase64:       audioB64,
		AvatarState:       avatarState(rt),
		Emotion:           string(last.Emotion),
		PulseStage:        int(last.Stage),
		PulseStageName:    last.StageName,
		SaleOutcome: &saleOutcomeInfo{
			Status:           string(last.SaleOutcome),
			TrustScore:       last.TrustScore,
			MisstepsThisTurn: last.MisstepsThisTurn,
			TotalMissteps:    last.TotalMissteps,
			Feedback:         last.Feedback,
		},
		AvatarUnavailable: last.AvatarUnavailable,
	})
}

func (h AudioChunkHandler) transcribe(ctx context.Context, audio []byte) string {
	if len(audio) == 0 || h.STT == nil {
		return ""
	}
	tr, err := h.STT.Transcribe(ctx, bytes.NewReader(audio), stt.TranscribeOptions{})
	if err != nil {
		// Degrade to silence rather than failing the chunk; the trainee
		// just re-speaks.
		if h.Metrics != nil {
			h.Metrics.ProviderErrors.WithLabelValues(h.STT.Name()).Inc()
		}
		h.Logger.Warn("transcription failed", "provider", h.STT.Name(), "error", err)
		return ""
	}
	return strings.TrimSpace(tr.Text)
}

// playback runs avatar speech and the TTS fallback in parallel. It
// returns the synthesized audio and whether the avatar path is down.
func (h AudioChunkHandler) playback(ctx context.Context, rt *sessions.Runtime, text string, emotion types.Emotion) (string, bool) {
	if text == "" {
		return "", rt.Avatar == nil || !rt.Avatar.Available()
	}

	var (
		audioB64   string
		avatarDown bool
	)
	g, gctx := errgroup.WithContext(ctx)

	if h.TTS != nil {
		g.Go(func() error {
			syn, err := h.TTS.Synthesize(gctx, text, tts.SynthesizeOptions{Voice: h.Config.TTSVoice})
			if err != nil {
				if h.Metrics != nil {
					h.Metrics.ProviderErrors.WithLabelValues(h.TTS.Name()).Inc()
				}
				h.Logger.Warn("speech synthesis failed", "provider", h.TTS.Name(), "error", err)
				return nil
			}
			audioB64 = base64.StdEncoding.EncodeToString(syn.Audio)
			return nil
		})
	}

	if rt.Avatar != nil {
		g.Go(func() error {
			if err := rt.Avatar.Speak(gctx, text, emotion); err != nil {
				h.Logger.Warn("avatar speak failed", "error", err)
			}
			avatarDown = !rt.Avatar.Available()
			return nil
		})
	} else {
		avatarDown = true
	}

	_ = g.Wait()
	return audioB64, avatarDown
}

func drainUtterances(capture *live.Manager) []live.Utterance {
	var out []live.Utterance
	for {
		select {
		case u := <-capture.Utterances():
			out = append(out, u)
		default:
			return out
		}
	}
}

func avatarState(rt *sessions.Runtime) string {
	if rt.Avatar == nil {
		return "idle"
	}
	return string(rt.Avatar.State())
}
