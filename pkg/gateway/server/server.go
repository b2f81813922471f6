// Package server wires the gateway: handlers, middleware chain, and the
// drain hooks used during graceful shutdown.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coachsim/pulse/pkg/avatar"
	"github.com/coachsim/pulse/pkg/core/live"
	"github.com/coachsim/pulse/pkg/core/persona"
	"github.com/coachsim/pulse/pkg/core/providers/openai"
	"github.com/coachsim/pulse/pkg/core/pulse"
	"github.com/coachsim/pulse/pkg/core/session"
	"github.com/coachsim/pulse/pkg/core/trust"
	"github.com/coachsim/pulse/pkg/core/voice/stt"
	"github.com/coachsim/pulse/pkg/core/voice/tts"
	"github.com/coachsim/pulse/pkg/gateway/config"
	"github.com/coachsim/pulse/pkg/gateway/handlers"
	"github.com/coachsim/pulse/pkg/gateway/metrics"
	"github.com/coachsim/pulse/pkg/gateway/mw"
	"github.com/coachsim/pulse/pkg/gateway/ratelimit"
	"github.com/coachsim/pulse/pkg/gateway/sessions"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	store    *sessions.Store
	orch     *session.Orchestrator
	draining atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	chat := openai.New(cfg.OpenAIAPIKey,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithModel(cfg.ChatModel),
		openai.WithHTTPClient(httpClient),
	)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
		}),
		metrics: metrics.New(),
		store:   sessions.NewStore(cfg.MaxSessionsPerPrincipal, logger),
		orch: session.New(session.Deps{
			Analyzer:  pulse.NewAnalyzer(pulse.WithModel(chat), pulse.WithLogger(logger)),
			Scorer:    trust.NewEngine(logger),
			Responder: persona.NewResponder(chat, persona.WithResponderLogger(logger)),
			Logger:    logger,
		}),
	}

	var tokens avatar.TokenSource
	if cfg.SpeechKey != "" {
		tokens = avatar.NewSpeechTokenSource(cfg.SpeechKey, cfg.SpeechRegion,
			avatar.WithTokenHTTPClient(httpClient))
	}

	deps := handlers.Deps{
		Config:       cfg,
		Logger:       logger,
		Metrics:      s.metrics,
		Orchestrator: s.orch,
		Store:        s.store,
		STT:          stt.NewWhisperWithClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, httpClient),
		TTS:          tts.NewOpenAIWithClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, httpClient),
		Tokens:       tokens,
		NewCapture: func() *live.Manager {
			return live.NewManager(
				live.WithSilenceWindow(cfg.SilenceCommitDuration),
				live.WithManagerLogger(logger),
			)
		},
	}
	if tokens != nil {
		deps.NewAvatar = func(profile persona.Profile) *avatar.Manager {
			return avatar.NewManager(tokens, profile, avatar.WithLogger(logger))
		}
	}

	s.routes(deps)
	return s
}

func (s *Server) routes(deps handlers.Deps) {
	s.mux.Handle("/", handlers.NotFoundHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:   s.cfg,
		Store:    s.store,
		Draining: &s.draining,
	})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/session/start", handlers.StartHandler{Deps: deps})
	s.mux.Handle("/session/complete", handlers.CompleteHandler{Deps: deps})
	s.mux.Handle("/audio/chunk", handlers.AudioChunkHandler{Deps: deps})
	s.mux.Handle("/avatar/token", handlers.AvatarTokenHandler{Deps: deps})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness so load balancers stop sending traffic.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

// WarnSessionsDraining logs how many sessions shutdown is waiting on.
func (s *Server) WarnSessionsDraining() {
	if n := s.store.Len(); n > 0 {
		s.logger.Warn("waiting for live sessions to finish", "sessions", n)
	}
}

// WaitSessions blocks until all live sessions finish or ctx expires.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.store.Wait(ctx)
}

// CancelSessions force-closes whatever is still live.
func (s *Server) CancelSessions() {
	s.store.CancelAll()
}
