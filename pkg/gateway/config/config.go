// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Upstream providers.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ChatModel     string
	TTSVoice      string

	// Azure Speech (avatar tokens + relay).
	SpeechKey    string
	SpeechRegion string

	// Session behavior.
	MaxSessionsPerPrincipal int
	SilenceCommitDuration   time.Duration
	TurnTimeout             time.Duration
	MaxAudioChunkBytes      int64

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("PULSE_ADDR", ":8080"),
		AuthMode:                   AuthMode(envOr("PULSE_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                    make(map[string]struct{}),
		MaxBodyBytes:               envInt64Or("PULSE_MAX_BODY_BYTES", 8<<20), // 8 MiB
		CORSAllowedOrigins:         make(map[string]struct{}),
		OpenAIAPIKey:               envOr("PULSE_OPENAI_API_KEY", ""),
		OpenAIBaseURL:              envOr("PULSE_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ChatModel:                  envOr("PULSE_CHAT_MODEL", "gpt-4o-mini"),
		TTSVoice:                   envOr("PULSE_TTS_VOICE", "alloy"),
		SpeechKey:                  envOr("PULSE_SPEECH_KEY", ""),
		SpeechRegion:               envOr("PULSE_SPEECH_REGION", "eastus2"),
		MaxSessionsPerPrincipal:    envIntOr("PULSE_MAX_SESSIONS_PER_PRINCIPAL", 2),
		SilenceCommitDuration:      envDurationOr("PULSE_SILENCE_COMMIT_MS", 1500*time.Millisecond),
		TurnTimeout:                envDurationOr("PULSE_TURN_TIMEOUT", 30*time.Second),
		MaxAudioChunkBytes:         envInt64Or("PULSE_MAX_AUDIO_CHUNK_BYTES", 4<<20), // 4 MiB decoded
		LimitRPS:                   envFloat64Or("PULSE_RATE_LIMIT_RPS", 2.0),
		LimitBurst:                 envIntOr("PULSE_RATE_LIMIT_BURST", 4),
		LimitMaxConcurrentRequests: envIntOr("PULSE_MAX_CONCURRENT_REQUESTS", 20),
		ReadHeaderTimeout:          envDurationOr("PULSE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("PULSE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:        envDurationOr("PULSE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("PULSE_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("PULSE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("PULSE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("PULSE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.MaxAudioChunkBytes <= 0 {
		return Config{}, fmt.Errorf("PULSE_MAX_AUDIO_CHUNK_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
		return Config{}, fmt.Errorf("PULSE_OPENAI_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.ChatModel) == "" {
		return Config{}, fmt.Errorf("PULSE_CHAT_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.SpeechRegion) == "" {
		return Config{}, fmt.Errorf("PULSE_SPEECH_REGION must not be empty")
	}
	if cfg.MaxSessionsPerPrincipal <= 0 {
		return Config{}, fmt.Errorf("PULSE_MAX_SESSIONS_PER_PRINCIPAL must be > 0")
	}
	if cfg.SilenceCommitDuration <= 0 {
		return Config{}, fmt.Errorf("PULSE_SILENCE_COMMIT_MS must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("PULSE_TURN_TIMEOUT must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("PULSE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("PULSE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("PULSE_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PULSE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("PULSE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("PULSE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("PULSE_API_KEYS must be set when PULSE_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
