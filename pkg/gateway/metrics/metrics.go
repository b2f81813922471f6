// Package metrics exposes the gateway's Prometheus instrumentation on a
// dedicated registry so /metrics carries only what the gateway emits.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions prometheus.Gauge
	SessionsTotal  prometheus.Counter
	TurnsTotal     prometheus.Counter
	Outcomes       *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	TurnLatency    prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_active_sessions",
			Help: "Training sessions currently live.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_sessions_started_total",
			Help: "Training sessions started.",
		}),
		TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_turns_total",
			Help: "Trainee turns processed.",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_session_outcomes_total",
			Help: "Final sale outcomes at session completion.",
		}, []string{"outcome"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_provider_errors_total",
			Help: "Upstream provider failures by provider name.",
		}, []string{"provider"}),
		TurnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_turn_duration_seconds",
			Help:    "Wall time to process one trainee turn.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	reg.MustRegister(
		m.ActiveSessions,
		m.SessionsTotal,
		m.TurnsTotal,
		m.Outcomes,
		m.ProviderErrors,
		m.TurnLatency,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
