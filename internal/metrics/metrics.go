// Package metrics exposes Prometheus metrics for the scheduler engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for pacer.
type Metrics struct {
	MessagesSentTotal    *prometheus.CounterVec
	MessagesFailedTotal  *prometheus.CounterVec
	SendsDeferredTotal   *prometheus.CounterVec
	CampaignsPausedTotal *prometheus.CounterVec
	CampaignsRunning     prometheus.Gauge
	StepDurationSeconds  prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_messages_sent_total",
				Help: "Total number of successfully sent messages",
			},
			[]string{"channel"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_messages_failed_total",
				Help: "Total number of failed send attempts",
			},
			[]string{"channel"},
		),
		SendsDeferredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_sends_deferred_total",
				Help: "Total number of sends deferred by rate or warm-up limits",
			},
			[]string{"reason"},
		),
		CampaignsPausedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_campaigns_paused_total",
				Help: "Total number of automatic campaign pauses",
			},
			[]string{"reason"},
		),
		CampaignsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_campaigns_running",
				Help: "Number of campaigns currently running",
			},
		),
		StepDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pacer_engine_step_duration_seconds",
				Help:    "Duration of scheduler engine steps",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.SendsDeferredTotal,
		m.CampaignsPausedTotal,
		m.CampaignsRunning,
		m.StepDurationSeconds,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
