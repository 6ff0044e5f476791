// Package metrics provides Prometheus metrics for the chat and funding core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the backend.
type Metrics struct {
	RecordsTotal        *prometheus.CounterVec
	PostsTotal          *prometheus.CounterVec
	VotesTotal          *prometheus.CounterVec
	ProjectsFrozenTotal prometheus.Counter
	FundCallbacksTotal  *prometheus.CounterVec
	OpenChannels        prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundchat_records_total",
				Help: "Channel records delivered to subscribers by kind and result.",
			},
			[]string{"kind", "result"},
		),
		PostsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundchat_posts_total",
				Help: "Chat post attempts by result.",
			},
			[]string{"result"},
		),
		VotesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundchat_freeze_votes_total",
				Help: "Freeze vote casts by result.",
			},
			[]string{"result"},
		),
		ProjectsFrozenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fundchat_projects_frozen_total",
				Help: "Projects that reached the freeze quorum.",
			},
		),
		FundCallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundchat_fund_callbacks_total",
				Help: "Payment rail callbacks by outcome.",
			},
			[]string{"outcome"},
		),
		OpenChannels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fundchat_open_channels",
				Help: "Project channels currently subscribed.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.RecordsTotal)
	reg.MustRegister(m.PostsTotal)
	reg.MustRegister(m.VotesTotal)
	reg.MustRegister(m.ProjectsFrozenTotal)
	reg.MustRegister(m.FundCallbacksTotal)
	reg.MustRegister(m.OpenChannels)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The Record* helpers are nil-safe so components can run without metrics in tests.

// RecordRecord counts a delivered channel record.
func (m *Metrics) RecordRecord(kind, result string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(kind, result).Inc()
}

// RecordPost counts a post attempt.
func (m *Metrics) RecordPost(result string) {
	if m == nil {
		return
	}
	m.PostsTotal.WithLabelValues(result).Inc()
}

// RecordVote counts a vote cast.
func (m *Metrics) RecordVote(result string) {
	if m == nil {
		return
	}
	m.VotesTotal.WithLabelValues(result).Inc()
}

// RecordFrozen counts a quorum transition.
func (m *Metrics) RecordFrozen() {
	if m == nil {
		return
	}
	m.ProjectsFrozenTotal.Inc()
}

// RecordFundCallback counts a payment rail callback.
func (m *Metrics) RecordFundCallback(outcome string) {
	if m == nil {
		return
	}
	m.FundCallbacksTotal.WithLabelValues(outcome).Inc()
}

// ChannelOpened increments the open channel gauge.
func (m *Metrics) ChannelOpened() {
	if m == nil {
		return
	}
	m.OpenChannels.Inc()
}

// ChannelClosed decrements the open channel gauge.
func (m *Metrics) ChannelClosed() {
	if m == nil {
		return
	}
	m.OpenChannels.Dec()
}
