// Copyright 2024-2026 Aiku AI

package adapter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "slack_adapter"

// Metrics holds the adapter's collectors on a private registry so several
// adapters (and tests) can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	EventsReceived  *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	DuplicateEvents prometheus.Counter
	CacheLookups    *prometheus.CounterVec
	MessagesSent    *prometheus.CounterVec
	RateLimited     prometheus.Counter
	Reconnects      prometheus.Counter
	ConnectionState *prometheus.GaugeVec
	UsersSynced     prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_received_total",
			Help:      "Events API deliveries received, by event type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Deliveries that produced no message, by reason.",
		}, []string{"reason"}),
		DuplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "duplicate_events_total",
			Help:      "Redelivered events suppressed by the deduplicator.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_lookups_total",
			Help:      "Entity cache lookups, by cache and result.",
		}, []string{"cache", "result"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Outbound chat.postMessage calls, by result.",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Web API calls rejected with a rate limit.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Socket reconnect attempts after an unexpected close.",
		}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connection_state",
			Help:      "1 for the current socket state, 0 for the others.",
		}, []string{"state"}),
		UsersSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "users_synced_total",
			Help:      "Users upserted into the brain by user sync.",
		}),
	}
	m.Registry.MustRegister(
		m.EventsReceived,
		m.EventsDropped,
		m.DuplicateEvents,
		m.CacheLookups,
		m.MessagesSent,
		m.RateLimited,
		m.Reconnects,
		m.ConnectionState,
		m.UsersSynced,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) setConnectionState(state ConnectionState) {
	for _, s := range []ConnectionState{StateConnecting, StateOpen, StateClosing, StateClosed} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s.String()).Set(v)
	}
}
