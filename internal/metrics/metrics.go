// Package metrics provides Prometheus instrumentation for the campuslink
// match server. It exposes gauges for connection, queue, and session counts,
// and counters for relay and reputation throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campuslink_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// QueueSize tracks the number of connections waiting per mode.
	QueueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "campuslink_queue_size",
		Help: "Current number of connections in the waiting queue",
	}, []string{"mode"})

	// ActiveSessions tracks the current number of active sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campuslink_active_sessions",
		Help: "Current number of active sessions",
	})

	// PairingsTotal counts sessions formed, labeled by mode.
	PairingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campuslink_pairings_total",
		Help: "Total number of sessions formed",
	}, []string{"mode"})

	// RelayedTotal counts payloads relayed between peers, labeled by kind:
	// "message", "typing", "offer", "answer", "ice".
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campuslink_relayed_total",
		Help: "Total number of payloads relayed between session peers",
	}, []string{"kind"})

	// DroppedTotal counts relay payloads silently dropped, labeled by reason:
	// "unknown_session", "not_participant".
	DroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campuslink_dropped_total",
		Help: "Total number of relay payloads dropped as stale",
	}, []string{"reason"})

	// ReactionsTotal counts reputation reactions applied, labeled by kind.
	ReactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campuslink_reactions_total",
		Help: "Total number of reputation reactions applied",
	}, []string{"kind"})

	// BansTotal counts emails that crossed a ban threshold.
	BansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campuslink_bans_total",
		Help: "Total number of emails banned",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		QueueSize,
		ActiveSessions,
		PairingsTotal,
		RelayedTotal,
		DroppedTotal,
		ReactionsTotal,
		BansTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
