// Package metrics defines and registers the gateway's custom Prometheus
// metrics. It is the single source of truth for metric names, labels and help
// strings. Metrics register with the default registry at package init via
// promauto, so importing the package is enough.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fleet_gateway"

// ── Connection metrics ────────────────────────────────────────────────────────

// ConnectionsActive tracks authenticated sessions currently held by actors.
var ConnectionsActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Number of authenticated worker sessions.",
	},
)

// ActorsLive tracks connection actors present in the registry, authenticated
// or not.
var ActorsLive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "actors_live",
		Help:      "Number of connection actors in the registry.",
	},
)

// AuthAttemptsTotal counts handshakes by outcome.
// Label:
//   - result: "ok" or the protocol error code (e.g. "invalid_token", "already_connected")
var AuthAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_attempts_total",
		Help:      "Total number of auth handshakes, labelled by result.",
	},
	[]string{"result"},
)

// MessageHandleDuration measures how long an actor takes to handle one
// authenticated message, including store writes.
// Label:
//   - type: the inbound message type
var MessageHandleDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "message_handle_duration_seconds",
		Help:      "Duration of authenticated message handling inside the actor.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"type"},
)

// ── Rotation metrics ──────────────────────────────────────────────────────────

// TokenRotationsTotal counts rotation protocol events.
// Label:
//   - event: "issued", "renewed", "failed" or "ack_timeout"
var TokenRotationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_rotations_total",
		Help:      "Total number of token rotation events, labelled by event.",
	},
	[]string{"event"},
)

// ── Telemetry metrics ─────────────────────────────────────────────────────────

// TelemetrySamplesTotal counts samples by outcome.
// Label:
//   - result: "accepted", "rejected" or "store_error"
var TelemetrySamplesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "telemetry_samples_total",
		Help:      "Total number of telemetry samples, labelled by result.",
	},
	[]string{"result"},
)

// ── Reaper metrics ────────────────────────────────────────────────────────────

var ReaperRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaper_runs_total",
		Help:      "Total number of stale-connection sweeps, labelled by result (ok/error).",
	},
	[]string{"result"},
)

var ReaperReapedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaper_reaped_total",
		Help:      "Total number of stale connection flags cleared.",
	},
)

// ── Relay metrics ─────────────────────────────────────────────────────────────

// RelayCommandsTotal counts commands received over the Redis relay.
// Label:
//   - result: "delivered", "not_connected", "invalid" or "error"
var RelayCommandsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_commands_total",
		Help:      "Total number of relayed worker commands, labelled by result.",
	},
	[]string{"result"},
)
