/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP API requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bragi",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP API request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bragi",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP API request duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bragi",
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "In-flight HTTP API requests.",
	})

	// APIWebSocketConnections tracks connected event stream clients.
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bragi",
		Subsystem: "api",
		Name:      "websocket_connections",
		Help:      "Connected WebSocket event clients.",
	})

	// EngineSessionsActive tracks live playback sessions across all zones.
	EngineSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bragi",
		Subsystem: "engine",
		Name:      "sessions_active",
		Help:      "Active audio pipeline sessions.",
	})

	// EngineChunksTotal counts encoded audio chunks emitted per stream profile.
	EngineChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bragi",
		Subsystem: "engine",
		Name:      "chunks_total",
		Help:      "Encoded audio chunks emitted.",
	}, []string{"profile"})

	// EngineSubscriberDrops counts chunks dropped because a subscriber lagged.
	EngineSubscriberDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bragi",
		Subsystem: "engine",
		Name:      "subscriber_drops_total",
		Help:      "Chunks dropped on slow stream subscribers.",
	}, []string{"profile"})

	// EngineHandoffDuration observes time from pipeline start to first encoded chunk.
	EngineHandoffDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bragi",
		Subsystem: "engine",
		Name:      "handoff_duration_seconds",
		Help:      "Time until a new pipeline produced its first chunk.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
	})

	// OutputCommandsTotal counts commands dispatched to output drivers.
	OutputCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bragi",
		Subsystem: "output",
		Name:      "commands_total",
		Help:      "Commands dispatched to output drivers.",
	}, []string{"driver", "command"})

	// OutputCommandErrors counts failed output driver commands.
	OutputCommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bragi",
		Subsystem: "output",
		Name:      "command_errors_total",
		Help:      "Failed output driver commands.",
	}, []string{"driver"})

	// OutputsConnected tracks connected devices per driver family.
	OutputsConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bragi",
		Subsystem: "output",
		Name:      "connected",
		Help:      "Connected output devices.",
	}, []string{"driver"})

	// ZoneCommandsTotal counts playback commands accepted per command name.
	ZoneCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bragi",
		Subsystem: "zone",
		Name:      "commands_total",
		Help:      "Playback commands processed.",
	}, []string{"command"})

	// GroupsActive tracks currently tracked playback groups.
	GroupsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bragi",
		Subsystem: "group",
		Name:      "active",
		Help:      "Active playback groups.",
	})

	// DatabaseQueryDuration observes database operation latency by operation and table.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bragi",
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Database operation duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts database operation errors.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bragi",
		Subsystem: "db",
		Name:      "errors_total",
		Help:      "Database operation errors.",
	}, []string{"operation", "kind"})

	// DatabaseConnectionsActive tracks open database connections.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bragi",
		Subsystem: "db",
		Name:      "connections_active",
		Help:      "Open database connections.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
