// Package metrics holds the prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Refresh cycle metrics. trigger is initial, manual or auto.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sflogs_refresh_total",
			Help: "Refresh cycles by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	RefreshSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sflogs_refresh_skipped_total",
			Help: "Refresh requests dropped because a cycle was already in flight",
		},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sflogs_refresh_duration_seconds",
			Help:    "Duration of refresh cycles including the remote query",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	AuthoritativeLogs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sflogs_authoritative_logs",
			Help: "Number of logs in the authoritative set",
		},
	)

	FilteredLogs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sflogs_filtered_logs",
			Help: "Number of logs in the filtered view",
		},
	)

	// Remote API metrics. op is query, body, identity or delete.
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sflogs_remote_requests_total",
			Help: "Remote Tooling API requests by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sflogs_remote_request_duration_seconds",
			Help:    "Remote Tooling API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sflogs_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	LogsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sflogs_logs_deleted_total",
			Help: "Remote logs deleted through delete-all",
		},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sflogs_stream_clients",
			Help: "Connected websocket stream clients",
		},
	)
)
