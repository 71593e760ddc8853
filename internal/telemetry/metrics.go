package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts telemetry events by name and resolved match outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dps_reconciliation_events_total",
			Help: "Reconciliation telemetry events by event name and match outcome",
		},
		[]string{"event", "outcome"},
	)

	// UnmatchedRows is the unmatched row count seen by the latest report.
	UnmatchedRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dps_reconciliation_unmatched_rows",
			Help: "Unmatched ledger rows found by the most recent report",
		},
	)

	// InboundMessages counts transport messages by event type and disposition.
	InboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dps_reconciliation_inbound_messages_total",
			Help: "Inbound messages by event type and result (enqueued, dropped, rejected)",
		},
		[]string{"event_type", "result"},
	)

	// HousekeepingDuration observes purge, batch and report runs.
	HousekeepingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dps_reconciliation_housekeeping_duration_seconds",
			Help:    "Duration of housekeeping operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Circuit breaker metrics for outbound API clients.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dps_reconciliation_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dps_reconciliation_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker by result (success, failure, rejected)",
		},
		[]string{"name", "result"},
	)
)
