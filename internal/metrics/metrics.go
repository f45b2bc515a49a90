// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "broker_gateway"

var (
	VenueRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "requests_total",
			Help:      "Total venue requests by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	VenueRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "request_duration_seconds",
			Help:      "Duration of venue requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	OrderPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "order_polls_total",
			Help:      "Order status polls by outcome",
		},
		[]string{"outcome"},
	)

	StaleDiscards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "stale_discards_total",
			Help:      "Responses dropped because a newer one was already applied",
		},
		[]string{"entity"},
	)

	TrackedOrders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "tracked_orders",
			Help:      "Non-terminal orders currently tracked across sessions",
		},
	)

	Placements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "brokerage",
			Name:      "placements_total",
			Help:      "Order placement attempts by outcome",
		},
		[]string{"outcome"},
	)

	Cancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "brokerage",
			Name:      "cancellations_total",
			Help:      "Order cancellation attempts by outcome",
		},
		[]string{"outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "brokerage",
			Name:      "active_sessions",
			Help:      "Open user sessions",
		},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Refresh loop runs by loop, trigger and outcome",
		},
		[]string{"loop", "trigger", "outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeError    = "error"
	OutcomeStale    = "stale"
	OutcomeRejected = "rejected"
)
