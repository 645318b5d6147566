package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the number of live websocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskflow_active_connections",
			Help: "Number of live websocket connections",
		},
	)

	// OnlineUsers tracks users holding at least one live connection.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskflow_online_users",
			Help: "Number of users with at least one live connection",
		},
	)

	// EnvelopesDelivered counts envelopes handed to connection send queues, by type.
	EnvelopesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_envelopes_delivered_total",
			Help: "Total envelopes enqueued for delivery",
		},
		[]string{"type"},
	)

	// EnvelopesDropped counts envelopes dropped due to slow or dead connections.
	EnvelopesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskflow_envelopes_dropped_total",
			Help: "Total envelopes dropped because a connection queue was full",
		},
	)

	// StatusRecomputes counts project derived-state recomputations by result.
	StatusRecomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_status_recomputes_total",
			Help: "Total project status recomputations",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskflow_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
