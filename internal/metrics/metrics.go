// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "unipool"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// PoolTransitions counts committed pool status changes by target status.
	PoolTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "pool_transitions_total", Help: "Committed pool transitions by target status"},
		[]string{"status"},
	)
	// BookingTransitions counts committed booking status changes by target status.
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_transitions_total", Help: "Committed booking transitions by target status"},
		[]string{"status"},
	)
	// WriteConflicts counts lost optimistic writes by aggregate kind.
	WriteConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "write_conflicts_total", Help: "Optimistic write conflicts by aggregate"},
		[]string{"aggregate"},
	)
	MatchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_candidates",
		Help:      "Number of pools returned per match request",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})
	PoolsExpired = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pools_expired_total", Help: "Pools moved to expired by the sweeper"})

	MapsRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "maps_requests_total", Help: "Directions lookups by result"},
		[]string{"result"},
	)
	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_failed_total", Help: "Notifications that could not be delivered"})
	WSClients           = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_clients", Help: "Connected websocket subscribers"})
)
