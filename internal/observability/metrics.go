package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedWorkers tracks the number of workers currently in the
	// registry, regardless of health.
	ConnectedWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "constellation_connected_workers",
			Help: "Number of workers currently registered with the controller",
		},
	)

	// HealthyWorkers tracks the number of workers currently eligible for
	// new-binding selection.
	HealthyWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "constellation_healthy_workers",
			Help: "Number of workers currently marked healthy",
		},
	)

	// ActiveBindings tracks the number of resource keys currently bound to
	// a worker.
	ActiveBindings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "constellation_active_bindings",
			Help: "Number of resource keys currently bound to a worker",
		},
	)

	// RequestsRouted counts requests routed to a worker, by outcome.
	RequestsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_requests_routed_total",
			Help: "Total number of proxied requests by outcome",
		},
		[]string{"outcome"},
	)

	// DispatchDuration tracks end-to-end dispatch latency as observed by
	// the correlator.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "constellation_dispatch_duration_seconds",
			Help:    "Duration from dispatch to response or timeout",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"outcome"},
	)

	// InFlightRequests tracks the correlator's in-flight table size.
	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "constellation_in_flight_requests",
			Help: "Number of requests awaiting a response from a worker",
		},
	)

	// HeartbeatFailures counts consecutive-failure events recorded by the
	// per-worker heartbeat loop.
	HeartbeatFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_heartbeat_failures_total",
			Help: "Total number of heartbeat send failures",
		},
		[]string{"worker_id"},
	)

	// WorkerEvictions counts workers removed from the registry, by reason.
	WorkerEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_worker_evictions_total",
			Help: "Total number of workers evicted from the registry",
		},
		[]string{"reason"},
	)

	// AdminAuthFailures counts rejected admin requests.
	AdminAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "constellation_admin_auth_failures_total",
			Help: "Total number of admin requests rejected for a wrong API key",
		},
	)
)

// RecordRoute records a routed request's terminal outcome and latency.
func RecordRoute(outcome string, seconds float64) {
	RequestsRouted.WithLabelValues(outcome).Inc()
	DispatchDuration.WithLabelValues(outcome).Observe(seconds)
}
