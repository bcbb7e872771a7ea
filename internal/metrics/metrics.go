package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream geodata pool
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Upstream query attempts by endpoint, kind and outcome",
		},
		[]string{"endpoint", "kind", "outcome"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of upstream query attempts",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 60},
		},
		[]string{"kind"},
	)

	UpstreamTerminalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_terminal_failures_total",
			Help: "Upstream calls that returned an empty collection after all endpoints failed",
		},
		[]string{"kind", "error_kind"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upstream_circuit_breaker_state",
			Help: "Circuit breaker state per endpoint (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	// Feature cache
	FeatureCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feature_cache_hits_total",
			Help: "Viewport identities served from the feature cache",
		},
	)

	FeatureCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feature_cache_misses_total",
			Help: "Viewport identities that needed a detail fetch",
		},
	)

	// Discovery
	DiscoveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_requests_total",
			Help: "Discovery requests by final state",
		},
		[]string{"state"},
	)

	// Inference
	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_duration_seconds",
			Help:    "Model inference latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	InferenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_errors_total",
			Help: "Model inference failures",
		},
		[]string{"model"},
	)

	WorkerPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inference_worker_pending_requests",
			Help: "Requests waiting for an inference worker reply",
		},
	)

	// Routing
	RouteOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_requests_total",
			Help: "Routing requests by outcome",
		},
		[]string{"outcome"},
	)

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "endpoint"},
	)
)
