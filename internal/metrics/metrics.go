package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchRequests counts finished match requests by outcome ("success" or an error kind)
	MatchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "productmatcher_match_requests_total",
			Help: "Total number of match requests by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration observes how long each pipeline stage takes
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "productmatcher_stage_duration_seconds",
			Help:    "Duration of match pipeline stages in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		},
		[]string{"stage"},
	)

	// CatalogSize is the number of records in the last fetched catalog snapshot
	CatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "productmatcher_catalog_size",
			Help: "Number of products in the most recent catalog snapshot",
		},
	)

	// MatchesDropped counts matches whose image URL had no catalog record
	MatchesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "productmatcher_matches_dropped_total",
			Help: "Total number of matching service results without a catalog record",
		},
	)

	// UploadCleanupFailures counts temp uploads that could not be removed
	UploadCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "productmatcher_upload_cleanup_failures_total",
			Help: "Total number of uploaded temp files that could not be removed",
		},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "productmatcher_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerRequests counts breaker outcomes: success, failure, rejected
	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "productmatcher_circuit_breaker_requests_total",
			Help: "Total number of requests through the circuit breaker by result",
		},
		[]string{"name", "result"},
	)

	// RateLimited counts requests rejected by the per-IP limiter
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "productmatcher_rate_limited_total",
			Help: "Total number of requests rejected by the per-client rate limiter",
		},
	)

	// RateLimitClients tracks how many client limiters are currently held
	RateLimitClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "productmatcher_rate_limit_clients",
			Help: "Number of client IPs with a live rate limiter",
		},
	)
)
