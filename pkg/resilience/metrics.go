package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry, circuit breaker and fallback activity.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_retry_backoff_seconds",
		Help:    "Backoff duration for retries by operation",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"operation"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_fallbacks_total",
		Help: "Total number of fallback invocations by operation",
	}, []string{"operation"})

	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "upstream_circuit_state",
		Help: "Circuit breaker state by operation (0 closed, 1 half-open, 2 open)",
	}, []string{"operation"})
)
