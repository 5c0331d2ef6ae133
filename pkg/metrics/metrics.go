// Package metrics provides the service metrics sink and the reference of
// every metric the proxy exports.
//
// Infrastructure metrics are defined in their respective packages (client,
// resilience, cache, api) through promauto. Request-level service metrics go
// through a Sink passed explicitly to the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the proxy.
// All promauto metrics are registered here.
var Registry = prometheus.DefaultRegisterer

// Request kinds counted by the service.
const (
	KindPosts             = "posts"
	KindPostsFiltered     = "posts_filtered"
	KindPost              = "post"
	KindPostWithComments  = "post_with_comments"
	KindComments          = "comments"
	KindCacheInvalidation = "cache_invalidation"
)

// Sink receives service-level measurements.
type Sink interface {
	// IncRequests counts a service request of the given kind.
	IncRequests(kind string)

	// ObserveFetch records how long an upstream fetch took, cache misses only.
	ObserveFetch(operation string, d time.Duration)
}

// Prometheus is a Sink backed by Prometheus collectors.
type Prometheus struct {
	requests *prometheus.CounterVec
	fetches  *prometheus.HistogramVec
}

var _ Sink = (*Prometheus)(nil)

// NewPrometheus creates a Prometheus sink and registers its collectors with
// reg. A nil reg leaves them unregistered.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_requests_total",
			Help: "Total service requests by kind",
		}, []string{"kind"}),
		fetches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "service_fetch_duration_seconds",
			Help:    "Duration of cache-miss fetches by operation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"operation"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{p.requests, p.fetches} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

// IncRequests implements Sink.
func (p *Prometheus) IncRequests(kind string) {
	p.requests.WithLabelValues(kind).Inc()
}

// ObserveFetch implements Sink.
func (p *Prometheus) ObserveFetch(operation string, d time.Duration) {
	p.fetches.WithLabelValues(operation).Observe(d.Seconds())
}

// Nop is a Sink that discards everything.
type Nop struct{}

// IncRequests implements Sink.
func (Nop) IncRequests(string) {}

// ObserveFetch implements Sink.
func (Nop) ObserveFetch(string, time.Duration) {}

// Metrics Documentation
//
// Service Metrics (pkg/metrics, via Sink):
//   - service_requests_total{kind} (Counter): Service requests by kind
//   - service_fetch_duration_seconds{operation} (Histogram): Cache-miss fetch duration
//
// Request Metrics (pkg/client):
//   - upstream_requests_total{endpoint, status} (Counter): Upstream requests by endpoint and HTTP status
//   - upstream_request_duration_seconds{endpoint} (Histogram): Upstream request duration
//   - upstream_errors_total{class} (Counter): Errors by class (client, server, network, internal)
//
// Resilience Metrics (pkg/resilience):
//   - upstream_retries_total{operation} (Counter): Retry attempts
//   - upstream_retry_backoff_seconds{operation} (Histogram): Backoff duration
//   - upstream_retry_exhausted_total{operation} (Counter): Calls that exhausted retries
//   - upstream_fallbacks_total{operation} (Counter): Fallback invocations
//   - upstream_circuit_state{operation} (Gauge): 0 closed, 1 half-open, 2 open
//
// Cache Metrics (pkg/cache):
//   - cache_hits_total{namespace, layer} (Counter): Hits by layer (memory, redis)
//   - cache_misses_total{namespace} (Counter): Misses
//   - cache_evictions_total{namespace, reason} (Counter): Removed entries
//   - cache_entries{namespace} (Gauge): Current entries
//   - cache_errors_total{operation} (Counter): Shared tier errors
//
// HTTP Metrics (internal/api):
//   - http_requests_total{route, method, status} (Counter): Inbound requests
//   - http_request_duration_seconds{route} (Histogram): Inbound request duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(cache_hits_total[5m])) /
//   (sum(rate(cache_hits_total[5m])) + sum(rate(cache_misses_total[5m])))
//
//   # Open Circuits
//   upstream_circuit_state == 2
//
//   # Fallback Rate
//   sum by (operation) (rate(upstream_fallbacks_total[5m]))
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(upstream_request_duration_seconds_bucket[5m]))
