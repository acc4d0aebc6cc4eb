package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes gateway metrics through a dedicated Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	activeConnections *prometheus.GaugeVec
	backendHealthy    *prometheus.GaugeVec

	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	rateLimitRejected *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total requests by route, method, and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_active_connections",
			Help: "In-flight requests per backend.",
		}, []string{"backend"}),
		backendHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_healthy",
			Help: "Backend health (1 healthy, 0 unhealthy).",
		}, []string{"backend"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Breaker state per backend (0 closed, 1 open, 2 half-open).",
		}, []string{"backend"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_transitions_total",
			Help: "Breaker transitions per backend by target state.",
		}, []string{"backend", "to"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Response cache hits by route.",
		}, []string{"route"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Response cache misses by route.",
		}, []string{"route"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter, by route.",
		}, []string{"route"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Retry attempts by route.",
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.requestsTotal, c.requestDuration, c.activeConnections,
		c.backendHealthy, c.breakerState, c.breakerTransitions,
		c.cacheHits, c.cacheMisses, c.rateLimitRejected, c.retriesTotal,
	)
	return c
}

// RecordRequest records a completed request.
func (c *Collector) RecordRequest(route, method string, status int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// SetActiveConnections sets the in-flight gauge for a backend.
func (c *Collector) SetActiveConnections(backend string, n int64) {
	c.activeConnections.WithLabelValues(backend).Set(float64(n))
}

// SetBackendHealth records a backend's health flag.
func (c *Collector) SetBackendHealth(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.backendHealthy.WithLabelValues(backend).Set(v)
}

// SetBreakerState records a breaker's state (0 closed, 1 open, 2 half-open).
func (c *Collector) SetBreakerState(backend string, state int) {
	c.breakerState.WithLabelValues(backend).Set(float64(state))
}

// RecordBreakerTransition counts a breaker transition to the given state.
func (c *Collector) RecordBreakerTransition(backend, to string) {
	c.breakerTransitions.WithLabelValues(backend, to).Inc()
}

// RecordCacheHit counts a cache hit.
func (c *Collector) RecordCacheHit(route string) {
	c.cacheHits.WithLabelValues(route).Inc()
}

// RecordCacheMiss counts a cache miss.
func (c *Collector) RecordCacheMiss(route string) {
	c.cacheMisses.WithLabelValues(route).Inc()
}

// RecordRateLimitRejected counts a 429.
func (c *Collector) RecordRateLimitRejected(route string) {
	c.rateLimitRejected.WithLabelValues(route).Inc()
}

// RecordRetry counts one retry attempt.
func (c *Collector) RecordRetry(route string) {
	c.retriesTotal.WithLabelValues(route).Inc()
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (used in tests).
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
