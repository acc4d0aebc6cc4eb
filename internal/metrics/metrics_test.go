package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("users", "GET", 200, 25*time.Millisecond)
	c.RecordRequest("users", "GET", 200, 30*time.Millisecond)
	c.RecordRequest("users", "GET", 404, time.Millisecond)

	if got := testutil.ToFloat64(c.requestsTotal.WithLabelValues("users", "GET", "200")); got != 2 {
		t.Errorf("requests_total{200} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.requestsTotal.WithLabelValues("users", "GET", "404")); got != 1 {
		t.Errorf("requests_total{404} = %v, want 1", got)
	}
}

func TestBackendGauges(t *testing.T) {
	c := NewCollector()

	c.SetActiveConnections("http://b1:3000", 7)
	if got := testutil.ToFloat64(c.activeConnections.WithLabelValues("http://b1:3000")); got != 7 {
		t.Errorf("active connections = %v, want 7", got)
	}

	c.SetBackendHealth("http://b1:3000", true)
	if got := testutil.ToFloat64(c.backendHealthy.WithLabelValues("http://b1:3000")); got != 1 {
		t.Errorf("healthy = %v, want 1", got)
	}
	c.SetBackendHealth("http://b1:3000", false)
	if got := testutil.ToFloat64(c.backendHealthy.WithLabelValues("http://b1:3000")); got != 0 {
		t.Errorf("healthy = %v, want 0", got)
	}
}

func TestBreakerMetrics(t *testing.T) {
	c := NewCollector()

	c.SetBreakerState("http://b1:3000", 1)
	if got := testutil.ToFloat64(c.breakerState.WithLabelValues("http://b1:3000")); got != 1 {
		t.Errorf("breaker state = %v, want 1", got)
	}

	c.RecordBreakerTransition("http://b1:3000", "open")
	c.RecordBreakerTransition("http://b1:3000", "open")
	if got := testutil.ToFloat64(c.breakerTransitions.WithLabelValues("http://b1:3000", "open")); got != 2 {
		t.Errorf("transitions{open} = %v, want 2", got)
	}
}

func TestFeatureCounters(t *testing.T) {
	c := NewCollector()
	c.RecordCacheHit("r")
	c.RecordCacheMiss("r")
	c.RecordCacheMiss("r")
	c.RecordRateLimitRejected("r")
	c.RecordRetry("r")

	if got := testutil.ToFloat64(c.cacheHits.WithLabelValues("r")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cacheMisses.WithLabelValues("r")); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.rateLimitRejected.WithLabelValues("r")); got != 1 {
		t.Errorf("ratelimit rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.retriesTotal.WithLabelValues("r")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("users", "GET", 200, time.Millisecond)

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	body := w.Body.String()
	if !strings.Contains(body, "gateway_requests_total") {
		t.Error("exposition missing gateway_requests_total")
	}
	if !strings.Contains(body, "gateway_request_duration_seconds") {
		t.Error("exposition missing gateway_request_duration_seconds")
	}
}
