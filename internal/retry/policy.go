package retry

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wudi/relay/internal/config"
)

// DefaultRetryableStatuses are HTTP status codes that trigger a retry
var DefaultRetryableStatuses = []int{502, 503, 504}

// DefaultRetryableMethods are HTTP methods safe to retry
var DefaultRetryableMethods = []string{"GET", "HEAD", "OPTIONS", "PUT", "DELETE"}

// Policy implements retry logic with exponential backoff. A request
// gets at most MaxRetries+1 attempts; the delay before attempt k is
// InitialBackoff * BackoffMultiplier^(k-1), capped at MaxBackoff.
type Policy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	RetryableStatuses map[int]bool
	RetryableMethods  map[string]bool
	Metrics           *RouteRetryMetrics
}

// RouteRetryMetrics tracks retry statistics for a route
type RouteRetryMetrics struct {
	Requests  atomic.Int64
	Retries   atomic.Int64
	Successes atomic.Int64
	Failures  atomic.Int64
}

// Snapshot returns a point-in-time copy of the metrics
func (m *RouteRetryMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:  m.Requests.Load(),
		Retries:   m.Retries.Load(),
		Successes: m.Successes.Load(),
		Failures:  m.Failures.Load(),
	}
}

// MetricsSnapshot is a point-in-time copy of retry metrics
type MetricsSnapshot struct {
	Requests  int64 `json:"requests"`
	Retries   int64 `json:"retries"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// NewPolicy creates a retry policy from config
func NewPolicy(cfg config.RetryConfig) *Policy {
	p := &Policy{
		MaxRetries:        cfg.MaxRetries,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
		Metrics:           &RouteRetryMetrics{},
	}

	// Apply defaults
	if p.InitialBackoff == 0 {
		p.InitialBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = 2 * time.Second
	}
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = 2.0
	}

	// Build retryable statuses map
	statuses := cfg.RetryableStatuses
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses
	}
	p.RetryableStatuses = make(map[int]bool, len(statuses))
	for _, s := range statuses {
		p.RetryableStatuses[s] = true
	}

	// Build retryable methods map
	methods := cfg.RetryableMethods
	if len(methods) == 0 {
		methods = DefaultRetryableMethods
	}
	p.RetryableMethods = make(map[string]bool, len(methods))
	for _, m := range methods {
		p.RetryableMethods[m] = true
	}

	return p
}

// newBackOff builds the per-request backoff schedule. Randomization is
// disabled so the delays follow the configured curve exactly.
func (p *Policy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = p.BackoffMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Execute runs the request with retry logic. The request body, if any,
// must be replayable via req.GetBody.
func (p *Policy) Execute(ctx context.Context, transport http.RoundTripper, req *http.Request) (*http.Response, error) {
	p.Metrics.Requests.Add(1)

	// Non-retryable methods get exactly one attempt.
	if p.MaxRetries <= 0 || !p.RetryableMethods[req.Method] {
		resp, err := p.doRoundTrip(ctx, transport, req)
		if err != nil {
			p.Metrics.Failures.Add(1)
			return nil, err
		}
		p.Metrics.Successes.Add(1)
		return resp, nil
	}

	bo := p.newBackOff()

	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			p.Metrics.Retries.Add(1)

			select {
			case <-ctx.Done():
				if lastResp != nil {
					return lastResp, nil
				}
				p.Metrics.Failures.Add(1)
				return nil, ctx.Err()
			case <-time.After(bo.NextBackOff()):
			}
		}

		if lastResp != nil {
			lastResp.Body.Close()
			lastResp = nil
		}

		attemptReq := req
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				p.Metrics.Failures.Add(1)
				return nil, err
			}
			attemptReq = req.Clone(req.Context())
			attemptReq.Body = body
		}

		resp, err := p.doRoundTrip(ctx, transport, attemptReq)
		if err != nil {
			lastErr = err
			continue
		}

		if !p.RetryableStatuses[resp.StatusCode] {
			p.Metrics.Successes.Add(1)
			return resp, nil
		}

		lastResp = resp
		lastErr = nil
	}

	// All attempts exhausted: surface the final response or error.
	p.Metrics.Failures.Add(1)
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

func (p *Policy) doRoundTrip(ctx context.Context, transport http.RoundTripper, req *http.Request) (*http.Response, error) {
	return transport.RoundTrip(req.WithContext(ctx))
}

// IsRetryable returns true if the method+status combination should be retried
func (p *Policy) IsRetryable(method string, statusCode int) bool {
	if !p.RetryableMethods[method] {
		return false
	}
	return p.RetryableStatuses[statusCode]
}
