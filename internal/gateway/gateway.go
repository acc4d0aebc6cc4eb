package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/relay/internal/cache"
	"github.com/wudi/relay/internal/circuitbreaker"
	"github.com/wudi/relay/internal/config"
	"github.com/wudi/relay/internal/errors"
	"github.com/wudi/relay/internal/health"
	"github.com/wudi/relay/internal/loadbalancer"
	"github.com/wudi/relay/internal/logging"
	"github.com/wudi/relay/internal/metrics"
	"github.com/wudi/relay/internal/middleware"
	"github.com/wudi/relay/internal/middleware/auth"
	"github.com/wudi/relay/internal/middleware/ipfilter"
	"github.com/wudi/relay/internal/middleware/ratelimit"
	"github.com/wudi/relay/internal/middleware/transform"
	"github.com/wudi/relay/internal/proxy"
	"github.com/wudi/relay/internal/retry"
	"github.com/wudi/relay/internal/router"
	"github.com/wudi/relay/internal/variables"
)

// Gateway routes requests through per-route policy pipelines to backends.
type Gateway struct {
	proxy     *proxy.Proxy
	collector *metrics.Collector
	redis     redis.UniversalClient

	mu   sync.RWMutex
	core *core

	handler http.Handler
}

// core is the swappable part of the gateway: the route table, the
// per-route policy managers, and the pipelines wired from them. Hot
// reload builds a new core and swaps it in.
type core struct {
	router    *router.Router
	pipelines map[string]*routePipeline

	caches    *cache.CacheByRoute
	ipFilters *ipfilter.IPFilterByRoute
	limiters  *ratelimit.RateLimitByRoute
}

// routePipeline is everything one route needs at request time.
type routePipeline struct {
	route       *router.Route
	balancer    loadbalancer.Balancer
	checker     *health.Checker
	breakers    *circuitbreaker.Manager
	retryPolicy *retry.Policy
	cache       *cache.Handler
	handler     http.Handler
}

// New builds a gateway from config. The config must already be
// validated and defaulted.
func New(cfg *config.Config, collector *metrics.Collector) (*Gateway, error) {
	g := &Gateway{
		proxy: proxy.New(proxy.Config{
			DefaultTimeout: cfg.Server.ProxyTimeout,
		}),
		collector: collector,
	}

	if cfg.Redis.Enabled {
		g.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	c, err := g.buildCore(cfg)
	if err != nil {
		return nil, err
	}
	g.core = c

	chain := middleware.NewChain(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logging(),
	)
	g.handler = chain.Then(http.HandlerFunc(g.dispatch))

	return g, nil
}

// buildCore constructs the route table and pipelines for a config.
func (g *Gateway) buildCore(cfg *config.Config) (*core, error) {
	rt, err := router.New(cfg.Routes)
	if err != nil {
		return nil, err
	}

	c := &core{
		router:    rt,
		pipelines: make(map[string]*routePipeline, len(cfg.Routes)),
		caches:    cache.NewCacheByRoute(g.redis),
		ipFilters: ipfilter.NewIPFilterByRoute(),
		limiters:  ratelimit.NewRateLimitByRoute(),
	}

	for i := range cfg.Routes {
		rc := &cfg.Routes[i]
		if err := c.register(g, rc); err != nil {
			return nil, fmt.Errorf("route %q: %w", rc.ID, err)
		}
		p, err := g.buildPipeline(c, rt.Get(rc.ID), rc)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rc.ID, err)
		}
		c.pipelines[rc.ID] = p
	}
	return c, nil
}

// register stores a route's policies in the per-route managers.
func (c *core) register(g *Gateway, rc *config.RouteConfig) error {
	if rc.IPFilter != nil {
		if err := c.ipFilters.AddRoute(rc.ID, *rc.IPFilter); err != nil {
			return err
		}
	}
	if rc.RateLimit != nil {
		id := rc.ID
		c.limiters.AddRoute(id, *rc.RateLimit, g.redis).OnReject(func() {
			g.collector.RecordRateLimitRejected(id)
		})
	}
	if rc.Cache != nil && rc.Cache.Enabled {
		c.caches.AddRoute(rc.ID, *rc.Cache)
	}
	return nil
}

func (g *Gateway) buildPipeline(c *core, route *router.Route, rc *config.RouteConfig) (*routePipeline, error) {
	p := &routePipeline{
		route:    route,
		balancer: loadbalancer.New(rc.Strategy, loadbalancer.FromConfigs(rc.Backends)),
		cache:    c.caches.GetHandler(rc.ID),
	}

	p.checker = g.buildChecker(rc, p.balancer)

	if rc.Breaker != nil && rc.Breaker.Enabled {
		p.breakers = circuitbreaker.NewManager(*rc.Breaker, func(backend string, from, to circuitbreaker.State) {
			logging.Info("circuit breaker state change",
				zap.String("route", rc.ID),
				zap.String("backend", backend),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			g.collector.SetBreakerState(backend, int(to))
			g.collector.RecordBreakerTransition(backend, to.String())
		})
	}

	if rc.Retry != nil {
		p.retryPolicy = retry.NewPolicy(*rc.Retry)
	}

	b := middleware.NewBuilder()

	if rc.IPFilter != nil {
		id := rc.ID
		b.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !c.ipFilters.CheckRequest(id, r) {
					ipfilter.RejectRequest(w)
					return
				}
				next.ServeHTTP(w, r)
			})
		})
	}

	if rc.Auth != nil {
		authenticator, err := auth.NewFromConfig(rc.Auth)
		if err != nil {
			return nil, err
		}
		b.Use(auth.Middleware(authenticator, rc.Auth.Required))
	}

	if mw := c.limiters.GetMiddleware(rc.ID); mw != nil {
		b.Use(mw)
	}

	if rc.Transform != nil {
		tr, err := transform.New(*rc.Transform)
		if err != nil {
			return nil, err
		}
		b.Use(tr.Middleware())
	}

	p.handler = b.Handler(p.forwardWith(g))
	return p, nil
}

// buildChecker wires active or passive health tracking for a route's
// backends. Routes with no health_check section get passive tracking
// with default thresholds.
func (g *Gateway) buildChecker(rc *config.RouteConfig, balancer loadbalancer.Balancer) *health.Checker {
	hc := rc.HealthCheck

	cfg := health.Config{
		OnChange: func(url string, status health.Status) {
			healthy := status == health.StatusHealthy
			if healthy {
				balancer.MarkHealthy(url)
			} else {
				balancer.MarkUnhealthy(url)
			}
			g.collector.SetBackendHealth(url, healthy)
			logging.Info("backend health change",
				zap.String("route", rc.ID),
				zap.String("backend", url),
				zap.String("status", string(status)))
		},
	}
	if hc != nil {
		cfg.DefaultTimeout = hc.Timeout
		cfg.DefaultInterval = hc.Interval
	}
	checker := health.NewChecker(cfg)

	for _, bc := range rc.Backends {
		b := health.Backend{URL: bc.URL, PassiveOnly: true}
		if hc != nil {
			b.HealthPath = hc.Path
			b.HealthyAfter = hc.HealthyAfter
			b.UnhealthyAfter = hc.UnhealthyAfter
			b.PassiveOnly = !hc.Enabled || hc.Passive
			if hc.ExpectedStatus != "" {
				if r, err := health.ParseStatusRange(hc.ExpectedStatus); err == nil {
					b.ExpectedStatus = []health.StatusRange{r}
				}
			}
		}
		checker.AddBackend(b)
	}
	return checker
}

// ServeHTTP runs the global middleware chain and dispatches to the
// matched route's pipeline.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

// dispatch matches the route and hands the request to its pipeline.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	c := g.core
	g.mu.RUnlock()

	start := time.Now()

	match, gwErr := c.router.Match(r.Method, r.URL.Path)
	if gwErr != nil {
		gwErr.WithRequestID(middleware.GetRequestID(r)).WriteJSON(w)
		g.collector.RecordRequest("", r.Method, gwErr.Status, time.Since(start))
		return
	}

	p := c.pipelines[match.Route.ID]

	varCtx := variables.GetFromRequest(r)
	varCtx.RouteID = match.Route.ID
	varCtx.PathParams = match.Params
	ctx := context.WithValue(r.Context(), variables.RequestContextKey{}, varCtx)
	r = r.WithContext(ctx)

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	p.handler.ServeHTTP(sw, r)

	g.collector.RecordRequest(match.Route.ID, r.Method, sw.status, time.Since(start))
}

// forwardWith returns the terminal handler for a pipeline: cache
// lookup, breaker admission, backend pick, proxy forward, outcome
// reporting, and cache store.
func (p *routePipeline) forwardWith(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		varCtx := variables.GetFromRequest(r)
		requestID := middleware.GetRequestID(r)

		cacheable := false
		if p.cache != nil && p.cache.ShouldCache(r) {
			if entry, ok := p.cache.Get(r); ok {
				g.collector.RecordCacheHit(p.route.ID)
				cache.WriteCachedResponse(w, entry)
				return
			}
			g.collector.RecordCacheMiss(p.route.ID)
			cacheable = true
		}

		// Buffer before picking a backend: a body read failure is the
		// client's fault and must not count against any upstream.
		if p.retryPolicy != nil {
			if err := proxy.BufferBody(r); err != nil {
				errors.ErrBadRequest.WithDetails("failed to read request body").WithRequestID(requestID).WriteJSON(w)
				return
			}
		}

		var backend *loadbalancer.Backend
		if ipb, ok := p.balancer.(loadbalancer.IPAwareBalancer); ok {
			backend = ipb.NextForIP(varCtx.ClientIP)
		} else {
			backend = p.balancer.Next()
		}
		if backend == nil {
			errors.ErrNoHealthyBackend.WithRequestID(requestID).WriteJSON(w)
			return
		}

		backend.IncrActive()
		defer backend.DecrActive()
		varCtx.UpstreamAddr = backend.URL

		var breaker *circuitbreaker.Breaker
		if p.breakers != nil {
			breaker = p.breakers.Get(backend.URL)
			if ok, _ := breaker.Allow(); !ok {
				errors.ErrCircuitOpen.WithRequestID(requestID).WriteJSON(w)
				return
			}
		}

		target := backend.ParsedURL
		backendPath := p.route.BuildBackendPath(r.URL.Path)
		proxyReq := g.proxy.BuildRequest(r.Context(), r, target, backendPath)

		retriesBefore := int64(0)
		if p.retryPolicy != nil {
			retriesBefore = p.retryPolicy.Metrics.Retries.Load()
		}

		resp, err := g.proxy.Do(r.Context(), proxyReq, p.retryPolicy)

		if p.retryPolicy != nil {
			for n := p.retryPolicy.Metrics.Retries.Load() - retriesBefore; n > 0; n-- {
				g.collector.RecordRetry(p.route.ID)
			}
		}

		if err != nil {
			p.reportOutcome(breaker, backend.URL, false, proxy.IsTimeout(err))
			g.proxy.WriteError(w, err)
			return
		}
		defer resp.Body.Close()

		success := resp.StatusCode < 500
		p.reportOutcome(breaker, backend.URL, success, false)
		varCtx.Status = resp.StatusCode

		if cacheable {
			crw := cache.NewCachingResponseWriter(w)
			g.proxy.WriteResponse(crw, resp)
			// Snapshot the upstream headers, not the response writer:
			// the writer also carries per-request gateway headers that
			// must not be replayed on later hits.
			if p.cache.ShouldStore(resp.StatusCode, resp.Header) {
				p.cache.Store(r, &cache.Entry{
					StatusCode: resp.StatusCode,
					Headers:    resp.Header.Clone(),
					Body:       crw.Body.Bytes(),
				})
			}
			return
		}

		g.proxy.WriteResponse(w, resp)
	}
}

// reportOutcome feeds a request result to the breaker and the passive
// health tracker.
func (p *routePipeline) reportOutcome(breaker *circuitbreaker.Breaker, backendURL string, success, timeout bool) {
	if breaker != nil {
		switch {
		case success:
			breaker.RecordSuccess()
		case timeout:
			breaker.RecordTimeout()
		default:
			breaker.RecordFailure()
		}
	}
	if p.checker != nil {
		p.checker.ReportOutcome(backendURL, success)
	}
}

// Start launches the active health check loops.
func (g *Gateway) Start() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, p := range g.core.pipelines {
		p.checker.Start()
	}
}

// Reload swaps in a new configuration. The new config must already be
// validated; on build failure the old core stays live and the error is
// returned.
func (g *Gateway) Reload(cfg *config.Config) error {
	newCore, err := g.buildCore(cfg)
	if err != nil {
		return err
	}

	g.mu.Lock()
	oldCore := g.core
	g.core = newCore
	g.mu.Unlock()

	for _, p := range newCore.pipelines {
		p.checker.Start()
	}
	for _, p := range oldCore.pipelines {
		p.checker.Stop()
	}

	// Purge cached responses of routes that no longer exist, so a
	// shared Redis store does not keep their entries around.
	for _, id := range oldCore.caches.RouteIDs() {
		if _, ok := newCore.pipelines[id]; !ok {
			oldCore.caches.InvalidateRoute(id)
		}
	}

	logging.Info("configuration reloaded", zap.Int("routes", len(cfg.Routes)))
	return nil
}

// CacheStats returns per-route cache statistics for the admin endpoint.
func (g *Gateway) CacheStats() map[string]cache.CacheStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.core.caches.Stats()
}

// Close stops health checking and releases the Redis connection.
func (g *Gateway) Close() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, p := range g.core.pipelines {
		p.checker.Stop()
	}
	if g.redis != nil {
		g.redis.Close()
	}
}

// Routes returns the live route table for the admin endpoint.
func (g *Gateway) Routes() map[string]*router.Route {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.core.router.Routes()
}

// BackendStatus describes one backend's health for the admin endpoint.
type BackendStatus struct {
	URL            string                          `json:"url"`
	Healthy        bool                            `json:"healthy"`
	ActiveRequests int64                           `json:"active_requests"`
	Breaker        *circuitbreaker.BreakerSnapshot `json:"circuit_breaker,omitempty"`
}

// Backends returns per-route backend health and breaker snapshots.
func (g *Gateway) Backends() map[string][]BackendStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string][]BackendStatus, len(g.core.pipelines))
	for id, p := range g.core.pipelines {
		var snapshots map[string]circuitbreaker.BreakerSnapshot
		if p.breakers != nil {
			snapshots = p.breakers.Snapshots()
		}

		backends := p.balancer.GetBackends()
		statuses := make([]BackendStatus, 0, len(backends))
		for _, b := range backends {
			bs := BackendStatus{
				URL:            b.URL,
				Healthy:        b.Healthy,
				ActiveRequests: b.ActiveRequests,
			}
			if snap, ok := snapshots[b.URL]; ok {
				bs.Breaker = &snap
			}
			statuses = append(statuses, bs)
		}
		out[id] = statuses
	}
	return out
}

// statusWriter records the response status for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (sw *statusWriter) WriteHeader(status int) {
	if !sw.wrote {
		sw.status = status
		sw.wrote = true
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wrote = true
	return sw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
