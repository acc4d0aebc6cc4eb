package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/wudi/relay/internal/byroute"
	"github.com/wudi/relay/internal/config"
	"github.com/wudi/relay/internal/errors"
	"github.com/wudi/relay/internal/middleware"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// Config holds rate limiter configuration
type Config struct {
	Requests int           // requests per window
	Window   time.Duration // time window
	Burst    int           // max burst size, defaults to Requests
}

func (c *Config) applyDefaults() {
	if c.Window == 0 {
		c.Window = time.Minute
	}
	if c.Burst == 0 {
		c.Burst = c.Requests
	}
}

// LocalLimiter keeps an in-process token bucket per key. Buckets live
// in a sharded map to keep lock contention down under load.
type LocalLimiter struct {
	limit    rate.Limit
	burst    int
	window   time.Duration
	limiters *shardedMap[*clientLimiter]
}

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates a local token bucket limiter.
func NewLocalLimiter(cfg Config) *LocalLimiter {
	cfg.applyDefaults()

	ll := &LocalLimiter{
		limit:    rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds()),
		burst:    cfg.Burst,
		window:   cfg.Window,
		limiters: newShardedMap[*clientLimiter](),
	}

	go ll.cleanup()

	return ll
}

// Allow debits one token from the bucket for key.
func (ll *LocalLimiter) Allow(_ context.Context, key string) Decision {
	now := time.Now()

	s := ll.limiters.getShard(key)
	s.mu.Lock()
	cl, exists := s.items[key]
	if !exists {
		cl = &clientLimiter{lim: rate.NewLimiter(ll.limit, ll.burst)}
		s.items[key] = cl
	}
	cl.lastSeen = now
	lim := cl.lim
	s.mu.Unlock()

	d := Decision{Limit: ll.burst}

	if lim.Allow() {
		d.Allowed = true
		d.Remaining = int(lim.Tokens())
		if d.Remaining < 0 {
			d.Remaining = 0
		}
		d.Reset = now.Add(ll.window)
		return d
	}

	// Peek at the wait for the next token without consuming it.
	res := lim.Reserve()
	wait := res.Delay()
	res.Cancel()
	d.Reset = now.Add(wait)
	return d
}

// cleanup prunes buckets that have been idle for several windows.
func (ll *LocalLimiter) cleanup() {
	interval := 5 * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		cutoff := 3 * ll.window
		if cutoff < interval {
			cutoff = interval
		}
		ll.limiters.deleteFunc(func(_ string, cl *clientLimiter) bool {
			return now.Sub(cl.lastSeen) > cutoff
		})
	}
}

// RouteLimiter binds a limiter to a key dimension and emits the
// X-RateLimit response headers.
type RouteLimiter struct {
	limiter  Limiter
	keyFn    func(*http.Request) (string, bool)
	limitStr string
	onReject func()
}

// NewRouteLimiter builds the limiter stack for one route.
func NewRouteLimiter(cfg config.RateLimitConfig, routeID string, rdb RedisClient) *RouteLimiter {
	lcfg := Config{
		Requests: cfg.Requests,
		Window:   cfg.Window,
		Burst:    cfg.Burst,
	}
	lcfg.applyDefaults()

	scope := ""
	if cfg.PerRoute || cfg.Dimension == DimensionRoute {
		scope = routeID
	}

	var limiter Limiter = NewLocalLimiter(lcfg)
	if cfg.Backend == "redis" && rdb != nil {
		limiter = NewRedisLimiter(RedisLimiterConfig{
			Client:    rdb,
			Algorithm: cfg.Algorithm,
			Requests:  lcfg.Requests,
			Window:    lcfg.Window,
			Burst:     lcfg.Burst,
		})
	}

	return &RouteLimiter{
		limiter:  limiter,
		keyFn:    BuildKeyFunc(cfg.Dimension, scope),
		limitStr: strconv.Itoa(lcfg.Burst),
	}
}

// OnReject registers a callback fired for every rejected request.
func (rl *RouteLimiter) OnReject(fn func()) {
	rl.onReject = fn
}

// Middleware creates a rate limiting middleware. Requests whose
// dimension identifier cannot be resolved pass through unchecked.
func (rl *RouteLimiter) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := rl.keyFn(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			d := rl.limiter.Allow(r.Context(), key)

			w.Header().Set("X-RateLimit-Limit", rl.limitStr)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				retryAfter := int(time.Until(d.Reset).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				if rl.onReject != nil {
					rl.onReject()
				}
				errors.ErrTooManyRequests.WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByRoute manages per-route rate limiters backed by byroute.Manager.
type RateLimitByRoute struct {
	byroute.Manager[*RouteLimiter]
}

// NewRateLimitByRoute creates a new route-based rate limiter.
func NewRateLimitByRoute() *RateLimitByRoute {
	return &RateLimitByRoute{}
}

// AddRoute builds and stores the limiter for a route.
func (rl *RateLimitByRoute) AddRoute(routeID string, cfg config.RateLimitConfig, rdb RedisClient) *RouteLimiter {
	l := NewRouteLimiter(cfg, routeID, rdb)
	rl.Add(routeID, l)
	return l
}

// GetMiddleware returns the middleware for a route, or nil if no limiter is configured.
func (rl *RateLimitByRoute) GetMiddleware(routeID string) middleware.Middleware {
	if v, ok := rl.Get(routeID); ok {
		return v.Middleware()
	}
	return nil
}
