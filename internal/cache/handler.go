package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wudi/relay/internal/config"
)

// Default cache parameters applied when the route config leaves them unset.
var (
	DefaultMethods  = []string{"GET", "HEAD"}
	DefaultStatuses = []int{200, 301, 302, 404}
)

const (
	DefaultCapacity = 1000
	DefaultTTL      = 300 * time.Second
)

// Handler manages response caching for a single route.
type Handler struct {
	store      Store
	ttl        time.Duration
	keyHeaders []string
	methods    map[string]bool
	statuses   map[int]bool

	hits   atomic.Int64
	misses atomic.Int64
}

// NewHandler creates a new cache handler for a route with the given store backend.
func NewHandler(cfg config.CacheConfig, store Store) *Handler {
	methods := cfg.Methods
	if len(methods) == 0 {
		methods = DefaultMethods
	}
	methodMap := make(map[string]bool, len(methods))
	for _, m := range methods {
		methodMap[strings.ToUpper(m)] = true
	}

	statuses := cfg.Statuses
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}
	statusMap := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		statusMap[s] = true
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Handler{
		store:      store,
		ttl:        ttl,
		keyHeaders: cfg.KeyHeaders,
		methods:    methodMap,
		statuses:   statusMap,
	}
}

// BuildKey fingerprints the request: method, path, raw query, and the
// values of the configured key headers in sorted order. The sha256 hex
// digest keeps keys fixed-length regardless of URL size.
func (h *Handler) BuildKey(r *http.Request) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.URL.Path)
	b.WriteByte('|')
	b.WriteString(r.URL.RawQuery)

	if len(h.keyHeaders) > 0 {
		sorted := make([]string, len(h.keyHeaders))
		copy(sorted, h.keyHeaders)
		sort.Strings(sorted)

		for _, hdr := range sorted {
			b.WriteByte('|')
			b.WriteString(hdr)
			b.WriteByte('=')
			b.WriteString(r.Header.Get(hdr))
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ShouldCache checks whether the request may be served from or
// populate the cache.
func (h *Handler) ShouldCache(r *http.Request) bool {
	if !h.methods[r.Method] {
		return false
	}

	cc := r.Header.Get("Cache-Control")
	if strings.Contains(cc, "no-store") || strings.Contains(cc, "no-cache") {
		return false
	}

	return true
}

// ShouldStore checks whether the response may be stored.
func (h *Handler) ShouldStore(statusCode int, headers http.Header) bool {
	if !h.statuses[statusCode] {
		return false
	}

	cc := headers.Get("Cache-Control")
	if strings.Contains(cc, "no-store") || strings.Contains(cc, "no-cache") || strings.Contains(cc, "private") {
		return false
	}

	// Responses that set cookies are per-client.
	if headers.Get("Set-Cookie") != "" {
		return false
	}

	return true
}

// Get retrieves a cached response.
func (h *Handler) Get(r *http.Request) (*Entry, bool) {
	entry, ok := h.store.Get(h.BuildKey(r))
	if ok {
		h.hits.Add(1)
	} else {
		h.misses.Add(1)
	}
	return entry, ok
}

// Store stores a response in the cache.
func (h *Handler) Store(r *http.Request, entry *Entry) {
	h.store.Set(h.BuildKey(r), entry)
}

// Clear removes every entry for this route.
func (h *Handler) Clear() {
	h.store.Purge()
}

// Stats returns cache statistics.
func (h *Handler) Stats() CacheStats {
	ss := h.store.Stats()
	return CacheStats{
		Size:      ss.Size,
		MaxSize:   ss.MaxSize,
		Evictions: ss.Evictions,
		Hits:      h.hits.Load(),
		Misses:    h.misses.Load(),
	}
}

// CacheStats contains cache statistics for one route.
type CacheStats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// CachingResponseWriter wraps http.ResponseWriter to capture the response for caching.
type CachingResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	Body        bytes.Buffer
	wroteHeader bool
}

// NewCachingResponseWriter creates a new caching response writer.
func NewCachingResponseWriter(w http.ResponseWriter) *CachingResponseWriter {
	return &CachingResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code and writes it to the underlying writer.
func (crw *CachingResponseWriter) WriteHeader(code int) {
	if !crw.wroteHeader {
		crw.statusCode = code
		crw.wroteHeader = true
		crw.ResponseWriter.WriteHeader(code)
	}
}

// StatusCode returns the captured status code.
func (crw *CachingResponseWriter) StatusCode() int {
	return crw.statusCode
}

// Write captures the body and writes it to the underlying writer.
func (crw *CachingResponseWriter) Write(b []byte) (int, error) {
	crw.Body.Write(b)
	return crw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (crw *CachingResponseWriter) Flush() {
	if flusher, ok := crw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack is intentionally unsupported: hijacked connections bypass the cache.
func (crw *CachingResponseWriter) Hijack() (c interface{}, brw interface{}, err error) {
	return nil, nil, fmt.Errorf("hijack not supported on caching response writer")
}

// WriteCachedResponse writes a cached entry to the response writer.
func WriteCachedResponse(w http.ResponseWriter, entry *Entry) {
	for key, values := range entry.Headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(entry.StatusCode)
	w.Write(entry.Body)
}

// CacheByRoute manages cache handlers per route.
type CacheByRoute struct {
	handlers    map[string]*Handler
	redisClient redis.UniversalClient
	mu          sync.RWMutex
}

// NewCacheByRoute creates a new route-based cache manager.
// Pass a non-nil redisClient to enable the "redis" backend.
func NewCacheByRoute(redisClient redis.UniversalClient) *CacheByRoute {
	return &CacheByRoute{
		handlers:    make(map[string]*Handler),
		redisClient: redisClient,
	}
}

// AddRoute adds a cache handler for a route.
func (cbr *CacheByRoute) AddRoute(routeID string, cfg config.CacheConfig) {
	cbr.mu.Lock()
	defer cbr.mu.Unlock()

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var store Store
	if cfg.Backend == "redis" && cbr.redisClient != nil {
		store = NewRedisStore(cbr.redisClient, "gateway:cache:"+routeID+":", ttl)
	} else {
		capacity := cfg.Capacity
		if capacity <= 0 {
			capacity = DefaultCapacity
		}
		store = NewMemoryStore(capacity, ttl)
	}

	cbr.handlers[routeID] = NewHandler(cfg, store)
}

// GetHandler returns the cache handler for a route, or nil.
func (cbr *CacheByRoute) GetHandler(routeID string) *Handler {
	cbr.mu.RLock()
	defer cbr.mu.RUnlock()
	return cbr.handlers[routeID]
}

// InvalidateRoute clears every cached entry for a route. It reports
// whether the route had a cache configured.
func (cbr *CacheByRoute) InvalidateRoute(routeID string) bool {
	if h := cbr.GetHandler(routeID); h != nil {
		h.Clear()
		return true
	}
	return false
}

// Clear purges the caches of all routes.
func (cbr *CacheByRoute) Clear() {
	cbr.mu.RLock()
	defer cbr.mu.RUnlock()
	for _, h := range cbr.handlers {
		h.Clear()
	}
}

// RouteIDs returns all route IDs with cache handlers.
func (cbr *CacheByRoute) RouteIDs() []string {
	cbr.mu.RLock()
	defer cbr.mu.RUnlock()
	ids := make([]string, 0, len(cbr.handlers))
	for id := range cbr.handlers {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns cache statistics for all routes.
func (cbr *CacheByRoute) Stats() map[string]CacheStats {
	cbr.mu.RLock()
	defer cbr.mu.RUnlock()

	result := make(map[string]CacheStats, len(cbr.handlers))
	for id, h := range cbr.handlers {
		result[id] = h.Stats()
	}
	return result
}
