package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wudi/relay/internal/config"
)

func newTestHandler(cfg config.CacheConfig) *Handler {
	return NewHandler(cfg, NewMemoryStore(100, time.Minute))
}

func TestBuildKeyStable(t *testing.T) {
	h := newTestHandler(config.CacheConfig{})

	r1 := httptest.NewRequest("GET", "/users?page=1", nil)
	r2 := httptest.NewRequest("GET", "/users?page=1", nil)

	if h.BuildKey(r1) != h.BuildKey(r2) {
		t.Error("identical requests should produce identical keys")
	}
}

func TestBuildKeyVariesByRequest(t *testing.T) {
	h := newTestHandler(config.CacheConfig{})

	base := httptest.NewRequest("GET", "/users?page=1", nil)
	variants := []*http.Request{
		httptest.NewRequest("HEAD", "/users?page=1", nil),
		httptest.NewRequest("GET", "/users?page=2", nil),
		httptest.NewRequest("GET", "/orders?page=1", nil),
	}

	baseKey := h.BuildKey(base)
	for _, v := range variants {
		if h.BuildKey(v) == baseKey {
			t.Errorf("%s %s should produce a different key", v.Method, v.URL)
		}
	}
}

func TestBuildKeyHeaders(t *testing.T) {
	h := newTestHandler(config.CacheConfig{KeyHeaders: []string{"Accept", "Accept-Language"}})

	r1 := httptest.NewRequest("GET", "/users", nil)
	r1.Header.Set("Accept", "application/json")
	r1.Header.Set("Accept-Language", "en")

	r2 := httptest.NewRequest("GET", "/users", nil)
	r2.Header.Set("Accept-Language", "en")
	r2.Header.Set("Accept", "application/json")

	r3 := httptest.NewRequest("GET", "/users", nil)
	r3.Header.Set("Accept", "application/json")
	r3.Header.Set("Accept-Language", "de")

	if h.BuildKey(r1) != h.BuildKey(r2) {
		t.Error("header order should not affect the key")
	}
	if h.BuildKey(r1) == h.BuildKey(r3) {
		t.Error("differing key header values should produce different keys")
	}
}

func TestBuildKeyIgnoresOtherHeaders(t *testing.T) {
	h := newTestHandler(config.CacheConfig{KeyHeaders: []string{"Accept"}})

	r1 := httptest.NewRequest("GET", "/users", nil)
	r1.Header.Set("Accept", "application/json")
	r1.Header.Set("User-Agent", "curl")

	r2 := httptest.NewRequest("GET", "/users", nil)
	r2.Header.Set("Accept", "application/json")
	r2.Header.Set("User-Agent", "wget")

	if h.BuildKey(r1) != h.BuildKey(r2) {
		t.Error("non-key headers should not affect the key")
	}
}

func TestShouldCache(t *testing.T) {
	h := newTestHandler(config.CacheConfig{})

	tests := []struct {
		method       string
		cacheControl string
		want         bool
	}{
		{"GET", "", true},
		{"HEAD", "", true},
		{"POST", "", false},
		{"DELETE", "", false},
		{"GET", "no-store", false},
		{"GET", "no-cache", false},
		{"GET", "max-age=60", true},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, "/users", nil)
		if tt.cacheControl != "" {
			r.Header.Set("Cache-Control", tt.cacheControl)
		}
		if got := h.ShouldCache(r); got != tt.want {
			t.Errorf("ShouldCache(%s, Cache-Control=%q) = %v, want %v",
				tt.method, tt.cacheControl, got, tt.want)
		}
	}
}

func TestShouldStore(t *testing.T) {
	h := newTestHandler(config.CacheConfig{})

	plain := http.Header{}

	tests := []struct {
		name    string
		status  int
		headers http.Header
		want    bool
	}{
		{"200 ok", 200, plain, true},
		{"301 redirect", 301, plain, true},
		{"302 redirect", 302, plain, true},
		{"404 not found", 404, plain, true},
		{"500 error", 500, plain, false},
		{"204 no content", 204, plain, false},
		{"no-store", 200, http.Header{"Cache-Control": []string{"no-store"}}, false},
		{"no-cache", 200, http.Header{"Cache-Control": []string{"no-cache"}}, false},
		{"private", 200, http.Header{"Cache-Control": []string{"private"}}, false},
		{"public max-age", 200, http.Header{"Cache-Control": []string{"public, max-age=60"}}, true},
		{"set-cookie", 200, http.Header{"Set-Cookie": []string{"session=abc"}}, false},
	}

	for _, tt := range tests {
		if got := h.ShouldStore(tt.status, tt.headers); got != tt.want {
			t.Errorf("%s: ShouldStore = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestShouldStoreCustomStatuses(t *testing.T) {
	h := newTestHandler(config.CacheConfig{Statuses: []int{200}})

	if !h.ShouldStore(200, http.Header{}) {
		t.Error("200 should be storable")
	}
	if h.ShouldStore(404, http.Header{}) {
		t.Error("404 should not be storable when statuses are restricted")
	}
}

func TestHandlerGetStoreRoundTrip(t *testing.T) {
	h := newTestHandler(config.CacheConfig{})

	req := httptest.NewRequest("GET", "/users", nil)

	if _, ok := h.Get(req); ok {
		t.Fatal("empty cache should miss")
	}

	h.Store(req, &Entry{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(`{"users":[]}`),
	})

	entry, ok := h.Get(req)
	if !ok {
		t.Fatal("expected a cache hit after store")
	}
	if entry.StatusCode != 200 || string(entry.Body) != `{"users":[]}` {
		t.Errorf("unexpected entry: %+v", entry)
	}

	stats := h.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestHandlerClear(t *testing.T) {
	h := newTestHandler(config.CacheConfig{})
	req := httptest.NewRequest("GET", "/users", nil)

	h.Store(req, &Entry{StatusCode: 200, Body: []byte("x")})
	h.Clear()

	if _, ok := h.Get(req); ok {
		t.Error("cache should be empty after Clear")
	}
}

func TestWriteCachedResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteCachedResponse(rr, &Entry{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(`{"ok":true}`),
	})

	if rr.Code != 200 {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if rr.Body.String() != `{"ok":true}` {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestCachingResponseWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	crw := NewCachingResponseWriter(rr)

	crw.WriteHeader(http.StatusCreated)
	crw.WriteHeader(http.StatusOK) // second call ignored
	crw.Write([]byte("hello"))

	if crw.StatusCode() != http.StatusCreated {
		t.Errorf("StatusCode() = %d, want 201", crw.StatusCode())
	}
	if rr.Code != http.StatusCreated {
		t.Errorf("underlying status = %d, want 201", rr.Code)
	}
	if crw.Body.String() != "hello" {
		t.Errorf("captured body = %q, want hello", crw.Body.String())
	}
	if rr.Body.String() != "hello" {
		t.Errorf("written body = %q, want hello", rr.Body.String())
	}
}

func TestCacheByRoute(t *testing.T) {
	cbr := NewCacheByRoute(nil)
	cbr.AddRoute("users", config.CacheConfig{Enabled: true})

	h := cbr.GetHandler("users")
	if h == nil {
		t.Fatal("expected handler for configured route")
	}
	if cbr.GetHandler("orders") != nil {
		t.Fatal("expected nil handler for unconfigured route")
	}

	req := httptest.NewRequest("GET", "/users", nil)
	h.Store(req, &Entry{StatusCode: 200, Body: []byte("x")})

	if !cbr.InvalidateRoute("users") {
		t.Error("InvalidateRoute should report true for a cached route")
	}
	if _, ok := h.Get(req); ok {
		t.Error("entry should be gone after invalidation")
	}
	if cbr.InvalidateRoute("orders") {
		t.Error("InvalidateRoute should report false for unknown route")
	}

	stats := cbr.Stats()
	if _, ok := stats["users"]; !ok {
		t.Error("expected stats for users route")
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	s := NewMemoryStore(2, time.Minute)

	s.Set("a", &Entry{StatusCode: 200})
	s.Set("b", &Entry{StatusCode: 200})
	s.Set("c", &Entry{StatusCode: 200})

	if s.Stats().Size != 2 {
		t.Errorf("size = %d, want 2", s.Stats().Size)
	}
	if s.Stats().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", s.Stats().Evictions)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	s := NewMemoryStore(10, 20*time.Millisecond)

	s.Set("k", &Entry{StatusCode: 200})
	if _, ok := s.Get("k"); !ok {
		t.Fatal("entry should be present before TTL")
	}

	time.Sleep(40 * time.Millisecond)

	if _, ok := s.Get("k"); ok {
		t.Error("entry should expire after TTL")
	}
}
