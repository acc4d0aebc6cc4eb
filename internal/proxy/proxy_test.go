package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/wudi/relay/internal/config"
	"github.com/wudi/relay/internal/retry"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestBuildRequestForwardedHeaders(t *testing.T) {
	p := New(Config{})

	r := httptest.NewRequest("GET", "http://gateway.example/users?page=1", nil)
	r.RemoteAddr = "203.0.113.7:4321"
	r.Host = "gateway.example"

	req := p.BuildRequest(context.Background(), r, mustParse(t, "http://backend:9000"), "/users")

	if got := req.Header.Get("X-Forwarded-For"); got != "203.0.113.7" {
		t.Errorf("X-Forwarded-For = %q", got)
	}
	if got := req.Header.Get("X-Forwarded-Proto"); got != "http" {
		t.Errorf("X-Forwarded-Proto = %q", got)
	}
	if got := req.Header.Get("X-Forwarded-Host"); got != "gateway.example" {
		t.Errorf("X-Forwarded-Host = %q", got)
	}
	if req.Host != "backend:9000" {
		t.Errorf("Host = %q, want backend:9000", req.Host)
	}
	if req.URL.String() != "http://backend:9000/users?page=1" {
		t.Errorf("URL = %q", req.URL)
	}
}

func TestBuildRequestAppendsForwardedFor(t *testing.T) {
	p := New(Config{})

	r := httptest.NewRequest("GET", "/users", nil)
	r.RemoteAddr = "10.0.0.1:999"
	r.Header.Set("X-Forwarded-For", "198.51.100.2")

	req := p.BuildRequest(context.Background(), r, mustParse(t, "http://backend:9000"), "/users")

	// The client IP (first entry of the inbound chain) is appended to
	// the existing chain, matching standard proxy behavior.
	if got := req.Header.Get("X-Forwarded-For"); got != "198.51.100.2, 198.51.100.2" {
		t.Errorf("X-Forwarded-For = %q", got)
	}
}

func TestBuildRequestStripsHopHeaders(t *testing.T) {
	p := New(Config{})

	r := httptest.NewRequest("GET", "/users", nil)
	for _, h := range hopHeaders {
		r.Header.Set(h, "x")
	}
	r.Header.Set("X-Keep", "yes")

	req := p.BuildRequest(context.Background(), r, mustParse(t, "http://backend:9000"), "/users")

	for _, h := range hopHeaders {
		if req.Header.Get(h) != "" {
			t.Errorf("hop header %s should be stripped", h)
		}
	}
	if req.Header.Get("X-Keep") != "yes" {
		t.Error("end-to-end headers must survive")
	}
}

func TestSingleJoiningSlash(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"", "/users", "/users"},
		{"/api", "/users", "/api/users"},
		{"/api/", "/users", "/api/users"},
		{"/api", "users", "/api/users"},
		{"/api/", "users", "/api/users"},
	}
	for _, tt := range tests {
		if got := singleJoiningSlash(tt.a, tt.b); got != tt.want {
			t.Errorf("singleJoiningSlash(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestWriteResponseStripsHopHeaders(t *testing.T) {
	p := New(Config{})

	resp := &http.Response{
		StatusCode: 200,
		Header: http.Header{
			"Content-Type": []string{"application/json"},
			"Connection":   []string{"keep-alive"},
			"Keep-Alive":   []string{"timeout=5"},
		},
		Body: io.NopCloser(strings.NewReader(`{"ok":true}`)),
	}

	rr := httptest.NewRecorder()
	p.WriteResponse(rr, resp)

	if rr.Code != 200 {
		t.Errorf("status = %d", rr.Code)
	}
	if rr.Header().Get("Connection") != "" || rr.Header().Get("Keep-Alive") != "" {
		t.Error("hop-by-hop response headers should be stripped")
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Error("end-to-end response headers must survive")
	}
	if rr.Body.String() != `{"ok":true}` {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestProxyRoundTrip(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-Host") == "" {
			t.Error("backend should see X-Forwarded-Host")
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong"))
	}))
	defer backend.Close()

	p := New(Config{})

	r := httptest.NewRequest("GET", "/ping", nil)
	r.RemoteAddr = "10.0.0.1:1"
	req := p.BuildRequest(context.Background(), r, mustParse(t, backend.URL), "/ping")

	resp, err := p.Do(context.Background(), req, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}
}

func TestProxyRetriesWithBufferedBody(t *testing.T) {
	var bodies []string
	attempts := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	p := New(Config{})
	policy := retry.NewPolicy(config.RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 2.0,
		RetryableStatuses: []int{503},
		RetryableMethods:  []string{"PUT"},
	})

	r := httptest.NewRequest("PUT", "/users/1", strings.NewReader(`{"name":"a"}`))
	r.RemoteAddr = "10.0.0.1:1"
	if err := BufferBody(r); err != nil {
		t.Fatal(err)
	}
	req := p.BuildRequest(context.Background(), r, mustParse(t, backend.URL), "/users/1")

	resp, err := p.Do(context.Background(), req, policy)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	for i, b := range bodies {
		if b != `{"name":"a"}` {
			t.Errorf("attempt %d body = %q, replay must be identical", i, b)
		}
	}
}

func TestWriteErrorBadGateway(t *testing.T) {
	p := New(Config{DefaultTimeout: time.Second})

	r := httptest.NewRequest("GET", "/users", nil)
	r.RemoteAddr = "10.0.0.1:1"
	req := p.BuildRequest(context.Background(), r, mustParse(t, "http://127.0.0.1:1"), "/users")

	_, err := p.Do(context.Background(), req, nil)
	if err == nil {
		t.Fatal("expected connection error")
	}

	rr := httptest.NewRecorder()
	p.WriteError(rr, err)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["status"] != float64(502) {
		t.Errorf("body status = %v", body["status"])
	}
}

func TestWriteErrorGatewayTimeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer backend.Close()

	p := New(Config{DefaultTimeout: 20 * time.Millisecond})

	r := httptest.NewRequest("GET", "/slow", nil)
	r.RemoteAddr = "10.0.0.1:1"
	req := p.BuildRequest(context.Background(), r, mustParse(t, backend.URL), "/slow")

	_, err := p.Do(context.Background(), req, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Fatalf("IsTimeout(%v) = false", err)
	}

	rr := httptest.NewRecorder()
	p.WriteError(rr, err)
	if rr.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rr.Code)
	}
}

func TestBufferBodyNoBody(t *testing.T) {
	r := httptest.NewRequest("GET", "/users", nil)
	if err := BufferBody(r); err != nil {
		t.Fatal(err)
	}
	if r.GetBody != nil {
		t.Error("GetBody should stay nil for bodyless requests")
	}
}

func TestTransportDefaults(t *testing.T) {
	tr := DefaultTransport()
	if tr.MaxIdleConns != 100 || tr.MaxIdleConnsPerHost != 10 {
		t.Errorf("unexpected idle conn limits: %d/%d", tr.MaxIdleConns, tr.MaxIdleConnsPerHost)
	}
	if !tr.ForceAttemptHTTP2 {
		t.Error("HTTP/2 should be attempted by default")
	}
}
