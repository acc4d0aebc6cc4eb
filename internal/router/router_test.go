package router

import (
	"net/http"
	"testing"

	"github.com/wudi/relay/internal/config"
	"github.com/wudi/relay/internal/errors"
)

func buildRouter(t *testing.T, routes ...config.RouteConfig) *Router {
	t.Helper()
	for i := range routes {
		if routes[i].ID == "" {
			routes[i].ID = routes[i].Path
		}
		if len(routes[i].Backends) == 0 {
			routes[i].Backends = []config.BackendConfig{{URL: "http://backend:3000", Weight: 1}}
		}
	}
	rt, err := New(routes)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return rt
}

func TestMatchStatic(t *testing.T) {
	rt := buildRouter(t, config.RouteConfig{Path: "/api/users", Methods: []string{"GET"}})

	m, gerr := rt.Match("GET", "/api/users")
	if gerr != nil {
		t.Fatalf("Match() error: %v", gerr)
	}
	if m.Route.Path != "/api/users" {
		t.Errorf("matched %q, want /api/users", m.Route.Path)
	}
	if len(m.Params) != 0 {
		t.Errorf("params = %v, want none", m.Params)
	}
}

func TestMatchParam(t *testing.T) {
	rt := buildRouter(t, config.RouteConfig{Path: "/api/users/:id"})

	m, gerr := rt.Match("GET", "/api/users/42")
	if gerr != nil {
		t.Fatalf("Match() error: %v", gerr)
	}
	if m.Params["id"] != "42" {
		t.Errorf("param id = %q, want 42", m.Params["id"])
	}

	// A param matches exactly one segment
	if _, gerr := rt.Match("GET", "/api/users/42/orders"); gerr != errors.ErrNotFound {
		t.Errorf("deep path should be 404, got %v", gerr)
	}
}

func TestMatchWildcard(t *testing.T) {
	rt := buildRouter(t, config.RouteConfig{Path: "/static/*filepath"})

	m, gerr := rt.Match("GET", "/static/css/site.css")
	if gerr != nil {
		t.Fatalf("Match() error: %v", gerr)
	}
	if m.Params["filepath"] != "css/site.css" {
		t.Errorf("wildcard = %q, want css/site.css", m.Params["filepath"])
	}
}

func TestMatchNotFound(t *testing.T) {
	rt := buildRouter(t, config.RouteConfig{Path: "/api/users"})

	_, gerr := rt.Match("GET", "/api/orders")
	if gerr != errors.ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", gerr)
	}
}

func TestMatchMethodNotAllowed(t *testing.T) {
	rt := buildRouter(t, config.RouteConfig{Path: "/api/users", Methods: []string{"GET", "HEAD"}})

	_, gerr := rt.Match("POST", "/api/users")
	if gerr != errors.ErrMethodNotAllowed {
		t.Errorf("got %v, want ErrMethodNotAllowed", gerr)
	}

	// Unknown path is still a plain 404
	_, gerr = rt.Match("POST", "/nope")
	if gerr != errors.ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", gerr)
	}
}

func TestMatchAllMethodsWhenUnspecified(t *testing.T) {
	rt := buildRouter(t, config.RouteConfig{Path: "/anything"})

	for _, m := range []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"} {
		if _, gerr := rt.Match(m, "/anything"); gerr != nil {
			t.Errorf("Match(%s) error: %v", m, gerr)
		}
	}
}

func TestMatchMethodsCaseInsensitiveConfig(t *testing.T) {
	rt := buildRouter(t, config.RouteConfig{Path: "/x", Methods: []string{"get"}})

	if _, gerr := rt.Match(http.MethodGet, "/x"); gerr != nil {
		t.Errorf("lowercase configured method should match GET, got %v", gerr)
	}
}

func TestMatchTrailingSlashIsDistinct(t *testing.T) {
	rt := buildRouter(t, config.RouteConfig{Path: "/api/users"})

	if _, gerr := rt.Match("GET", "/api/users/"); gerr != errors.ErrNotFound {
		t.Errorf("trailing slash should not redirect-match, got %v", gerr)
	}
}

func TestConflictingPatterns(t *testing.T) {
	routes := []config.RouteConfig{
		{ID: "a", Path: "/api/:version/users", Backends: []config.BackendConfig{{URL: "http://b:1"}}},
		{ID: "b", Path: "/api/:other/users", Backends: []config.BackendConfig{{URL: "http://b:1"}}},
	}
	if _, err := New(routes); err == nil {
		t.Error("conflicting param names should be a registration error")
	}
}

func TestDuplicatePattern(t *testing.T) {
	routes := []config.RouteConfig{
		{ID: "a", Path: "/same", Methods: []string{"GET"}, Backends: []config.BackendConfig{{URL: "http://b:1"}}},
		{ID: "b", Path: "/same", Methods: []string{"GET"}, Backends: []config.BackendConfig{{URL: "http://b:1"}}},
	}
	if _, err := New(routes); err == nil {
		t.Error("duplicate pattern+method should be a registration error")
	}
}

func TestBuildBackendPath(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		strip   bool
		reqPath string
		want    string
	}{
		{"no strip", "/api/users", false, "/api/users", "/api/users"},
		{"strip static", "/api/users", true, "/api/users", "/"},
		{"strip with param", "/api/users/:id", true, "/api/users/42", "/42"},
		{"strip wildcard", "/static/*filepath", true, "/static/css/site.css", "/css/site.css"},
		{"strip root", "/", true, "/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := buildRouter(t, config.RouteConfig{Path: tt.pattern, StripPrefix: tt.strip})
			var route *Route
			for _, r := range rt.Routes() {
				route = r
			}
			if got := route.BuildBackendPath(tt.reqPath); got != tt.want {
				t.Errorf("BuildBackendPath(%q) = %q, want %q", tt.reqPath, got, tt.want)
			}
		})
	}
}

func TestMostSpecificWins(t *testing.T) {
	rt := buildRouter(t,
		config.RouteConfig{ID: "list", Path: "/api/users"},
		config.RouteConfig{ID: "get", Path: "/api/users/:id"},
	)

	m, gerr := rt.Match("GET", "/api/users")
	if gerr != nil {
		t.Fatalf("Match() error: %v", gerr)
	}
	if m.Route.ID != "list" {
		t.Errorf("matched %q, want list", m.Route.ID)
	}

	m, gerr = rt.Match("GET", "/api/users/7")
	if gerr != nil {
		t.Fatalf("Match() error: %v", gerr)
	}
	if m.Route.ID != "get" {
		t.Errorf("matched %q, want get", m.Route.ID)
	}
}
