package transform

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wudi/relay/internal/config"
)

func mustNew(t *testing.T, cfg config.TransformConfig) *Transformer {
	t.Helper()
	tr, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestRequestHeaderOrder(t *testing.T) {
	// remove runs first, then add fills absences, then set overwrites:
	// a header that is removed and re-added gets the added value, and
	// set wins over add for the same name.
	tr := mustNew(t, config.TransformConfig{
		Request: &config.DirectionTransform{
			RemoveHeaders: []string{"X-Internal"},
			AddHeaders:    map[string]string{"X-Internal": "added", "X-Both": "add-loses"},
			SetHeaders:    map[string]string{"X-Both": "set-wins"},
		},
	})

	r := httptest.NewRequest("GET", "/users", nil)
	r.Header.Set("X-Internal", "original")

	tr.ApplyRequest(r)

	if got := r.Header.Get("X-Internal"); got != "added" {
		t.Errorf("X-Internal = %q, want added", got)
	}
	if got := r.Header.Get("X-Both"); got != "set-wins" {
		t.Errorf("X-Both = %q, want set-wins", got)
	}
}

func TestAddDoesNotOverwrite(t *testing.T) {
	tr := mustNew(t, config.TransformConfig{
		Request: &config.DirectionTransform{
			AddHeaders: map[string]string{"X-Existing": "new"},
		},
	})

	r := httptest.NewRequest("GET", "/users", nil)
	r.Header.Set("X-Existing", "old")

	tr.ApplyRequest(r)

	if got := r.Header.Get("X-Existing"); got != "old" {
		t.Errorf("X-Existing = %q, add must not overwrite", got)
	}
}

func TestPathRewriteFirstMatchWins(t *testing.T) {
	tr := mustNew(t, config.TransformConfig{
		Request: &config.DirectionTransform{
			PathRewrites: []config.PathRewrite{
				{Pattern: `^/v1/users/(\d+)$`, Replacement: "/users/$1"},
				{Pattern: `^/v1/`, Replacement: "/"},
			},
		},
	})

	tests := []struct {
		in   string
		want string
	}{
		{"/v1/users/42", "/users/42"},
		{"/v1/orders", "/orders"},
		{"/v2/orders", "/v2/orders"},
	}

	for _, tt := range tests {
		r := httptest.NewRequest("GET", tt.in, nil)
		tr.ApplyRequest(r)
		if r.URL.Path != tt.want {
			t.Errorf("rewrite(%s) = %s, want %s", tt.in, r.URL.Path, tt.want)
		}
	}
}

func TestQueryParamTransforms(t *testing.T) {
	tr := mustNew(t, config.TransformConfig{
		Request: &config.DirectionTransform{
			RemoveParams: []string{"debug"},
			AddParams:    map[string]string{"version": "2", "limit": "10"},
			SetParams:    map[string]string{"source": "gateway"},
		},
	})

	r := httptest.NewRequest("GET", "/users?debug=1&limit=50&source=client", nil)
	tr.ApplyRequest(r)

	q := r.URL.Query()
	if q.Get("debug") != "" {
		t.Error("debug param should be removed")
	}
	if q.Get("limit") != "50" {
		t.Errorf("limit = %q, add must not overwrite", q.Get("limit"))
	}
	if q.Get("version") != "2" {
		t.Errorf("version = %q, want 2", q.Get("version"))
	}
	if q.Get("source") != "gateway" {
		t.Errorf("source = %q, set must overwrite", q.Get("source"))
	}
}

func TestInvalidRewritePattern(t *testing.T) {
	_, err := New(config.TransformConfig{
		Request: &config.DirectionTransform{
			PathRewrites: []config.PathRewrite{{Pattern: `([`, Replacement: "/"}},
		},
	})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestResponseHeaderMiddleware(t *testing.T) {
	tr := mustNew(t, config.TransformConfig{
		Response: &config.DirectionTransform{
			RemoveHeaders: []string{"X-Powered-By"},
			SetHeaders:    map[string]string{"X-Frame-Options": "DENY"},
		},
	})

	handler := tr.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Powered-By", "Express")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/users", nil))

	if rr.Header().Get("X-Powered-By") != "" {
		t.Error("X-Powered-By should be removed from the response")
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rr.Body.String())
	}
}

func TestNoRulesIsNoop(t *testing.T) {
	tr := mustNew(t, config.TransformConfig{})

	r := httptest.NewRequest("GET", "/users?a=1", nil)
	tr.ApplyRequest(r)

	if r.URL.Path != "/users" || r.URL.RawQuery != "a=1" {
		t.Errorf("request changed: %s?%s", r.URL.Path, r.URL.RawQuery)
	}
	if tr.HasResponseRules() {
		t.Error("HasResponseRules should be false")
	}
}
