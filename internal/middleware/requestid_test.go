package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/wudi/relay/internal/variables"
)

func TestRequestIDGenerated(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		varCtx := variables.GetFromRequest(r)
		if varCtx.RequestID == "" {
			t.Error("request ID should be set in context")
		}
		if r.Header.Get("X-Request-Id") != varCtx.RequestID {
			t.Error("request ID should be set on the upstream request")
		}
		w.WriteHeader(http.StatusOK)
	})

	final := RequestID()(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	got := rr.Header().Get("X-Request-Id")
	if got == "" {
		t.Fatal("X-Request-Id header should be set in response")
	}
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("generated ID %q is not a UUID: %v", got, err)
	}
}

func TestRequestIDTrusted(t *testing.T) {
	existingID := "existing-request-id"

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		varCtx := variables.GetFromRequest(r)
		if varCtx.RequestID != existingID {
			t.Errorf("expected request ID %s, got %s", existingID, varCtx.RequestID)
		}
		w.WriteHeader(http.StatusOK)
	})

	final := RequestID()(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-Id", existingID)
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-Id") != existingID {
		t.Errorf("expected response header %s, got %s", existingID, rr.Header().Get("X-Request-Id"))
	}
}

func TestRequestIDNotTrusted(t *testing.T) {
	existingID := "existing-request-id"

	final := RequestIDWithConfig(RequestIDConfig{TrustHeader: false})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-Id", existingID)
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	responseID := rr.Header().Get("X-Request-Id")
	if responseID == existingID {
		t.Error("should not use incoming request ID when not trusted")
	}
	if responseID == "" {
		t.Error("should generate a new request ID")
	}
}

func TestRequestIDCustomGenerator(t *testing.T) {
	customID := "custom-generated-id"

	final := RequestIDWithConfig(RequestIDConfig{
		Generator: func() string { return customID },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-Id") != customID {
		t.Errorf("expected custom ID in response, got %s", rr.Header().Get("X-Request-Id"))
	}
}

func TestGetRequestID(t *testing.T) {
	testID := "test-request-id-123"

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r); id != testID {
			t.Errorf("expected %s, got %s", testID, id)
		}
		w.WriteHeader(http.StatusOK)
	})

	final := RequestID()(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-Id", testID)
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)
}
