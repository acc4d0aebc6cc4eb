package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecovery(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	final := Recovery()(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()

	// Should not panic
	final.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body["error"] == nil {
		t.Error("expected error field in response body")
	}
}

func TestRecoveryWithConfig(t *testing.T) {
	var loggedErr interface{}
	var loggedStack []byte

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("custom panic")
	})

	final := RecoveryWithConfig(RecoveryConfig{
		PrintStack: true,
		LogFunc: func(err interface{}, stack []byte) {
			loggedErr = err
			loggedStack = stack
		},
	})(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	if loggedErr != "custom panic" {
		t.Errorf("expected 'custom panic', got %v", loggedErr)
	}
	if len(loggedStack) == 0 {
		t.Error("expected stack trace to be captured")
	}
}

func TestRecoveryNoPanic(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	})

	final := Recovery()(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "success" {
		t.Errorf("expected 'success', got %s", rr.Body.String())
	}
}

func TestRecoveryWithoutStack(t *testing.T) {
	var loggedStack []byte
	var logCalled bool

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("no-stack panic")
	})

	final := RecoveryWithConfig(RecoveryConfig{
		PrintStack: false,
		LogFunc: func(err interface{}, stack []byte) {
			logCalled = true
			loggedStack = stack
		},
	})(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	if !logCalled {
		t.Error("LogFunc should have been called")
	}
	if len(loggedStack) != 0 {
		t.Errorf("expected empty stack trace when PrintStack=false, got %d bytes", len(loggedStack))
	}
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestRecoveryNilLogFunc(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil-log panic")
	})

	final := RecoveryWithConfig(RecoveryConfig{})(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()

	// Should not panic even with nil LogFunc.
	final.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}
