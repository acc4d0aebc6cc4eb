package variables

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "10.1.2.3:5555",
			want:       "10.1.2.3",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.1.2.3:5555",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for chain takes first",
			remoteAddr: "10.1.2.3:5555",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1, 10.0.0.2"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.1.2.3:5555",
			headers:    map[string]string{"X-Real-IP": "198.51.100.9"},
			want:       "198.51.100.9",
		},
		{
			name:       "forwarded-for beats real-ip",
			remoteAddr: "10.1.2.3:5555",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.7",
				"X-Real-IP":       "198.51.100.9",
			},
			want: "203.0.113.7",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "10.1.2.3",
			want:       "10.1.2.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ExtractClientIP(r); got != tt.want {
				t.Errorf("ExtractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"

	// Without a stored context, a fresh one is built
	vc := GetFromRequest(r)
	if vc.ClientIP != "192.0.2.1" {
		t.Errorf("ClientIP = %q, want %q", vc.ClientIP, "192.0.2.1")
	}

	// With a stored context, the stored one is returned
	vc.RouteID = "orders"
	r2 := r.WithContext(context.WithValue(r.Context(), RequestContextKey{}, vc))
	got := GetFromRequest(r2)
	if got != vc {
		t.Error("GetFromRequest should return the stored context")
	}
	if got.RouteID != "orders" {
		t.Errorf("RouteID = %q, want %q", got.RouteID, "orders")
	}
}
