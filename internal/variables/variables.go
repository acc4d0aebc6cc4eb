package variables

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Identity is the authenticated principal attached to a request.
// Claims are opaque to the rest of the gateway.
type Identity struct {
	ClientID string
	AuthType string // "jwt", "api_key"
	Claims   map[string]interface{}
}

// Context carries per-request state through the pipeline.
type Context struct {
	Request      *http.Request
	RequestID    string
	RouteID      string
	PathParams   map[string]string
	Identity     *Identity
	ClientIP     string
	UpstreamAddr string
	StartTime    time.Time
	Status       int
}

// RequestContextKey is the context key for the variable context
type RequestContextKey struct{}

// NewContext creates a variable context for a request.
func NewContext(r *http.Request) *Context {
	return &Context{
		Request:   r,
		StartTime: time.Now(),
		ClientIP:  ExtractClientIP(r),
	}
}

// GetFromRequest extracts the variable context from an HTTP request
func GetFromRequest(r *http.Request) *Context {
	if ctx, ok := r.Context().Value(RequestContextKey{}).(*Context); ok {
		return ctx
	}
	return NewContext(r)
}

// ExtractClientIP extracts the real client IP from the request.
// X-Forwarded-For (first entry) wins, then X-Real-IP, then RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
