package middleware

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/relay/internal/logging"
	"github.com/wudi/relay/internal/variables"
)

var loggingRWPool = sync.Pool{
	New: func() any { return &loggingResponseWriter{} },
}

// LoggingConfig configures the access log middleware
type LoggingConfig struct {
	// SkipPaths are paths that should not be logged
	SkipPaths []string
}

// Logging creates an access log middleware with default config
func Logging() Middleware {
	return LoggingWithConfig(LoggingConfig{})
}

// LoggingWithConfig creates an access log middleware with custom config
func LoggingWithConfig(cfg LoggingConfig) Middleware {
	skipPaths := make(map[string]bool)
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			lrw := loggingRWPool.Get().(*loggingResponseWriter)
			lrw.ResponseWriter = w
			lrw.status = http.StatusOK
			lrw.bytes = 0

			next.ServeHTTP(lrw, r)

			duration := time.Since(start)
			varCtx := variables.GetFromRequest(r)
			varCtx.Status = lrw.status

			// Stack-allocated array avoids slice growth allocations.
			var fields [12]zap.Field
			n := 0
			fields[n] = zap.String("request_id", varCtx.RequestID)
			n++
			fields[n] = zap.String("remote_addr", variables.ExtractClientIP(r))
			n++
			fields[n] = zap.String("method", r.Method)
			n++
			fields[n] = zap.String("path", r.URL.Path)
			n++
			fields[n] = zap.Int("status", lrw.status)
			n++
			fields[n] = zap.Int64("body_bytes", lrw.bytes)
			n++
			fields[n] = zap.Duration("response_time", duration)
			n++
			if r.URL.RawQuery != "" {
				fields[n] = zap.String("query", r.URL.RawQuery)
				n++
			}
			if varCtx.RouteID != "" {
				fields[n] = zap.String("route_id", varCtx.RouteID)
				n++
			}
			if varCtx.UpstreamAddr != "" {
				fields[n] = zap.String("upstream_addr", varCtx.UpstreamAddr)
				n++
			}
			if varCtx.Identity != nil {
				fields[n] = zap.String("auth_client_id", varCtx.Identity.ClientID)
				n++
			}
			if ua := r.UserAgent(); ua != "" {
				fields[n] = zap.String("user_agent", ua)
				n++
			}

			logging.Info("HTTP request", fields[:n]...)

			lrw.ResponseWriter = nil
			loggingRWPool.Put(lrw)
		})
	}
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and bytes
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Status returns the recorded status code
func (lrw *loggingResponseWriter) Status() int {
	return lrw.status
}

// BytesWritten returns the number of bytes written
func (lrw *loggingResponseWriter) BytesWritten() int64 {
	return lrw.bytes
}
