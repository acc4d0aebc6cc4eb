package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gwerrors "github.com/wudi/relay/internal/errors"
	"github.com/wudi/relay/internal/retry"
	"github.com/wudi/relay/internal/variables"
)

// Proxy forwards requests to backends over a shared transport.
type Proxy struct {
	transport      http.RoundTripper
	defaultTimeout time.Duration
}

// Config holds proxy configuration
type Config struct {
	Transport      http.RoundTripper
	DefaultTimeout time.Duration
}

// New creates a new proxy
func New(cfg Config) *Proxy {
	transport := cfg.Transport
	if transport == nil {
		transport = DefaultTransport()
	}

	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Proxy{
		transport:      transport,
		defaultTimeout: timeout,
	}
}

// Transport returns the underlying round tripper.
func (p *Proxy) Transport() http.RoundTripper {
	return p.transport
}

// BufferBody reads the request body into memory and installs GetBody so
// retries replay identical bytes. A nil or http.NoBody body is left alone.
func BufferBody(r *http.Request) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	data, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return err
	}

	r.Body = io.NopCloser(bytes.NewReader(data))
	r.ContentLength = int64(len(data))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}

// BuildRequest creates the outbound request for a backend. backendPath
// is joined onto the target's base path; the query string is carried
// over as-is. Hop-by-hop headers are stripped and the X-Forwarded
// family is set.
func (p *Proxy) BuildRequest(ctx context.Context, r *http.Request, target *url.URL, backendPath string) *http.Request {
	targetURL := *target
	targetURL.Path = singleJoiningSlash(target.Path, backendPath)
	targetURL.RawQuery = r.URL.RawQuery

	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           &targetURL,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          r.Body,
		GetBody:       r.GetBody,
		ContentLength: r.ContentLength,
		Host:          target.Host,
	}).WithContext(ctx)

	proxyReq.Header = make(http.Header, len(r.Header)+3)
	for k, vv := range r.Header {
		proxyReq.Header[k] = vv
	}

	if clientIP := variables.ExtractClientIP(r); clientIP != "" {
		if prior := proxyReq.Header.Get("X-Forwarded-For"); prior != "" {
			proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			proxyReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}

	if r.TLS != nil {
		proxyReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		proxyReq.Header.Set("X-Forwarded-Proto", "http")
	}

	proxyReq.Header.Set("X-Forwarded-Host", r.Host)

	removeHopHeaders(proxyReq.Header)

	return proxyReq
}

// Do sends the request, applying the default timeout when the context
// has no deadline and the route's retry policy when one is configured.
func (p *Proxy) Do(ctx context.Context, req *http.Request, policy *retry.Policy) (*http.Response, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
		req = req.WithContext(ctx)
		resp, err := p.roundTrip(ctx, req, policy)
		if err != nil {
			cancel()
			return nil, err
		}
		// The body outlives this call; cancel once it is drained or closed.
		resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return p.roundTrip(ctx, req, policy)
}

func (p *Proxy) roundTrip(ctx context.Context, req *http.Request, policy *retry.Policy) (*http.Response, error) {
	if policy != nil {
		return policy.Execute(ctx, p.transport, req)
	}
	return p.transport.RoundTrip(req.WithContext(ctx))
}

type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// WriteResponse copies the backend response to the client, stripping
// hop-by-hop headers. The strip happens on resp.Header itself, so
// callers that snapshot the headers afterwards see the cleaned set.
func (p *Proxy) WriteResponse(w http.ResponseWriter, resp *http.Response) {
	removeHopHeaders(resp.Header)

	dst := w.Header()
	for k, vv := range resp.Header {
		dst[k] = append(dst[k][:0:0], vv...)
	}

	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// WriteError maps a transport failure to the gateway error body:
// a deadline becomes 504, everything else 502.
func (p *Proxy) WriteError(w http.ResponseWriter, err error) {
	if IsTimeout(err) {
		gwerrors.ErrGatewayTimeout.WriteJSON(w)
		return
	}
	gwerrors.ErrBadGateway.WithDetails(err.Error()).WriteJSON(w)
}

// IsTimeout reports whether the proxy error was a deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Hop-by-hop headers that should be removed
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// singleJoiningSlash joins two URL paths with a single slash
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
