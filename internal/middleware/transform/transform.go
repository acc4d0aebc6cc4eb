package transform

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/wudi/relay/internal/config"
	"github.com/wudi/relay/internal/middleware"
)

// Transformer applies a route's request and response transforms.
//
// Within each direction the order is fixed: removals first, then adds
// (which only fill in absent values), then sets (which overwrite).
// Path rewrites apply the first matching rule only.
type Transformer struct {
	request  *directionRules
	response *directionRules
}

type directionRules struct {
	removeHeaders []string
	addHeaders    map[string]string
	setHeaders    map[string]string
	rewrites      []compiledRewrite
	removeParams  []string
	addParams     map[string]string
	setParams     map[string]string
}

type compiledRewrite struct {
	re          *regexp.Regexp
	replacement string
}

// New compiles a transformer from config. Invalid rewrite patterns are
// rejected here so a bad route config fails at load time.
func New(cfg config.TransformConfig) (*Transformer, error) {
	t := &Transformer{}

	var err error
	if t.request, err = compileDirection(cfg.Request); err != nil {
		return nil, err
	}
	if t.response, err = compileDirection(cfg.Response); err != nil {
		return nil, err
	}
	return t, nil
}

func compileDirection(dt *config.DirectionTransform) (*directionRules, error) {
	if dt == nil {
		return nil, nil
	}

	rules := &directionRules{
		removeHeaders: dt.RemoveHeaders,
		addHeaders:    dt.AddHeaders,
		setHeaders:    dt.SetHeaders,
		removeParams:  dt.RemoveParams,
		addParams:     dt.AddParams,
		setParams:     dt.SetParams,
	}

	for _, pr := range dt.PathRewrites {
		re, err := regexp.Compile(pr.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid path rewrite pattern %q: %w", pr.Pattern, err)
		}
		rules.rewrites = append(rules.rewrites, compiledRewrite{re: re, replacement: pr.Replacement})
	}
	return rules, nil
}

// applyHeaders mutates h in place: remove, then add-if-absent, then set.
func (rules *directionRules) applyHeaders(h http.Header) {
	for _, name := range rules.removeHeaders {
		h.Del(name)
	}
	for name, value := range rules.addHeaders {
		if h.Get(name) == "" {
			h.Set(name, value)
		}
	}
	for name, value := range rules.setHeaders {
		h.Set(name, value)
	}
}

// rewritePath returns the path after the first matching rewrite rule,
// or the path unchanged.
func (rules *directionRules) rewritePath(path string) string {
	for _, rw := range rules.rewrites {
		if rw.re.MatchString(path) {
			return rw.re.ReplaceAllString(path, rw.replacement)
		}
	}
	return path
}

// applyParams mutates query values: remove, then add-if-absent, then set.
func (rules *directionRules) applyParams(q url.Values) bool {
	changed := false
	for _, name := range rules.removeParams {
		if _, ok := q[name]; ok {
			q.Del(name)
			changed = true
		}
	}
	for name, value := range rules.addParams {
		if _, ok := q[name]; !ok {
			q.Set(name, value)
			changed = true
		}
	}
	for name, value := range rules.setParams {
		q.Set(name, value)
		changed = true
	}
	return changed
}

// ApplyRequest transforms the outgoing request in place.
func (t *Transformer) ApplyRequest(r *http.Request) {
	rules := t.request
	if rules == nil {
		return
	}

	rules.applyHeaders(r.Header)

	if len(rules.rewrites) > 0 {
		r.URL.Path = rules.rewritePath(r.URL.Path)
	}

	if len(rules.removeParams) > 0 || len(rules.addParams) > 0 || len(rules.setParams) > 0 {
		q := r.URL.Query()
		if rules.applyParams(q) {
			r.URL.RawQuery = q.Encode()
		}
	}
}

// ApplyResponseHeaders transforms the response headers in place.
func (t *Transformer) ApplyResponseHeaders(h http.Header) {
	if t.response != nil {
		t.response.applyHeaders(h)
	}
}

// HasResponseRules reports whether any response-side transform exists.
func (t *Transformer) HasResponseRules() bool {
	return t.response != nil
}

// Middleware applies the request transform before the handler runs and
// the response transform just before the first byte of the response.
func (t *Transformer) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.ApplyRequest(r)

			if !t.HasResponseRules() {
				next.ServeHTTP(w, r)
				return
			}

			tw := &transformResponseWriter{ResponseWriter: w, t: t}
			next.ServeHTTP(tw, r)
			tw.applyTransforms()
		})
	}
}

// transformResponseWriter defers header transforms until the response
// headers are about to be flushed.
type transformResponseWriter struct {
	http.ResponseWriter
	t       *Transformer
	applied bool
}

func (w *transformResponseWriter) applyTransforms() {
	if w.applied {
		return
	}
	w.applied = true
	w.t.ApplyResponseHeaders(w.Header())
}

func (w *transformResponseWriter) WriteHeader(statusCode int) {
	w.applyTransforms()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *transformResponseWriter) Write(b []byte) (int, error) {
	w.applyTransforms()
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher
func (w *transformResponseWriter) Flush() {
	w.applyTransforms()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
