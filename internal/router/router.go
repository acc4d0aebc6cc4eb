package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/wudi/relay/internal/config"
	"github.com/wudi/relay/internal/errors"
)

// Route is a registered route with its configuration.
type Route struct {
	ID          string
	Path        string
	Methods     []string
	StripPrefix bool
	Config      *config.RouteConfig

	// literal prefix before the first :param or *wildcard segment,
	// used by BuildBackendPath when StripPrefix is set
	prefix string
}

// Match is the result of a successful route lookup.
type Match struct {
	Route  *Route
	Params map[string]string
}

// allMethods is the method set used when a route declares none.
var allMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// Router matches requests against the registered route table.
// Patterns use :name for single-segment params and a trailing *name
// wildcard for the rest of the path.
type Router struct {
	tree   *httprouter.Router
	routes map[string]*Route // by ID
}

// captureWriter is a throwaway ResponseWriter passed to tree handles so
// a Lookup can report which route matched without serving anything.
type captureWriter struct {
	route *Route
}

func (c *captureWriter) Header() http.Header       { return http.Header{} }
func (c *captureWriter) Write(b []byte) (int, error) { return len(b), nil }
func (c *captureWriter) WriteHeader(int)           {}

// New builds a router from route configs. Conflicting or duplicate
// patterns are reported as errors.
func New(routeCfgs []config.RouteConfig) (*Router, error) {
	rt := &Router{
		tree:   httprouter.New(),
		routes: make(map[string]*Route, len(routeCfgs)),
	}
	rt.tree.RedirectTrailingSlash = false
	rt.tree.RedirectFixedPath = false

	for i := range routeCfgs {
		cfg := &routeCfgs[i]
		route := &Route{
			ID:          cfg.ID,
			Path:        cfg.Path,
			Methods:     normalizeMethods(cfg.Methods),
			StripPrefix: cfg.StripPrefix,
			Config:      cfg,
			prefix:      literalPrefix(cfg.Path),
		}

		methods := route.Methods
		if len(methods) == 0 {
			methods = allMethods
		}
		for _, m := range methods {
			if err := rt.register(m, route); err != nil {
				return nil, err
			}
		}
		rt.routes[route.ID] = route
	}
	return rt, nil
}

// register adds one method+pattern pair to the tree, converting
// httprouter registration panics (pattern conflicts, duplicates)
// into errors.
func (rt *Router) register(method string, route *Route) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("route %q: pattern %q conflicts: %v", route.ID, route.Path, r)
		}
	}()
	rt.tree.Handle(method, route.Path, func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		if cw, ok := w.(*captureWriter); ok {
			cw.route = route
		}
	})
	return nil
}

// Match resolves a request path and method against the route table.
// A path with no matching pattern returns ErrNotFound; a matching
// pattern whose method set excludes the request method returns
// ErrMethodNotAllowed.
func (rt *Router) Match(method, path string) (*Match, *errors.GatewayError) {
	handle, params, _ := rt.tree.Lookup(method, path)
	if handle != nil {
		cw := &captureWriter{}
		handle(cw, nil, nil)
		if cw.route == nil {
			return nil, errors.ErrNotFound
		}
		return &Match{Route: cw.route, Params: paramMap(params)}, nil
	}

	// Pattern exists under another method?
	for _, m := range allMethods {
		if m == method {
			continue
		}
		if h, _, _ := rt.tree.Lookup(m, path); h != nil {
			return nil, errors.ErrMethodNotAllowed
		}
	}
	return nil, errors.ErrNotFound
}

// BuildBackendPath returns the path to forward for a matched request.
// With StripPrefix, the route's literal prefix is removed; an empty
// result becomes "/".
func (r *Route) BuildBackendPath(requestPath string) string {
	if !r.StripPrefix || r.prefix == "" || r.prefix == "/" {
		return requestPath
	}
	stripped := strings.TrimPrefix(requestPath, strings.TrimSuffix(r.prefix, "/"))
	if stripped == "" {
		return "/"
	}
	if stripped[0] != '/' {
		stripped = "/" + stripped
	}
	return stripped
}

// Routes returns the route table indexed by ID.
func (rt *Router) Routes() map[string]*Route {
	return rt.routes
}

// Get returns a route by ID.
func (rt *Router) Get(id string) *Route {
	return rt.routes[id]
}

func normalizeMethods(methods []string) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		out = append(out, strings.ToUpper(m))
	}
	return out
}

// literalPrefix returns the static part of a pattern before the first
// :param or *wildcard segment.
func literalPrefix(pattern string) string {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == ':' || pattern[i] == '*' {
			j := strings.LastIndexByte(pattern[:i], '/')
			if j < 0 {
				return ""
			}
			return pattern[:j+1]
		}
	}
	return pattern
}

func paramMap(params httprouter.Params) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for _, p := range params {
		v := p.Value
		if strings.HasPrefix(v, "/") {
			v = v[1:] // wildcard values carry a leading slash
		}
		out[p.Key] = v
	}
	return out
}
