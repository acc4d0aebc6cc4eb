package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wudi/relay/internal/config"
	"github.com/wudi/relay/internal/errors"
	"github.com/wudi/relay/internal/middleware"
	"github.com/wudi/relay/internal/variables"
)

// Authenticator verifies a request and produces the caller's identity.
type Authenticator interface {
	Authenticate(r *http.Request) (*variables.Identity, error)
}

// healthPaths are probe endpoints that never require authentication.
var healthPaths = map[string]bool{
	"/health":    true,
	"/healthz":   true,
	"/ready":     true,
	"/readiness": true,
	"/ping":      true,
}

// SkipAuth reports whether the path is a health-check endpoint.
func SkipAuth(path string) bool {
	return healthPaths[path]
}

// NewFromConfig builds the authenticator selected by the route config.
func NewFromConfig(cfg *config.AuthConfig) (Authenticator, error) {
	if cfg == nil {
		return nil, nil
	}

	switch cfg.Type {
	case "jwt":
		if cfg.JWT == nil {
			return nil, fmt.Errorf("auth type jwt requires a jwt section")
		}
		return NewJWTAuth(*cfg.JWT)
	case "api_key":
		if cfg.APIKey == nil {
			return nil, fmt.Errorf("auth type api_key requires an api_key section")
		}
		return NewAPIKeyAuth(*cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}

// challenge returns the WWW-Authenticate value for an authenticator.
func challenge(a Authenticator) string {
	if _, ok := a.(*APIKeyAuth); ok {
		return "API-Key"
	}
	return `Bearer realm="api"`
}

// Middleware enforces authentication for a route. Health-check paths
// pass through untouched. When auth is not required a failed attempt
// proceeds without an identity.
func Middleware(a Authenticator, required bool) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if SkipAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := a.Authenticate(r)
			if err != nil {
				if required {
					w.Header().Set("WWW-Authenticate", challenge(a))
					if gatewayErr, ok := err.(*errors.GatewayError); ok {
						gatewayErr.WriteJSON(w)
					} else {
						errors.ErrUnauthorized.WriteJSON(w)
					}
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			varCtx := variables.GetFromRequest(r)
			varCtx.Identity = identity
			ctx := context.WithValue(r.Context(), variables.RequestContextKey{}, varCtx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
