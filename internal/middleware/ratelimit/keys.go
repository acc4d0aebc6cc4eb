package ratelimit

import (
	"net/http"
	"strings"

	"github.com/wudi/relay/internal/variables"
)

// keyPrefix namespaces limiter keys so they can share a Redis database
// with the response cache.
const keyPrefix = "gateway:ratelimit:"

// Rate limit dimensions. The dimension decides whose counter a request
// debits.
const (
	DimensionIP     = "ip"
	DimensionUser   = "user"
	DimensionAPIKey = "api_key"
	DimensionRoute  = "route"
)

// ValidDimension reports whether d names a known dimension.
func ValidDimension(d string) bool {
	switch d {
	case DimensionIP, DimensionUser, DimensionAPIKey, DimensionRoute:
		return true
	}
	return false
}

// BuildKeyFunc returns the key extraction function for a dimension.
// Keys look like "gateway:ratelimit:ip:203.0.113.7:orders". The route
// suffix keeps counters of different routes apart when they share a
// Redis database. When the dimension's identifier cannot be resolved
// (user with no authenticated identity, api_key with no key on the
// request) the function reports ok=false and the check is skipped.
func BuildKeyFunc(dimension, routeID string) func(*http.Request) (string, bool) {
	suffix := ""
	if routeID != "" {
		suffix = ":" + routeID
	}

	switch dimension {
	case DimensionUser:
		return func(r *http.Request) (string, bool) {
			varCtx := variables.GetFromRequest(r)
			if varCtx.Identity != nil && varCtx.Identity.ClientID != "" {
				return keyPrefix + DimensionUser + ":" + varCtx.Identity.ClientID + suffix, true
			}
			return "", false
		}

	case DimensionAPIKey:
		return func(r *http.Request) (string, bool) {
			varCtx := variables.GetFromRequest(r)
			if varCtx.Identity != nil && varCtx.Identity.AuthType == "api_key" && varCtx.Identity.ClientID != "" {
				return keyPrefix + DimensionAPIKey + ":" + varCtx.Identity.ClientID + suffix, true
			}
			if key := apiKeyFromRequest(r); key != "" {
				return keyPrefix + DimensionAPIKey + ":" + key + suffix, true
			}
			return "", false
		}

	case DimensionRoute:
		// One bucket per client per route, so a single client cannot
		// exhaust the route for everyone else.
		return func(r *http.Request) (string, bool) {
			return keyPrefix + DimensionRoute + ":" + variables.ExtractClientIP(r) + suffix, true
		}

	default:
		return func(r *http.Request) (string, bool) {
			return keyPrefix + DimensionIP + ":" + variables.ExtractClientIP(r) + suffix, true
		}
	}
}

// apiKeyFromRequest pulls an unauthenticated API key off the request
// for keying purposes only.
func apiKeyFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-API-Key"); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("api_key")
}
