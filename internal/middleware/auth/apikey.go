package auth

import (
	"net/http"

	"github.com/wudi/relay/internal/config"
	"github.com/wudi/relay/internal/errors"
	"github.com/wudi/relay/internal/variables"
)

// APIKeyAuth provides API key authentication
type APIKeyAuth struct {
	header     string
	queryParam string
	keys       map[string]string // key -> clientID
}

// NewAPIKeyAuth creates a new API key authenticator
func NewAPIKeyAuth(cfg config.APIKeyConfig) *APIKeyAuth {
	auth := &APIKeyAuth{
		header:     cfg.Header,
		queryParam: cfg.QueryParam,
		keys:       make(map[string]string, len(cfg.Keys)),
	}

	if auth.header == "" && auth.queryParam == "" {
		auth.header = "X-API-Key"
	}

	for _, entry := range cfg.Keys {
		auth.keys[entry.Key] = entry.ClientID
	}

	return auth
}

// Authenticate verifies the API key and returns the identity
func (a *APIKeyAuth) Authenticate(r *http.Request) (*variables.Identity, error) {
	apiKey := a.extractKey(r)
	if apiKey == "" {
		return nil, errors.ErrUnauthorized.WithDetails("API key not provided")
	}

	clientID, ok := a.keys[apiKey]
	if !ok {
		return nil, errors.ErrUnauthorized.WithDetails("Invalid API key")
	}

	return &variables.Identity{
		ClientID: clientID,
		AuthType: "api_key",
		Claims:   map[string]interface{}{"client_id": clientID},
	}, nil
}

// extractKey checks the header first, then the query parameter.
func (a *APIKeyAuth) extractKey(r *http.Request) string {
	if a.header != "" {
		if key := r.Header.Get(a.header); key != "" {
			return key
		}
	}
	if a.queryParam != "" {
		if key := r.URL.Query().Get(a.queryParam); key != "" {
			return key
		}
	}
	return ""
}

// ValidateKey validates an API key without creating identity
func (a *APIKeyAuth) ValidateKey(key string) (clientID string, valid bool) {
	clientID, valid = a.keys[key]
	return
}
