package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wudi/relay/internal/config"
	"github.com/wudi/relay/internal/errors"
	"github.com/wudi/relay/internal/variables"
)

// JWTAuth validates HMAC-signed bearer tokens.
type JWTAuth struct {
	secret   []byte
	issuer   string
	audience string
	keyFunc  jwt.Keyfunc
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(cfg config.JWTConfig) (*JWTAuth, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt auth requires a secret")
	}

	auth := &JWTAuth{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
	auth.keyFunc = func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return auth.secret, nil
	}

	return auth, nil
}

// Authenticate verifies the bearer token and returns the identity.
// exp and nbf are always checked; iss and aud only when configured.
func (a *JWTAuth) Authenticate(r *http.Request) (*variables.Identity, error) {
	tokenString := extractBearer(r)
	if tokenString == "" {
		return nil, errors.ErrUnauthorized.WithDetails("Bearer token not provided")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	token, err := jwt.Parse(tokenString, a.keyFunc, opts...)
	if err != nil {
		return nil, errors.ErrUnauthorized.WithDetails(fmt.Sprintf("Invalid token: %v", err))
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.ErrUnauthorized.WithDetails("Invalid token claims")
	}

	clientID := ""
	if sub, _ := claims.GetSubject(); sub != "" {
		clientID = sub
	} else if uid, ok := claims["user_id"].(string); ok {
		clientID = uid
	}

	claimsMap := make(map[string]interface{}, len(claims))
	for k, v := range claims {
		claimsMap[k] = v
	}

	return &variables.Identity{
		ClientID: clientID,
		AuthType: "jwt",
		Claims:   claimsMap,
	}, nil
}

// extractBearer pulls the token from the Authorization header.
func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return auth[7:]
	}
	return ""
}

// GenerateToken signs a token with the configured secret (for testing purposes)
func (a *JWTAuth) GenerateToken(claims map[string]interface{}) (string, error) {
	mapClaims := jwt.MapClaims{}
	for k, v := range claims {
		mapClaims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	return token.SignedString(a.secret)
}
