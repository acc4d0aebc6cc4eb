package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Config is the root gateway configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Admin   AdminConfig   `yaml:"admin"`
	Logging LoggingConfig `yaml:"logging"`
	Redis   RedisConfig   `yaml:"redis"`
	Routes  []RouteConfig `yaml:"routes"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ProxyTimeout    time.Duration `yaml:"proxy_timeout"`
}

// AdminConfig holds the admin/metrics listener settings.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RedisConfig holds the shared Redis connection settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RouteConfig defines a single route and its policies.
type RouteConfig struct {
	ID          string   `yaml:"id"`
	Path        string   `yaml:"path"`
	Methods     []string `yaml:"methods"`
	StripPrefix bool     `yaml:"strip_prefix"`

	Backends []BackendConfig `yaml:"backends"`
	Strategy string          `yaml:"strategy"` // round_robin, least_connections, weighted, ip_hash

	Auth        *AuthConfig        `yaml:"auth"`
	RateLimit   *RateLimitConfig   `yaml:"rate_limit"`
	Cache       *CacheConfig       `yaml:"cache"`
	Transform   *TransformConfig   `yaml:"transform"`
	IPFilter    *IPFilterConfig    `yaml:"ip_filter"`
	HealthCheck *HealthCheckConfig `yaml:"health_check"`
	Breaker     *BreakerConfig     `yaml:"circuit_breaker"`
	Retry       *RetryConfig       `yaml:"retry"`
}

// BackendConfig is one upstream target.
type BackendConfig struct {
	URL    string `yaml:"url"`
	Weight int    `yaml:"weight"`
}

// AuthConfig selects and configures an authenticator for a route.
type AuthConfig struct {
	Type     string        `yaml:"type"` // jwt, api_key
	Required bool          `yaml:"required"`
	JWT      *JWTConfig    `yaml:"jwt"`
	APIKey   *APIKeyConfig `yaml:"api_key"`
}

// JWTConfig configures HMAC JWT validation.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// APIKeyConfig configures API key lookup.
type APIKeyConfig struct {
	Header     string        `yaml:"header"`
	QueryParam string        `yaml:"query_param"`
	Keys       []APIKeyEntry `yaml:"keys"`
}

// APIKeyEntry maps a key to a client identity.
type APIKeyEntry struct {
	Key      string `yaml:"key"`
	ClientID string `yaml:"client_id"`
}

// RateLimitConfig configures the per-route limiter.
type RateLimitConfig struct {
	Dimension string        `yaml:"dimension"` // ip, user, api_key, route
	Requests  int           `yaml:"requests"`
	Window    time.Duration `yaml:"window"`
	Burst     int           `yaml:"burst"`     // defaults to Requests
	Algorithm string        `yaml:"algorithm"` // token_bucket, sliding_window, fixed_window
	PerRoute  bool          `yaml:"per_route"` // scope the key to this route
	Backend   string        `yaml:"backend"`   // local, redis
}

// CacheConfig configures the per-route response cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Capacity   int           `yaml:"capacity"`
	TTL        time.Duration `yaml:"ttl"`
	Methods    []string      `yaml:"methods"`
	Statuses   []int         `yaml:"statuses"`
	KeyHeaders []string      `yaml:"key_headers"`
	Backend    string        `yaml:"backend"` // memory, redis
}

// TransformConfig configures request/response transforms.
type TransformConfig struct {
	Request  *DirectionTransform `yaml:"request"`
	Response *DirectionTransform `yaml:"response"`
}

// DirectionTransform holds the rules for one direction.
type DirectionTransform struct {
	RemoveHeaders []string          `yaml:"remove_headers"`
	AddHeaders    map[string]string `yaml:"add_headers"`
	SetHeaders    map[string]string `yaml:"set_headers"`
	PathRewrites  []PathRewrite     `yaml:"path_rewrites"`
	RemoveParams  []string          `yaml:"remove_params"`
	AddParams     map[string]string `yaml:"add_params"`
	SetParams     map[string]string `yaml:"set_params"`
}

// PathRewrite is one regex rewrite rule.
type PathRewrite struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// IPFilterConfig configures the per-route IP filter.
type IPFilterConfig struct {
	Whitelist     []string `yaml:"whitelist"`
	Blacklist     []string `yaml:"blacklist"`
	DefaultAction string   `yaml:"default_action"` // allow (default), deny
}

// HealthCheckConfig configures backend health checking.
type HealthCheckConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	Timeout        time.Duration `yaml:"timeout"`
	Path           string        `yaml:"path"`
	ExpectedStatus string        `yaml:"expected_status"` // "200", "2xx", "200-299"
	HealthyAfter   int           `yaml:"healthy_after"`
	UnhealthyAfter int           `yaml:"unhealthy_after"`
	Passive        bool          `yaml:"passive"`
}

// BreakerConfig configures the per-backend circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests"`
}

// RetryConfig configures the retry policy.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	RetryableStatuses []int         `yaml:"retryable_statuses"`
	RetryableMethods  []string      `yaml:"retryable_methods"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Server.ProxyTimeout == 0 {
		c.Server.ProxyTimeout = 30 * time.Second
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":9090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	for i := range c.Routes {
		c.Routes[i].applyDefaults()
	}
}

func (r *RouteConfig) applyDefaults() {
	if r.ID == "" {
		r.ID = routeIDFromPath(r.Path)
	}
	if r.Strategy == "" {
		r.Strategy = "round_robin"
	}
	for j := range r.Backends {
		if r.Backends[j].Weight == 0 {
			r.Backends[j].Weight = 1
		}
	}
	if rl := r.RateLimit; rl != nil {
		if rl.Dimension == "" {
			rl.Dimension = "ip"
		}
		if rl.Window == 0 {
			rl.Window = time.Minute
		}
		if rl.Burst == 0 {
			rl.Burst = rl.Requests
		}
		if rl.Algorithm == "" {
			rl.Algorithm = "token_bucket"
		}
		if rl.Backend == "" {
			rl.Backend = "local"
		}
	}
	if cc := r.Cache; cc != nil {
		if cc.Capacity == 0 {
			cc.Capacity = 1000
		}
		if cc.TTL == 0 {
			cc.TTL = 300 * time.Second
		}
		if len(cc.Methods) == 0 {
			cc.Methods = []string{"GET", "HEAD"}
		}
		if len(cc.Statuses) == 0 {
			cc.Statuses = []int{200, 301, 302, 404}
		}
		if cc.Backend == "" {
			cc.Backend = "memory"
		}
	}
	if hc := r.HealthCheck; hc != nil {
		if hc.Interval == 0 {
			hc.Interval = 30 * time.Second
		}
		if hc.Timeout == 0 {
			hc.Timeout = 5 * time.Second
		}
		if hc.Path == "" {
			hc.Path = "/health"
		}
		if hc.HealthyAfter == 0 {
			hc.HealthyAfter = 2
		}
		if hc.UnhealthyAfter == 0 {
			hc.UnhealthyAfter = 3
		}
	}
	if b := r.Breaker; b != nil {
		if b.FailureThreshold == 0 {
			b.FailureThreshold = 5
		}
		if b.SuccessThreshold == 0 {
			b.SuccessThreshold = 2
		}
		if b.Timeout == 0 {
			b.Timeout = 30 * time.Second
		}
		if b.HalfOpenRequests == 0 {
			b.HalfOpenRequests = 1
		}
	}
	if rt := r.Retry; rt != nil {
		if rt.InitialBackoff == 0 {
			rt.InitialBackoff = 100 * time.Millisecond
		}
		if rt.MaxBackoff == 0 {
			rt.MaxBackoff = 2 * time.Second
		}
		if rt.BackoffMultiplier == 0 {
			rt.BackoffMultiplier = 2.0
		}
		if len(rt.RetryableStatuses) == 0 {
			rt.RetryableStatuses = []int{502, 503, 504}
		}
		if len(rt.RetryableMethods) == 0 {
			rt.RetryableMethods = []string{"GET", "HEAD", "OPTIONS", "PUT", "DELETE"}
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Routes) == 0 {
		return fmt.Errorf("no routes configured")
	}

	seen := make(map[string]bool, len(c.Routes))
	for i := range c.Routes {
		r := &c.Routes[i]
		if r.Path == "" {
			return fmt.Errorf("route %q: path is required", r.ID)
		}
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("route %q: path must start with /", r.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate route id %q", r.ID)
		}
		seen[r.ID] = true

		if len(r.Backends) == 0 {
			return fmt.Errorf("route %q: at least one backend is required", r.ID)
		}
		for _, b := range r.Backends {
			u, err := url.Parse(b.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("route %q: invalid backend URL %q", r.ID, b.URL)
			}
			if b.Weight < 0 {
				return fmt.Errorf("route %q: backend %q: negative weight", r.ID, b.URL)
			}
		}

		switch r.Strategy {
		case "round_robin", "least_connections", "weighted", "ip_hash":
		default:
			return fmt.Errorf("route %q: unknown strategy %q", r.ID, r.Strategy)
		}

		if err := r.validatePolicies(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RouteConfig) validatePolicies() error {
	if r.Auth != nil {
		switch r.Auth.Type {
		case "jwt":
			if r.Auth.JWT == nil || r.Auth.JWT.Secret == "" {
				return fmt.Errorf("route %q: jwt auth requires a secret", r.ID)
			}
		case "api_key":
			if r.Auth.APIKey == nil || len(r.Auth.APIKey.Keys) == 0 {
				return fmt.Errorf("route %q: api_key auth requires keys", r.ID)
			}
		default:
			return fmt.Errorf("route %q: unknown auth type %q", r.ID, r.Auth.Type)
		}
	}

	if rl := r.RateLimit; rl != nil {
		if rl.Requests <= 0 {
			return fmt.Errorf("route %q: rate_limit requests must be positive", r.ID)
		}
		switch rl.Dimension {
		case "ip", "user", "api_key", "route":
		default:
			return fmt.Errorf("route %q: unknown rate_limit dimension %q", r.ID, rl.Dimension)
		}
		switch rl.Algorithm {
		case "token_bucket", "sliding_window", "fixed_window":
		default:
			return fmt.Errorf("route %q: unknown rate_limit algorithm %q", r.ID, rl.Algorithm)
		}
		switch rl.Backend {
		case "local", "redis":
		default:
			return fmt.Errorf("route %q: unknown rate_limit backend %q", r.ID, rl.Backend)
		}
	}

	if tr := r.Transform; tr != nil && tr.Request != nil {
		for _, pr := range tr.Request.PathRewrites {
			if _, err := regexp.Compile(pr.Pattern); err != nil {
				return fmt.Errorf("route %q: invalid path rewrite pattern %q: %v", r.ID, pr.Pattern, err)
			}
		}
	}

	if f := r.IPFilter; f != nil {
		switch f.DefaultAction {
		case "", "allow", "deny":
		default:
			return fmt.Errorf("route %q: unknown ip_filter default_action %q", r.ID, f.DefaultAction)
		}
	}

	if b := r.Breaker; b != nil && b.Enabled {
		if b.FailureThreshold < 1 || b.SuccessThreshold < 1 || b.HalfOpenRequests < 1 {
			return fmt.Errorf("route %q: circuit_breaker thresholds must be >= 1", r.ID)
		}
	}

	if rt := r.Retry; rt != nil {
		if rt.MaxRetries < 0 {
			return fmt.Errorf("route %q: retry max_retries must be >= 0", r.ID)
		}
		if rt.BackoffMultiplier < 1 {
			return fmt.Errorf("route %q: retry backoff_multiplier must be >= 1", r.ID)
		}
	}

	return nil
}

func routeIDFromPath(path string) string {
	id := strings.Trim(path, "/")
	id = strings.NewReplacer("/", "-", ":", "", "*", "").Replace(id)
	if id == "" {
		id = "root"
	}
	return id
}
