package ipfilter

import (
	"fmt"
	"net"
	"net/http"

	"github.com/wudi/relay/internal/byroute"
	"github.com/wudi/relay/internal/config"
	"github.com/wudi/relay/internal/errors"
	"github.com/wudi/relay/internal/variables"
)

// rule is one compiled CIDR entry. The v4 flag pins the rule to one
// address family: a v4 rule never matches a v6 client and vice versa,
// so ::ffff-mapped addresses cannot sneak past a v4 blacklist.
type rule struct {
	net *net.IPNet
	v4  bool
}

func (ru rule) matches(ip net.IP) bool {
	if ru.v4 != (ip.To4() != nil) {
		return false
	}
	return ru.net.Contains(ip)
}

// Filter checks client IPs against a blacklist and a whitelist.
//
// The blacklist is checked first and wins outright. A non-empty
// whitelist then acts as the only way in. Otherwise the default
// action applies.
type Filter struct {
	whitelist    []rule
	blacklist    []rule
	defaultAllow bool
}

// New creates a new IP filter from config
func New(cfg config.IPFilterConfig) (*Filter, error) {
	f := &Filter{
		defaultAllow: cfg.DefaultAction != "deny",
	}

	var err error
	if f.whitelist, err = compileRules(cfg.Whitelist); err != nil {
		return nil, fmt.Errorf("whitelist: %w", err)
	}
	if f.blacklist, err = compileRules(cfg.Blacklist); err != nil {
		return nil, fmt.Errorf("blacklist: %w", err)
	}

	return f, nil
}

// compileRules parses CIDR entries. Bare IPs become host routes.
func compileRules(entries []string) ([]rule, error) {
	rules := make([]rule, 0, len(entries))
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid CIDR or IP %q", entry)
			}
			if ip.To4() != nil {
				_, ipNet, _ = net.ParseCIDR(entry + "/32")
			} else {
				_, ipNet, _ = net.ParseCIDR(entry + "/128")
			}
		}
		rules = append(rules, rule{
			net: ipNet,
			v4:  ipNet.IP.To4() != nil,
		})
	}
	return rules, nil
}

// Allow reports whether the client IP may pass.
func (f *Filter) Allow(clientIP string) bool {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}

	for _, ru := range f.blacklist {
		if ru.matches(ip) {
			return false
		}
	}

	if len(f.whitelist) > 0 {
		for _, ru := range f.whitelist {
			if ru.matches(ip) {
				return true
			}
		}
		return false
	}

	return f.defaultAllow
}

// Check extracts the client IP from the request and applies the filter.
func (f *Filter) Check(r *http.Request) bool {
	return f.Allow(variables.ExtractClientIP(r))
}

// IPFilterByRoute manages IP filters per route
type IPFilterByRoute struct {
	byroute.Manager[*Filter]
}

// NewIPFilterByRoute creates a new per-route IP filter manager
func NewIPFilterByRoute() *IPFilterByRoute {
	return &IPFilterByRoute{}
}

// AddRoute adds an IP filter for a route
func (m *IPFilterByRoute) AddRoute(routeID string, cfg config.IPFilterConfig) error {
	f, err := New(cfg)
	if err != nil {
		return err
	}
	m.Add(routeID, f)
	return nil
}

// GetFilter returns the IP filter for a route
func (m *IPFilterByRoute) GetFilter(routeID string) *Filter {
	v, _ := m.Get(routeID)
	return v
}

// CheckRequest checks if a request is allowed by the route's IP filter
func (m *IPFilterByRoute) CheckRequest(routeID string, r *http.Request) bool {
	f := m.GetFilter(routeID)
	if f == nil {
		return true
	}
	return f.Check(r)
}

// RejectRequest sends a 403 Forbidden response
func RejectRequest(w http.ResponseWriter) {
	errors.ErrForbidden.WithDetails("IP address not allowed").WriteJSON(w)
}
