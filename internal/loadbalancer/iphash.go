package loadbalancer

import (
	"net"
)

// IPHash pins each client IP to a backend: the hashed IP indexes the
// healthy set, so a client keeps its backend for as long as the healthy
// set is unchanged.
type IPHash struct {
	baseBalancer
}

// NewIPHash creates a new IP-hash balancer.
func NewIPHash(backends []*Backend) *IPHash {
	ih := &IPHash{}
	ih.backends = backends
	ih.mu.Lock()
	ih.buildIndex()
	ih.mu.Unlock()
	return ih
}

// NextForIP picks the backend for the given client IP.
func (ih *IPHash) NextForIP(clientIP string) *Backend {
	healthy := ih.CachedHealthyBackends()
	if len(healthy) == 0 {
		return nil
	}

	ip := net.ParseIP(clientIP)
	if ip == nil {
		return healthy[0]
	}

	return healthy[hashIP(ip)%uint64(len(healthy))]
}

// Next without a request IP falls back to the first healthy backend.
func (ih *IPHash) Next() *Backend {
	healthy := ih.CachedHealthyBackends()
	if len(healthy) == 0 {
		return nil
	}
	return healthy[0]
}

// hashIP packs an IPv4 address's octets, or the first four 16-bit
// segments of an IPv6 address, into an integer.
func hashIP(ip net.IP) uint64 {
	if v4 := ip.To4(); v4 != nil {
		return uint64(v4[0])<<24 | uint64(v4[1])<<16 | uint64(v4[2])<<8 | uint64(v4[3])
	}
	v6 := ip.To16()
	seg := func(i int) uint64 { return uint64(v6[2*i])<<8 | uint64(v6[2*i+1]) }
	return seg(0)<<48 | seg(1)<<32 | seg(2)<<16 | seg(3)
}
