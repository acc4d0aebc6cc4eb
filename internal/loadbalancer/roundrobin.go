package loadbalancer

import (
	"sync/atomic"
)

// RoundRobin distributes requests evenly across healthy backends.
type RoundRobin struct {
	baseBalancer
	counter uint64
}

// NewRoundRobin creates a new round-robin balancer.
func NewRoundRobin(backends []*Backend) *RoundRobin {
	rr := &RoundRobin{}
	for _, b := range backends {
		if b.Weight == 0 {
			b.Weight = 1
		}
	}
	rr.backends = backends
	rr.mu.Lock()
	rr.buildIndex()
	rr.mu.Unlock()
	return rr
}

// Next returns the next healthy backend, or nil when none are healthy.
func (rr *RoundRobin) Next() *Backend {
	healthy := rr.CachedHealthyBackends()
	if len(healthy) == 0 {
		return nil
	}
	idx := atomic.AddUint64(&rr.counter, 1)
	return healthy[(idx-1)%uint64(len(healthy))]
}
