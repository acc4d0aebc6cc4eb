package loadbalancer

import (
	"sync/atomic"
)

// Weighted implements weighted round-robin with exact distribution:
// over any window of totalWeight consecutive picks, each backend is
// chosen exactly weight times.
type Weighted struct {
	baseBalancer
	counter uint64
}

// NewWeighted creates a new weighted balancer.
func NewWeighted(backends []*Backend) *Weighted {
	w := &Weighted{}
	w.backends = backends
	w.mu.Lock()
	w.buildIndex()
	w.mu.Unlock()
	return w
}

// Next walks the cumulative weights of the healthy backends at
// counter mod total weight. All-zero weights degrade to round-robin.
func (w *Weighted) Next() *Backend {
	healthy := w.CachedHealthyBackends()
	if len(healthy) == 0 {
		return nil
	}

	totalWeight := 0
	for _, b := range healthy {
		totalWeight += b.Weight
	}

	idx := atomic.AddUint64(&w.counter, 1) - 1

	if totalWeight == 0 {
		return healthy[idx%uint64(len(healthy))]
	}

	position := int(idx % uint64(totalWeight))
	cumulative := 0
	for _, b := range healthy {
		cumulative += b.Weight
		if position < cumulative {
			return b
		}
	}
	return healthy[0]
}
