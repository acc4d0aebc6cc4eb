package circuitbreaker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wudi/relay/internal/config"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject requests
	StateHalfOpen              // Testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker implements the circuit breaker pattern for a single backend.
//
// Closed admits everything and counts consecutive failures. Once the
// failure threshold trips, Open rejects everything until the timeout
// elapses, then HalfOpen admits up to halfOpenRequests probes at a
// time. successThreshold consecutive probe successes close the
// breaker; any probe failure reopens it.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	halfOpenInFlight int
	failureThreshold int
	successThreshold int
	halfOpenRequests int
	timeout          time.Duration
	openedAt         time.Time

	onStateChange func(from, to State)

	// Metrics (atomic for lock-free reads)
	totalRequests  atomic.Int64
	totalFailures  atomic.Int64
	totalSuccesses atomic.Int64
	totalRejected  atomic.Int64

	transitionsToOpen     atomic.Int64
	transitionsToHalfOpen atomic.Int64
	transitionsToClosed   atomic.Int64
}

// NewBreaker creates a new circuit breaker
func NewBreaker(cfg config.BreakerConfig) *Breaker {
	failureThreshold := cfg.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = 5
	}

	successThreshold := cfg.SuccessThreshold
	if successThreshold <= 0 {
		successThreshold = 2
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	halfOpenRequests := cfg.HalfOpenRequests
	if halfOpenRequests <= 0 {
		halfOpenRequests = 1
	}

	return &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		halfOpenRequests: halfOpenRequests,
		timeout:          timeout,
	}
}

// OnStateChange registers a callback invoked after every state
// transition. The callback runs outside the breaker lock.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// transition moves the breaker to a new state. Callers hold b.mu.
// It returns the callback to run after the lock is released.
func (b *Breaker) transition(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to

	switch to {
	case StateOpen:
		b.transitionsToOpen.Add(1)
		b.openedAt = time.Now()
		b.halfOpenInFlight = 0
		b.successCount = 0
	case StateHalfOpen:
		b.transitionsToHalfOpen.Add(1)
		b.successCount = 0
		b.failureCount = 0
	case StateClosed:
		b.transitionsToClosed.Add(1)
		b.failureCount = 0
		b.successCount = 0
		b.halfOpenInFlight = 0
	}

	if fn := b.onStateChange; fn != nil {
		return func() { fn(from, to) }
	}
	return nil
}

// Allow checks if a request should be allowed through the circuit
// breaker. Each call increments exactly one of the admitted or
// rejected totals.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.totalRequests.Add(1)
		b.mu.Unlock()
		return true, nil

	case StateOpen:
		// Check if the cooldown has elapsed
		if time.Since(b.openedAt) >= b.timeout {
			notify := b.transition(StateHalfOpen)
			b.halfOpenInFlight = 1 // this request is the first probe
			b.totalRequests.Add(1)
			b.mu.Unlock()
			if notify != nil {
				notify()
			}
			return true, nil
		}
		b.totalRejected.Add(1)
		b.mu.Unlock()
		return false, fmt.Errorf("circuit breaker is open")

	case StateHalfOpen:
		if b.halfOpenInFlight < b.halfOpenRequests {
			b.halfOpenInFlight++
			b.totalRequests.Add(1)
			b.mu.Unlock()
			return true, nil
		}
		b.totalRejected.Add(1)
		b.mu.Unlock()
		return false, fmt.Errorf("circuit breaker is half-open, probe limit reached")
	}

	b.mu.Unlock()
	return false, fmt.Errorf("unknown circuit breaker state")
}

// RecordSuccess records a successful request
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()

	b.totalSuccesses.Add(1)

	var notify func()
	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.successCount++
		if b.successCount >= b.successThreshold {
			notify = b.transition(StateClosed)
		}
	}

	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// RecordFailure records a failed request
func (b *Breaker) RecordFailure() {
	b.mu.Lock()

	b.totalFailures.Add(1)

	var notify func()
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			notify = b.transition(StateOpen)
		}

	case StateHalfOpen:
		notify = b.transition(StateOpen)
	}

	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// RecordTimeout records a request that timed out. Timeouts count
// against the failure threshold the same as errors.
func (b *Breaker) RecordTimeout() {
	b.RecordFailure()
}

// CurrentState returns the breaker's state. An expired Open breaker
// still reports Open; the half-open transition happens on the next
// Allow.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view of the breaker state
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerSnapshot{
		State:                 b.state.String(),
		FailureCount:          b.failureCount,
		SuccessCount:          b.successCount,
		FailureThreshold:      b.failureThreshold,
		SuccessThreshold:      b.successThreshold,
		TotalRequests:         b.totalRequests.Load(),
		TotalFailures:         b.totalFailures.Load(),
		TotalSuccesses:        b.totalSuccesses.Load(),
		TotalRejected:         b.totalRejected.Load(),
		TransitionsToOpen:     b.transitionsToOpen.Load(),
		TransitionsToHalfOpen: b.transitionsToHalfOpen.Load(),
		TransitionsToClosed:   b.transitionsToClosed.Load(),
	}
}

// BreakerSnapshot is a point-in-time view of a circuit breaker
type BreakerSnapshot struct {
	State                 string `json:"state"`
	FailureCount          int    `json:"failure_count"`
	SuccessCount          int    `json:"success_count"`
	FailureThreshold      int    `json:"failure_threshold"`
	SuccessThreshold      int    `json:"success_threshold"`
	TotalRequests         int64  `json:"total_requests"`
	TotalFailures         int64  `json:"total_failures"`
	TotalSuccesses        int64  `json:"total_successes"`
	TotalRejected         int64  `json:"total_rejected"`
	TransitionsToOpen     int64  `json:"transitions_to_open"`
	TransitionsToHalfOpen int64  `json:"transitions_to_half_open"`
	TransitionsToClosed   int64  `json:"transitions_to_closed"`
}

// Manager holds one breaker per backend URL.
type Manager struct {
	breakers map[string]*Breaker
	cfg      config.BreakerConfig
	onChange func(backend string, from, to State)
	mu       sync.RWMutex
}

// NewManager creates a breaker manager. Every breaker it creates
// shares the same configuration.
func NewManager(cfg config.BreakerConfig, onChange func(backend string, from, to State)) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		onChange: onChange,
	}
}

// Get returns the breaker for a backend, creating it on first use.
func (m *Manager) Get(backend string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[backend]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[backend]; ok {
		return b
	}

	b = NewBreaker(m.cfg)
	if m.onChange != nil {
		url := backend
		b.OnStateChange(func(from, to State) {
			m.onChange(url, from, to)
		})
	}
	m.breakers[backend] = b
	return b
}

// Snapshots returns snapshots of all circuit breakers keyed by backend.
func (m *Manager) Snapshots() map[string]BreakerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]BreakerSnapshot, len(m.breakers))
	for url, b := range m.breakers {
		result[url] = b.Snapshot()
	}
	return result
}
