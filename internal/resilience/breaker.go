// Package resilience guards calls to external services and reports their
// health.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // calls pass through
	CircuitOpen     CircuitState = "OPEN"      // calls are rejected
	CircuitHalfOpen CircuitState = "HALF_OPEN" // probing for recovery
)

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that open the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it again.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the defaults used for event publishing.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// Breaker is a synchronous circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	openedAt    time.Time
	lastFailure error

	calls    int64
	failed   int64
	rejected int64
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	return &Breaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// Call runs fn unless the circuit is open, in which case it returns
// ErrCircuitOpen without calling fn.
func (b *Breaker) Call(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen {
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			b.rejected++
			return ErrCircuitOpen
		}
		b.transitionTo(CircuitHalfOpen)
	}
	b.calls++
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case CircuitHalfOpen:
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.transitionTo(CircuitClosed)
			}
		case CircuitClosed:
			b.failures = 0
		}
		return
	}

	b.failed++
	b.lastFailure = err
	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transitionTo(CircuitOpen)
	}
}

func (b *Breaker) transitionTo(state CircuitState) {
	b.state = state
	b.failures = 0
	b.successes = 0
	if state == CircuitOpen {
		b.openedAt = b.now()
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// BreakerStats holds breaker counters.
type BreakerStats struct {
	Name        string       `json:"name"`
	State       CircuitState `json:"state"`
	Calls       int64        `json:"calls"`
	Failed      int64        `json:"failed"`
	Rejected    int64        `json:"rejected"`
	LastFailure string       `json:"last_failure,omitempty"`
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BreakerStats{
		Name:     b.name,
		State:    b.state,
		Calls:    b.calls,
		Failed:   b.failed,
		Rejected: b.rejected,
	}
	if b.lastFailure != nil {
		s.LastFailure = b.lastFailure.Error()
	}
	return s
}
