package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"    // normal operation
	CircuitOpen     CircuitState = "open"      // failing, rejecting calls
	CircuitHalfOpen CircuitState = "half_open" // probing with live calls
)

// ErrCircuitOpen is returned without invoking the wrapped call while the
// circuit is open. Callers can tell a fast-fail from a collaborator error
// with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to open
	SuccessThreshold int           // consecutive half-open successes to close
	Timeout          time.Duration // how long to stay open before probing
}

// DefaultBreakerConfig returns the defaults used for collaborator calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker guards calls to one collaborator. Consecutive failures
// open the circuit; after Timeout the next call probes in half-open; any
// half-open failure reopens immediately.
type CircuitBreaker struct {
	mu                   sync.RWMutex
	name                 string
	config               BreakerConfig
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time
	lastStateChange      time.Time
	totalRequests        int64
	totalFailures        int64
	logger               *zap.Logger
}

func NewCircuitBreaker(name string, config BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultBreakerConfig().Timeout
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
		logger:          logger,
	}
}

// Execute runs fn under the breaker. While open it fast-fails with
// ErrCircuitOpen; fn's own error is returned otherwise.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.config.Timeout {
			cb.transitionTo(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen, CircuitClosed:
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.totalFailures++
	cb.consecutiveFailures++
	cb.consecutiveSuccesses = 0
	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure during the probe returns to open
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.consecutiveSuccesses++
	cb.consecutiveFailures = 0

	if cb.state == CircuitHalfOpen && cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.transitionTo(CircuitClosed)
	}
}

// transitionTo changes state. Caller holds cb.mu.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	if newState == CircuitClosed {
		cb.consecutiveFailures = 0
	}
	if newState == CircuitHalfOpen {
		cb.consecutiveSuccesses = 0
	}

	if cb.logger != nil {
		cb.logger.Info("circuit state change",
			zap.String("breaker", cb.name),
			zap.String("from", string(oldState)),
			zap.String("to", string(newState)))
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// BreakerStats contains circuit breaker statistics.
type BreakerStats struct {
	Name                 string       `json:"name"`
	State                CircuitState `json:"state"`
	TotalRequests        int64        `json:"total_requests"`
	TotalFailures        int64        `json:"total_failures"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	LastStateChange      time.Time    `json:"last_state_change"`
}

func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return BreakerStats{
		Name:                 cb.name,
		State:                cb.state,
		TotalRequests:        cb.totalRequests,
		TotalFailures:        cb.totalFailures,
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		LastStateChange:      cb.lastStateChange,
	}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitClosed {
		cb.transitionTo(CircuitClosed)
	}
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
}
