package infra

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject requests
	StateHalfOpen              // Testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker guards a flaky outbound dependency (here, the
// notification channel). Thread-safe for concurrent use.
type CircuitBreaker struct {
	name string
	mu   sync.RWMutex

	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
	lastOpened   time.Time

	// Configuration
	failureThreshold int           // Failures before opening
	successThreshold int           // Consecutive successes before closing (in half-open)
	timeout          time.Duration // Time before trying half-open
}

// CircuitBreakerConfig holds configuration for creating a circuit breaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// NewCircuitBreaker creates a new circuit breaker. Zero or negative
// thresholds fall back to the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
	}
}

// Allow checks if a delivery should be attempted.
// Returns true if the request can proceed, false if it should be rejected.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		// Check if timeout has passed
		if time.Since(cb.lastOpened) > cb.timeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
			slog.Info("Circuit breaker transitioning to HALF_OPEN",
				slog.String("name", cb.name))
			return true
		}
		return false

	case StateHalfOpen:
		// Allow trial requests in half-open state
		return true

	default:
		return false
	}
}

// RecordSuccess records a successful delivery.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			slog.Info("Circuit breaker CLOSED (recovered)",
				slog.String("name", cb.name))
		}
	}
}

// RecordFailure records a failed delivery.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
			cb.lastOpened = cb.lastFailure
			slog.Warn("Circuit breaker OPEN (failures exceeded threshold)",
				slog.String("name", cb.name),
				slog.Int("failures", cb.failureCount))
		}

	case StateHalfOpen:
		// Any failure in half-open immediately reopens
		cb.state = StateOpen
		cb.lastOpened = cb.lastFailure
		cb.successCount = 0
		slog.Warn("Circuit breaker OPEN (half-open trial failed)",
			slog.String("name", cb.name))
	}
}

// GetState returns the current state (for monitoring).
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Counts returns the current failure and trial-success counters.
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failureCount, cb.successCount
}

// Reset forces the circuit breaker to closed state (admin action,
// always succeeds).
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	slog.Info("Circuit breaker RESET", slog.String("name", cb.name))
}
