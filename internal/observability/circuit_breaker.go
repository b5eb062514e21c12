// Package observability provides circuit breaker implementation for external connections.
package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/retail-reco/internal/domain"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	// StateClosed indicates the circuit is closed and operations are allowed.
	StateClosed CircuitBreakerState = iota
	// StateOpen indicates the circuit is open and operations are blocked for a cooldown period.
	StateOpen
	// StateHalfOpen indicates a trial state where operations are allowed to test recovery.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds per-instance circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	SuccessThreshold int
	OpTimeout        time.Duration
}

// DefaultBreakerConfig returns the standard thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		SuccessThreshold: 3,
		OpTimeout:        30 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = d.OpTimeout
	}
	return c
}

// CircuitBreaker implements the circuit breaker pattern.
// Transitions: CLOSED->OPEN on FailureThreshold consecutive failures,
// OPEN->HALF_OPEN on elapsed cooldown, HALF_OPEN->CLOSED on SuccessThreshold
// consecutive successes, HALF_OPEN->OPEN on any failure.
type CircuitBreaker struct {
	mu sync.Mutex

	name string
	cfg  BreakerConfig

	state           CircuitBreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	totalCalls     int64
	totalFailures  int64
	totalSuccesses int64
	rejectedCalls  int64
	stateChanges   int64

	onStateChange func(name string, state CircuitBreakerState)
}

// NewCircuitBreaker creates a new circuit breaker. Zero-value config fields
// take the defaults.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: StateClosed,
	}
}

// OnStateChange registers a hook invoked on every state transition, e.g. to
// feed a gauge. Must be set before the breaker is shared.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, state CircuitBreakerState)) {
	cb.onStateChange = fn
}

// Name returns the breaker's identifier.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Do runs op under the breaker and the configured operation timeout. When the
// circuit is open or op fails, fallback (if non-nil) is invoked with the
// original error and its result is returned; otherwise the error propagates.
func (cb *CircuitBreaker) Do(ctx context.Context, op func(context.Context) error, fallback func(context.Context, error) error) error {
	if !cb.CanExecute() {
		if fallback != nil {
			return fallback(ctx, domain.ErrCircuitOpen)
		}
		return domain.ErrCircuitOpen
	}

	opCtx, cancel := context.WithTimeout(ctx, cb.cfg.OpTimeout)
	defer cancel()

	if err := op(opCtx); err != nil {
		cb.RecordFailure()
		if fallback != nil {
			return fallback(ctx, err)
		}
		return err
	}
	cb.RecordSuccess()
	return nil
}

// CanExecute returns true if the circuit breaker allows execution. An open
// circuit whose cooldown has elapsed transitions to half-open and allows the
// trial call.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.cfg.Cooldown {
			cb.transition(StateHalfOpen)
			cb.failureCount = 0
			cb.successCount = 0
			return true
		}
		cb.rejectedCalls++
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful operation
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	cb.totalSuccesses++

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure records a failed operation
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	cb.totalFailures++
	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
			slog.Warn("circuit breaker opened due to failure threshold",
				slog.String("breaker", cb.name),
				slog.Int("failure_count", cb.failureCount),
				slog.Int("failure_threshold", cb.cfg.FailureThreshold))
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
		slog.Warn("circuit breaker opened due to failure in half-open state",
			slog.String("breaker", cb.name))
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.stateChanges++
	if to == StateHalfOpen {
		slog.Info("circuit breaker transitioning to half-open",
			slog.String("breaker", cb.name),
			slog.Duration("cooldown", cb.cfg.Cooldown),
			slog.Time("last_failure", cb.lastFailureTime))
	}
	if to == StateClosed && from == StateHalfOpen {
		slog.Info("circuit breaker closed due to success threshold",
			slog.String("breaker", cb.name),
			slog.Int("success_threshold", cb.cfg.SuccessThreshold))
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, to)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	successRate := float64(0)
	if cb.totalCalls > 0 {
		successRate = float64(cb.totalSuccesses) / float64(cb.totalCalls) * 100
	}

	return map[string]interface{}{
		"name":                  cb.name,
		"state":                 cb.state.String(),
		"failure_threshold":     cb.cfg.FailureThreshold,
		"cooldown":              cb.cfg.Cooldown.String(),
		"success_threshold":     cb.cfg.SuccessThreshold,
		"op_timeout":            cb.cfg.OpTimeout.String(),
		"consecutive_failures":  cb.failureCount,
		"consecutive_successes": cb.successCount,
		"total_calls":           cb.totalCalls,
		"total_failures":        cb.totalFailures,
		"total_successes":       cb.totalSuccesses,
		"rejected_calls":        cb.rejectedCalls,
		"success_rate":          successRate,
		"state_changes":         cb.stateChanges,
		"last_failure":          cb.lastFailureTime.Format(time.RFC3339),
	}
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.totalCalls = 0
	cb.totalFailures = 0
	cb.totalSuccesses = 0
	cb.rejectedCalls = 0
	cb.stateChanges = 0
	cb.lastFailureTime = time.Time{}

	slog.Info("circuit breaker reset to closed state", slog.String("breaker", cb.name))
}
