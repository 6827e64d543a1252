// Package circuitbreaker provides a small three-state breaker used to stop
// hammering the payment gateway's order endpoint when it is down.
package circuitbreaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

type CircuitBreaker struct {
	mu              sync.RWMutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	maxFailures    int
	cooldown       time.Duration
	resetThreshold int
}

func New(maxFailures int, cooldown time.Duration, resetThreshold int) *CircuitBreaker {
	return &CircuitBreaker{
		state:          StateClosed,
		maxFailures:    maxFailures,
		cooldown:       cooldown,
		resetThreshold: resetThreshold,
	}
}

// Allow reports whether a call may proceed. An open breaker lets a probe
// through once the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		return time.Since(cb.lastFailureTime) >= cb.cooldown
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	switch cb.state {
	case StateOpen:
		cb.state = StateHalfOpen
		cb.successCount = 1
	case StateHalfOpen:
		if cb.successCount >= cb.resetThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
