// Package circuitbreaker stops calling a failing dependency for a cooldown period.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/aqi-agent/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means calls are allowed
	StateClosed State = "closed"
	// StateOpen means calls are refused until the cooldown elapses
	StateOpen State = "open"
	// StateHalfOpen means a single probe call is in flight
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker refuses a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	Name        string
	MaxFailures int           // consecutive failures that open the circuit
	Cooldown    time.Duration // time spent open before a probe is allowed
	Clock       func() time.Time
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:        name,
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	logger      *logging.Logger

	mu               sync.Mutex
	state            State
	consecutiveFails int
	openedAt         time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	maxFailures := config.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	cooldown := config.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}

	return &CircuitBreaker{
		name:        config.Name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         now,
		logger:      logging.GetGlobalLogger().WithField("circuitBreaker", config.Name),
		state:       StateClosed,
	}
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn()
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.logger.Info("Circuit breaker half-open, probing")
		return nil
	case StateHalfOpen:
		// one probe at a time
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == StateHalfOpen {
			cb.logger.Info("Circuit breaker closed after successful probe")
		}
		cb.state = StateClosed
		cb.consecutiveFails = 0
		return
	}

	cb.consecutiveFails++
	switch {
	case cb.state == StateHalfOpen:
		cb.open()
		cb.logger.WithError(err).Warn("Circuit breaker reopened after failed probe")
	case cb.consecutiveFails >= cb.maxFailures:
		cb.open()
		cb.logger.WithError(err).WithField("consecutiveFails", cb.consecutiveFails).Warn("Circuit breaker opened due to failures")
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
}

// State returns the current state. An open circuit past its cooldown still
// reports open until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFails = 0
	cb.logger.Info("Circuit breaker manually reset")
}
