// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/skillchain/pkg/errors"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed means calls pass through.
	StateClosed CircuitBreakerState = "closed"

	// StateOpen means calls are rejected without reaching the capability.
	StateOpen CircuitBreakerState = "open"

	// StateHalfOpen means trial calls are let through to test recovery.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// gauge maps a state to the value recorded by telemetry.Metrics.
func (s CircuitBreakerState) gauge() int64 {
	switch s {
	case StateOpen:
		return 0
	case StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open before closing.
	SuccessThreshold int

	// Timeout is how long the circuit stays open before going half-open.
	Timeout time.Duration

	// Name identifies the breaker in errors; usually the capability id.
	Name string
}

// CircuitBreaker stops calling a capability that keeps failing.
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	state        CircuitBreakerState
	failures     int
	successes    int
	lastFailTime time.Time
	mu           sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 2
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Call runs fn if the breaker allows it and records the outcome. The lock is
// not held while fn runs, so parallel steps on the same capability proceed
// concurrently. An open breaker returns a non-recoverable TOOL_EXECUTION_ERROR.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailTime) > cb.config.Timeout {
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.failures = 0
	}
	if cb.state == StateOpen {
		return errors.New(errors.CodeToolExecution, "circuit breaker open", nil).
			WithContext("breaker", cb.config.Name).
			WithPermanent()
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailTime = time.Now()
		if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.failures = 0
			cb.successes = 0
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	case StateClosed:
		cb.failures = 0
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}

// Open manually forces the circuit breaker to open state.
func (cb *CircuitBreaker) Open() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateOpen
	cb.lastFailTime = time.Now()
}

// Breakers holds one lazily created breaker per capability id.
type Breakers struct {
	config   CircuitBreakerConfig
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakers creates a breaker set sharing config. Name is ignored; each
// breaker is named after its capability.
func NewBreakers(config CircuitBreakerConfig) *Breakers {
	return &Breakers{config: config, breakers: make(map[string]*CircuitBreaker)}
}

// For returns the breaker guarding capabilityID.
func (b *Breakers) For(capabilityID string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[capabilityID]
	if !ok {
		cfg := b.config
		cfg.Name = capabilityID
		cb = NewCircuitBreaker(cfg)
		b.breakers[capabilityID] = cb
	}
	return cb
}
