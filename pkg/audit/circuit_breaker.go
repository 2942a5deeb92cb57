/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/admission-gateway/pkg/clock"
	"github.com/telekom/admission-gateway/pkg/metrics"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes that
	// close the circuit again.
	// Default: 2
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before probing.
	// Default: 30s
	OpenTimeout time.Duration

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// DefaultCircuitBreakerConfig returns the default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerStats is a snapshot of the breaker counters.
type CircuitBreakerStats struct {
	State            CircuitState
	ConsecutiveFails int
	TotalFailures    int64
	TotalRejections  int64
	LastStateChange  time.Time
	LastError        error
}

// CircuitBreaker stops calls to a failing sink for OpenTimeout after
// FailureThreshold consecutive failures. While half-open a single probe is
// let through at a time.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger *zap.Logger

	mu               sync.Mutex
	state            CircuitState
	consecutiveFails int
	consecutiveSuccs int
	probeInFlight    bool
	lastStateChange  time.Time
	lastError        error
	totalFailures    int64
	totalRejections  int64
}

// NewCircuitBreaker creates a circuit breaker for the named sink.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	cb := &CircuitBreaker{
		name:            name,
		config:          cfg,
		logger:          logger.Named("circuit-breaker").With(zap.String("sink", name)),
		lastStateChange: cfg.Clock.Now(),
	}
	metrics.AuditCircuitBreakerState.WithLabelValues(name).Set(float64(CircuitClosed))
	return cb
}

// Execute runs fn unless the circuit is open. Returns ErrCircuitOpen without
// calling fn when it is.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, ok := cb.acquire()
	if !ok {
		metrics.AuditCircuitBreakerRejections.WithLabelValues(cb.name).Inc()
		return ErrCircuitOpen
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probeInFlight = false
	}
	if err != nil {
		cb.onFailureLocked(err)
		return err
	}
	cb.onSuccessLocked()
	return nil
}

func (cb *CircuitBreaker) acquire() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.config.Clock.Now().Sub(cb.lastStateChange) >= cb.config.OpenTimeout {
		cb.transitionLocked(CircuitHalfOpen)
	}

	switch cb.state {
	case CircuitClosed:
		return false, true
	case CircuitHalfOpen:
		if cb.probeInFlight {
			cb.totalRejections++
			return false, false
		}
		cb.probeInFlight = true
		return true, true
	default:
		cb.totalRejections++
		return false, false
	}
}

func (cb *CircuitBreaker) onSuccessLocked() {
	cb.consecutiveFails = 0
	cb.consecutiveSuccs++
	if cb.state == CircuitHalfOpen && cb.consecutiveSuccs >= cb.config.SuccessThreshold {
		cb.transitionLocked(CircuitClosed)
	}
}

func (cb *CircuitBreaker) onFailureLocked(err error) {
	cb.totalFailures++
	cb.lastError = err
	cb.consecutiveSuccs = 0
	cb.consecutiveFails++

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFails >= cb.config.FailureThreshold {
			cb.transitionLocked(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionLocked(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.lastStateChange = cb.config.Clock.Now()
	cb.consecutiveFails = 0
	cb.consecutiveSuccs = 0
	cb.probeInFlight = false

	cb.logger.Info("circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	metrics.AuditCircuitBreakerState.WithLabelValues(cb.name).Set(float64(to))
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns the current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:            cb.state,
		ConsecutiveFails: cb.consecutiveFails,
		TotalFailures:    cb.totalFailures,
		TotalRejections:  cb.totalRejections,
		LastStateChange:  cb.lastStateChange,
		LastError:        cb.lastError,
	}
}
