package procmon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of probe calls through.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
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

// ErrCircuitOpen is returned when a circuit breaker is open and rejecting requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig contains configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// needed to close again. Default: 2
	SuccessThreshold int

	// Timeout is how long the circuit stays open before probing.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxHalfOpenRequests is the number of probes allowed while half-open.
	// Default: 1
	MaxHalfOpenRequests int

	// OnStateChange is called on its own goroutine when the state changes.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns a CircuitBreakerConfig with sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker stops calling a failing collaborator for a while and then
// probes it before resuming. procmon puts one in front of each fetch of
// a metric source so that a dead SSH link or a broken process table does
// not cost a full timeout on every tick.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu               sync.Mutex
	state            CircuitState
	failures         int
	successes        int
	lastFailure      time.Time
	halfOpenRequests int
	totalSuccesses   int64
	totalFailures    int64
	totalRejections  int64
	consecutiveErrs  int
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxHalfOpenRequests <= 0 {
		config.MaxHalfOpenRequests = def.MaxHalfOpenRequests
	}
	return &CircuitBreaker{config: config}
}

// Execute runs fn through the breaker. An open circuit returns
// ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.recordResult(err)
	return err
}

// State returns the current state. An open circuit whose timeout has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && time.Since(cb.lastFailure) >= cb.config.Timeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// CircuitBreakerStats contains statistics about circuit breaker operation.
type CircuitBreakerStats struct {
	State             CircuitState
	Failures          int
	Successes         int
	TotalSuccesses    int64
	TotalFailures     int64
	TotalRejections   int64
	LastFailure       time.Time
	ConsecutiveErrors int
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:             cb.state,
		Failures:          cb.failures,
		Successes:         cb.successes,
		TotalSuccesses:    cb.totalSuccesses,
		TotalFailures:     cb.totalFailures,
		TotalRejections:   cb.totalRejections,
		LastFailure:       cb.lastFailure,
		ConsecutiveErrors: cb.consecutiveErrs,
	}
}

// Reset closes the circuit and clears the failure counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(CircuitClosed)
	cb.failures = 0
	cb.successes = 0
	cb.consecutiveErrs = 0
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailure) >= cb.config.Timeout {
			cb.transitionTo(CircuitHalfOpen)
			cb.halfOpenRequests = 1
			return true
		}
	case CircuitHalfOpen:
		if cb.halfOpenRequests < cb.config.MaxHalfOpenRequests {
			cb.halfOpenRequests++
			return true
		}
	}
	cb.totalRejections++
	return false
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.totalSuccesses++
		cb.consecutiveErrs = 0
		switch cb.state {
		case CircuitClosed:
			cb.failures = 0
		case CircuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.transitionTo(CircuitClosed)
				cb.failures = 0
				cb.successes = 0
			}
		}
		return
	}

	cb.totalFailures++
	cb.consecutiveErrs++
	cb.lastFailure = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
		cb.successes = 0
	}
}

// transitionTo changes the state. The caller holds mu.
func (cb *CircuitBreaker) transitionTo(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.halfOpenRequests = 0
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(from, to)
	}
}

// guardedSystem puts a breaker in front of a system process source. While
// the circuit is open ticks degrade immediately instead of waiting out the
// fetch timeout.
type guardedSystem struct {
	inner monitor.SystemProcessSource
	cb    *CircuitBreaker
}

func (g guardedSystem) Processes(ctx context.Context) ([]monitor.RawSystemProcess, error) {
	var out []monitor.RawSystemProcess
	err := g.cb.Execute(func() error {
		var err error
		out, err = g.inner.Processes(ctx)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fmt.Errorf("system processes: %w", err)
	}
	return out, err
}

// guardedApps does the same for an application metrics source. An open
// circuit abandons the tick.
type guardedApps struct {
	inner monitor.AppMetricsSource
	cb    *CircuitBreaker
}

func (g guardedApps) AppMetrics(ctx context.Context) ([]monitor.RawAppMetric, error) {
	var out []monitor.RawAppMetric
	err := g.cb.Execute(func() error {
		var err error
		out, err = g.inner.AppMetrics(ctx)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fmt.Errorf("app metrics: %w", err)
	}
	return out, err
}
