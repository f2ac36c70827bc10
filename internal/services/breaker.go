package services

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrCircuitOpen short-circuits calls while a dependency is cooling down.
// It may trigger fallback before becoming terminal.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerConfig tunes one dependency's breaker.
type BreakerConfig struct {
	// FailureThreshold failures inside MonitoringWindow open the breaker.
	FailureThreshold int
	// SuccessThreshold half-open successes close it again.
	SuccessThreshold int
	// RecoveryTimeout is how long an open breaker blocks before admitting
	// trial calls.
	RecoveryTimeout time.Duration
	// MonitoringWindow bounds how long a failure counts against the
	// threshold.
	MonitoringWindow time.Duration
	// HalfOpenMaxCalls caps concurrent trial calls while half-open.
	HalfOpenMaxCalls int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: time.Minute,
		HalfOpenMaxCalls: 3,
	}
}

// BreakerSnapshot is an immutable view of a breaker for admin endpoints.
type BreakerSnapshot struct {
	Name            string       `json:"name"`
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failureCount"`
	SuccessCount    int          `json:"successCount"`
	LastFailureTime time.Time    `json:"lastFailureTime"`
	NextRetryTime   time.Time    `json:"nextRetryTime"`
	ForcedOpen      bool         `json:"forcedOpen"`
}

// CircuitBreaker guards one named dependency. Transitions:
// closed→open when failures exceed the threshold inside the monitoring
// window; open→half-open once the recovery timeout elapses; half-open→closed
// after enough successes; half-open→open on any failure.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failures      []time.Time
	successCount  int
	halfOpenCalls int
	lastFailure   time.Time
	nextRetry     time.Time
	forcedOpen    bool
	now           func() time.Time
}

func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.MonitoringWindow <= 0 {
		cfg.MonitoringWindow = time.Minute
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 3
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed right now. Open breakers
// short-circuit with ErrCircuitOpen and no attempt is made.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.forcedOpen {
		return errors.Wrapf(ErrCircuitOpen, "%s is forced open", cb.name)
	}

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextRetry) {
			return errors.Wrapf(ErrCircuitOpen, "%s retry in %s", cb.name, time.Until(cb.nextRetry).Round(time.Millisecond))
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.halfOpenCalls = 0
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			return errors.Wrapf(ErrCircuitOpen, "%s half-open trial budget exhausted", cb.name)
		}
		cb.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

// RecordSuccess feeds a successful call back into the state machine.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.reset()
		}
	case StateClosed:
		cb.pruneFailures()
	}
}

// RecordFailure feeds a failed call back into the state machine. A single
// half-open failure reopens the breaker immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.lastFailure = now

	switch cb.state {
	case StateHalfOpen:
		cb.trip(now)
	case StateClosed:
		cb.failures = append(cb.failures, now)
		cb.pruneFailures()
		if len(cb.failures) >= cb.cfg.FailureThreshold {
			cb.trip(now)
		}
	}
}

// ForceOpen pins the breaker open for maintenance until Reset.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.forcedOpen = true
	cb.state = StateOpen
	cb.nextRetry = cb.now().Add(cb.cfg.RecoveryTimeout)
}

// Reset forces the breaker back to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.forcedOpen = false
	cb.reset()
}

// State returns the current position, applying the open→half-open
// transition if the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.forcedOpen && !cb.now().Before(cb.nextRetry) {
		return StateHalfOpen
	}
	return cb.state
}

// Snapshot returns an immutable view for diagnostics.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		Name:            cb.name,
		State:           cb.state,
		FailureCount:    len(cb.failures),
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailure,
		NextRetryTime:   cb.nextRetry,
		ForcedOpen:      cb.forcedOpen,
	}
}

// trip and reset assume cb.mu is held.

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = StateOpen
	cb.nextRetry = now.Add(cb.cfg.RecoveryTimeout)
	cb.failures = nil
	cb.successCount = 0
}

func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.failures = nil
	cb.successCount = 0
	cb.halfOpenCalls = 0
	cb.nextRetry = time.Time{}
}

func (cb *CircuitBreaker) pruneFailures() {
	cutoff := cb.now().Add(-cb.cfg.MonitoringWindow)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = kept
}
