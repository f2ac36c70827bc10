package services

import (
	"context"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	pkgerrors "github.com/pkg/errors"

	"cache-service/internal/utils"
)

// Operation is an unreliable external call guarded by the executor.
type Operation func(ctx context.Context) ([]byte, error)

// FailureKind classifies terminal failures into a small taxonomy.
type FailureKind string

const (
	FailureTimeout         FailureKind = "timeout"
	FailureNetwork         FailureKind = "network-unavailable"
	FailureRateLimited     FailureKind = "rate-limited"
	FailureInvalidResponse FailureKind = "upstream-invalid-response"
	FailureUnknown         FailureKind = "unknown"
)

// ResilienceError is a classified terminal failure.
type ResilienceError struct {
	Kind       FailureKind
	Dependency string
	Err        error
}

func (e *ResilienceError) Error() string {
	return string(e.Kind) + ": " + e.Dependency + ": " + e.Err.Error()
}

func (e *ResilienceError) Unwrap() error { return e.Err }

// ClassifyError maps an error into the failure taxonomy.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	if pkgerrors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if pkgerrors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return FailureTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return FailureRateLimited
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "network"):
		return FailureNetwork
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "unexpected") || strings.Contains(msg, "malformed"):
		return FailureInvalidResponse
	default:
		return FailureUnknown
	}
}

// ExecOptions tune one resilient execution.
type ExecOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Timeout    time.Duration
}

func DefaultExecOptions() ExecOptions {
	return ExecOptions{
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
		Timeout:    10 * time.Second,
	}
}

// ExecResult is the outcome of a resilient execution.
type ExecResult struct {
	Success      bool          `json:"success"`
	Data         []byte        `json:"data,omitempty"`
	Source       string        `json:"source"`
	ResponseTime time.Duration `json:"responseTime"`
	RetryCount   int           `json:"retryCount"`
	FromCache    bool          `json:"fromCache"`
	FallbackUsed bool          `json:"fallbackUsed"`
	Err          error         `json:"-"`
}

// ResilienceExecutor wraps operations against unreliable dependencies with
// timeout, retry with backoff and jitter, a per-dependency circuit breaker,
// and optional fallback-service failover.
type ResilienceExecutor struct {
	mu         sync.Mutex
	breakers   map[string]*CircuitBreaker
	breakerCfg BreakerConfig
	fallbacks  *FallbackRegistry
	metrics    *utils.Metrics
	defaults   ExecOptions
}

func NewResilienceExecutor(breakerCfg BreakerConfig, fallbacks *FallbackRegistry, metrics *utils.Metrics) *ResilienceExecutor {
	if fallbacks == nil {
		fallbacks = NewFallbackRegistry()
	}
	return &ResilienceExecutor{
		breakers:   make(map[string]*CircuitBreaker),
		breakerCfg: breakerCfg,
		fallbacks:  fallbacks,
		metrics:    metrics,
		defaults:   DefaultExecOptions(),
	}
}

// SetDefaultOptions replaces the options applied when Execute is called with
// nil options. Zero fields fall back to the built-in defaults.
func (e *ResilienceExecutor) SetDefaultOptions(opts ExecOptions) {
	def := DefaultExecOptions()
	if opts.MaxRetries > 0 {
		def.MaxRetries = opts.MaxRetries
	}
	if opts.BaseDelay > 0 {
		def.BaseDelay = opts.BaseDelay
	}
	if opts.MaxDelay > 0 {
		def.MaxDelay = opts.MaxDelay
	}
	if opts.Multiplier > 0 {
		def.Multiplier = opts.Multiplier
	}
	if opts.Timeout > 0 {
		def.Timeout = opts.Timeout
	}
	e.mu.Lock()
	e.defaults = def
	e.mu.Unlock()
}

// Execute runs the operation against a named dependency under the full
// resilience policy. When the breaker is open or retries are exhausted,
// registered fallbacks are attempted in priority order before the failure
// becomes terminal.
func (e *ResilienceExecutor) Execute(ctx context.Context, dependency string, op Operation, opts *ExecOptions) *ExecResult {
	if opts == nil {
		e.mu.Lock()
		def := e.defaults
		e.mu.Unlock()
		opts = &def
	}
	start := time.Now()
	breaker := e.breaker(dependency)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.BaseDelay
	bo.MaxInterval = opts.MaxDelay
	bo.Multiplier = opts.Multiplier
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	retries := 0

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if err := breaker.Allow(); err != nil {
			lastErr = err
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		data, err := op(attemptCtx)
		cancel()

		if err == nil {
			breaker.RecordSuccess()
			e.observeBreaker(dependency, breaker)
			return &ExecResult{
				Success:      true,
				Data:         data,
				Source:       dependency,
				ResponseTime: time.Since(start),
				RetryCount:   retries,
			}
		}

		breaker.RecordFailure()
		lastErr = pkgerrors.Wrapf(err, "dependency %s attempt %d", dependency, attempt+1)

		if attempt == opts.MaxRetries {
			break
		}
		retries++
		if e.metrics != nil {
			e.metrics.IncrementRetries(dependency)
		}

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(bo.NextBackOff()):
			continue
		}
		break
	}

	e.observeBreaker(dependency, breaker)

	if result := e.tryFallbacks(ctx, dependency, opts, start, retries); result != nil {
		return result
	}

	return &ExecResult{
		Success:      false,
		Source:       dependency,
		ResponseTime: time.Since(start),
		RetryCount:   retries,
		Err: &ResilienceError{
			Kind:       classifyTerminal(lastErr),
			Dependency: dependency,
			Err:        lastErr,
		},
	}
}

func (e *ResilienceExecutor) tryFallbacks(ctx context.Context, dependency string, opts *ExecOptions, start time.Time, retries int) *ExecResult {
	fallbacks := e.fallbacks.Get(dependency)
	for _, fb := range fallbacks {
		if fb.Handler == nil {
			continue
		}
		log.Printf("Resilience: trying fallback %s for %s", fb.Name, dependency)

		fbCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		data, err := fb.Handler(fbCtx)
		cancel()

		e.fallbacks.MarkHealth(dependency, fb.Name, err == nil, time.Now())
		if err != nil {
			log.Printf("Resilience: fallback %s failed: %v", fb.Name, err)
			continue
		}

		return &ExecResult{
			Success:      true,
			Data:         data,
			Source:       fb.Name,
			ResponseTime: time.Since(start),
			RetryCount:   retries,
			FallbackUsed: true,
		}
	}
	return nil
}

// classifyTerminal keeps circuit-open failures distinct from transport
// classifications.
func classifyTerminal(err error) FailureKind {
	if pkgerrors.Is(err, ErrCircuitOpen) {
		return FailureNetwork
	}
	return ClassifyError(err)
}

// RegisterFallbacks replaces the fallback descriptors for a dependency at
// runtime.
func (e *ResilienceExecutor) RegisterFallbacks(dependency string, fallbacks ...FallbackDescriptor) {
	e.fallbacks.Register(dependency, fallbacks...)
}

// ResetBreaker forces a dependency's breaker back to closed.
func (e *ResilienceExecutor) ResetBreaker(dependency string) {
	breaker := e.breaker(dependency)
	breaker.Reset()
	e.observeBreaker(dependency, breaker)
}

// ForceOpenBreaker pins a dependency's breaker open for maintenance.
func (e *ResilienceExecutor) ForceOpenBreaker(dependency string) {
	breaker := e.breaker(dependency)
	breaker.ForceOpen()
	e.observeBreaker(dependency, breaker)
}

// BreakerSnapshots returns a view of every known breaker.
func (e *ResilienceExecutor) BreakerSnapshots() []BreakerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snaps := make([]BreakerSnapshot, 0, len(e.breakers))
	for _, cb := range e.breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	return snaps
}

func (e *ResilienceExecutor) breaker(dependency string) *CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	cb, ok := e.breakers[dependency]
	if !ok {
		cb = NewCircuitBreaker(dependency, e.breakerCfg)
		e.breakers[dependency] = cb
	}
	return cb
}

func (e *ResilienceExecutor) observeBreaker(dependency string, cb *CircuitBreaker) {
	if e.metrics != nil {
		e.metrics.SetBreakerState(dependency, string(cb.State()))
	}
}
