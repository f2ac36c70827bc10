package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastExecOptions() *ExecOptions {
	return &ExecOptions{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2,
		Timeout:    time.Second,
	}
}

func testExecutor() *ResilienceExecutor {
	return NewResilienceExecutor(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Minute,
	}, nil, nil)
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	e := testExecutor()

	result := e.Execute(context.Background(), "quotes", func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	}, fastExecOptions())

	require.True(t, result.Success)
	assert.Equal(t, []byte("ok"), result.Data)
	assert.Equal(t, "quotes", result.Source)
	assert.Equal(t, 0, result.RetryCount)
	assert.False(t, result.FallbackUsed)
	assert.NoError(t, result.Err)
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	e := testExecutor()
	var attempts atomic.Int32

	result := e.Execute(context.Background(), "quotes", func(ctx context.Context) ([]byte, error) {
		if attempts.Add(1) < 3 {
			return nil, fmt.Errorf("transient")
		}
		return []byte("ok"), nil
	}, fastExecOptions())

	require.True(t, result.Success)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 2, result.RetryCount)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	e := testExecutor()
	var attempts atomic.Int32

	opts := fastExecOptions()
	opts.MaxRetries = 2

	result := e.Execute(context.Background(), "quotes", func(ctx context.Context) ([]byte, error) {
		attempts.Add(1)
		return nil, fmt.Errorf("still down")
	}, opts)

	require.False(t, result.Success)
	assert.Equal(t, int32(3), attempts.Load(), "initial attempt plus two retries")
	assert.Equal(t, 2, result.RetryCount)

	var rerr *ResilienceError
	require.ErrorAs(t, result.Err, &rerr)
	assert.Equal(t, "quotes", rerr.Dependency)
}

func TestExecuteClassifiesTimeout(t *testing.T) {
	e := testExecutor()

	opts := fastExecOptions()
	opts.MaxRetries = 0
	opts.Timeout = 10 * time.Millisecond

	result := e.Execute(context.Background(), "quotes", func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, opts)

	require.False(t, result.Success)
	var rerr *ResilienceError
	require.ErrorAs(t, result.Err, &rerr)
	assert.Equal(t, FailureTimeout, rerr.Kind)
}

func TestOpenBreakerShortCircuits(t *testing.T) {
	e := testExecutor()
	var attempts atomic.Int32
	failing := func(ctx context.Context) ([]byte, error) {
		attempts.Add(1)
		return nil, fmt.Errorf("down")
	}

	opts := fastExecOptions()
	// Enough failures in one run to trip the threshold of 3.
	e.Execute(context.Background(), "quotes", failing, opts)
	require.Equal(t, int32(3), attempts.Load())

	result := e.Execute(context.Background(), "quotes", failing, opts)
	assert.Equal(t, int32(3), attempts.Load(), "open breaker must not invoke the operation")

	var rerr *ResilienceError
	require.ErrorAs(t, result.Err, &rerr)
	assert.Equal(t, FailureNetwork, rerr.Kind)
}

func TestFallbackUsedWhenPrimaryFails(t *testing.T) {
	e := testExecutor()
	e.RegisterFallbacks("quotes",
		FallbackDescriptor{
			Name:     "quotes-backup",
			Priority: 1,
			Handler: func(ctx context.Context) ([]byte, error) {
				return []byte("backup"), nil
			},
		})

	opts := fastExecOptions()
	opts.MaxRetries = 0

	result := e.Execute(context.Background(), "quotes", func(ctx context.Context) ([]byte, error) {
		return nil, fmt.Errorf("down")
	}, opts)

	require.True(t, result.Success)
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, "quotes-backup", result.Source)
	assert.Equal(t, []byte("backup"), result.Data)
}

func TestFallbacksTriedInPriorityOrder(t *testing.T) {
	e := testExecutor()
	var order []string
	e.RegisterFallbacks("quotes",
		FallbackDescriptor{
			Name:     "secondary",
			Priority: 2,
			Handler: func(ctx context.Context) ([]byte, error) {
				order = append(order, "secondary")
				return []byte("secondary"), nil
			},
		},
		FallbackDescriptor{
			Name:     "primary-backup",
			Priority: 1,
			Handler: func(ctx context.Context) ([]byte, error) {
				order = append(order, "primary-backup")
				return nil, fmt.Errorf("also down")
			},
		})

	opts := fastExecOptions()
	opts.MaxRetries = 0

	result := e.Execute(context.Background(), "quotes", func(ctx context.Context) ([]byte, error) {
		return nil, fmt.Errorf("down")
	}, opts)

	require.True(t, result.Success)
	assert.Equal(t, []string{"primary-backup", "secondary"}, order)
	assert.Equal(t, "secondary", result.Source)
}

func TestResetBreakerRestoresService(t *testing.T) {
	e := testExecutor()
	opts := fastExecOptions()

	e.Execute(context.Background(), "quotes", func(ctx context.Context) ([]byte, error) {
		return nil, fmt.Errorf("down")
	}, opts)

	e.ResetBreaker("quotes")

	result := e.Execute(context.Background(), "quotes", func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	}, opts)
	assert.True(t, result.Success)
}

func TestForceOpenBreaker(t *testing.T) {
	e := testExecutor()
	e.ForceOpenBreaker("quotes")

	var attempts atomic.Int32
	result := e.Execute(context.Background(), "quotes", func(ctx context.Context) ([]byte, error) {
		attempts.Add(1)
		return []byte("ok"), nil
	}, fastExecOptions())

	assert.False(t, result.Success)
	assert.Equal(t, int32(0), attempts.Load())
}

func TestBreakerSnapshotsListKnownDependencies(t *testing.T) {
	e := testExecutor()
	e.Execute(context.Background(), "quotes", func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	}, fastExecOptions())

	snaps := e.BreakerSnapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "quotes", snaps[0].Name)
	assert.Equal(t, StateClosed, snaps[0].State)
}

func TestSetDefaultOptionsKeepsUnsetFields(t *testing.T) {
	e := testExecutor()
	e.SetDefaultOptions(ExecOptions{MaxRetries: 7, Timeout: 2 * time.Second})

	assert.Equal(t, 7, e.defaults.MaxRetries)
	assert.Equal(t, 2*time.Second, e.defaults.Timeout)
	assert.Equal(t, DefaultExecOptions().BaseDelay, e.defaults.BaseDelay)
	assert.Equal(t, DefaultExecOptions().Multiplier, e.defaults.Multiplier)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, FailureTimeout, ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, FailureTimeout, ClassifyError(fmt.Errorf("request timeout")))
	assert.Equal(t, FailureRateLimited, ClassifyError(fmt.Errorf("429 too many requests")))
	assert.Equal(t, FailureNetwork, ClassifyError(fmt.Errorf("connection refused")))
	assert.Equal(t, FailureInvalidResponse, ClassifyError(fmt.Errorf("unexpected end of JSON input")))
	assert.Equal(t, FailureUnknown, ClassifyError(fmt.Errorf("something else")))
}
