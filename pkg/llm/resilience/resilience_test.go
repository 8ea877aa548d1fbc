package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff(time.Second)
	assert.Equal(t, time.Second, b(1))
	assert.Equal(t, 2*time.Second, b(2))
	assert.Equal(t, 3*time.Second, b(3))
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(100*time.Millisecond, time.Second, 2)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 200*time.Millisecond, b(2))
	assert.Equal(t, 400*time.Millisecond, b(3))
	assert.Equal(t, time.Second, b(10))
}

func TestRetryPolicy_Success(t *testing.T) {
	calls := 0
	err := DefaultRetryPolicy().Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_EventualSuccess(t *testing.T) {
	var delays []time.Duration
	p := &RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(time.Millisecond),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}

	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("status 500")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(time.Millisecond)}
	upstream := errors.New("status 500")

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return upstream
	})

	var re *RetryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_NotRetryable(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 5}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return ErrCircuitBreakerOpen
	})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(time.Hour),
		OnRetry:     func(int, error, time.Duration) { cancel() },
	}

	calls := 0
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("timeout")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(ErrCircuitBreakerOpen))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(errors.New("missing choices")))
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("chat", &CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxCalls: 1})
	cb.now = func() time.Time { return now }

	fail := errors.New("boom")
	_ = cb.Execute(func() error { return fail })
	assert.Equal(t, StateClosed, cb.State())
	_ = cb.Execute(func() error { return fail })
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)

	// 超时后进入半开，探测成功则关闭
	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("chat", &CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, HalfOpenMaxCalls: 1})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	_ = cb.Execute(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())

	stats := cb.Stats()
	assert.Equal(t, "chat", stats.Name)
	assert.Equal(t, "open", stats.State)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteContextIgnoresCallerCancel(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("chat", &CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, HalfOpenMaxCalls: 1})
	cb.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.ExecuteContext(ctx, func() error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Stats().Failures)

	// 上游自身的失败仍然计数
	err = cb.ExecuteContext(context.Background(), func() error { return errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())

	// 半开探测被调用方放弃时归还名额，下一次探测仍可进行
	now = now.Add(2 * time.Second)
	_ = cb.ExecuteContext(ctx, func() error { return ctx.Err() })
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.ExecuteContext(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}
