package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_SubmitAndWait(t *testing.T) {
	p, err := NewPool("updates", UpdatesPoolConfig(4))
	require.NoError(t, err)
	defer p.Release()

	var n atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(func() { n.Add(1) }))
	}
	p.Wait()

	assert.Equal(t, int32(20), n.Load())
	stats := p.Stats()
	assert.Equal(t, int64(20), stats.SubmittedTasks)
	assert.Equal(t, int64(20), stats.CompletedTasks)
}

func TestPool_PanicIsRecovered(t *testing.T) {
	var handled atomic.Bool
	cfg := DefaultPoolConfig()
	cfg.PanicHandler = func(interface{}) { handled.Store(true) }

	p, err := NewPool("panicky", cfg)
	require.NoError(t, err)
	defer p.Release()

	require.NoError(t, p.Submit(func() { panic("boom") }))
	p.Wait()

	assert.Eventually(t, handled.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), p.Stats().PanicRecovered)

	var ran atomic.Bool
	require.NoError(t, p.Submit(func() { ran.Store(true) }))
	p.Wait()
	assert.True(t, ran.Load(), "pool keeps working after a panic")
}

func TestPool_Overload(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.Capacity = 1
	cfg.Nonblocking = true
	p, err := NewPool("tiny", cfg)
	require.NoError(t, err)
	defer p.Release()

	block := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-block }))
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolOverload)
	close(block)
	p.Wait()
	assert.Equal(t, int64(1), p.Stats().RejectedTasks)
}

func TestPool_SubmitWithContext(t *testing.T) {
	p, err := NewPool("ctx", nil)
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.SubmitWithContext(ctx, func(context.Context) {}), context.Canceled)

	var got atomic.Bool
	require.NoError(t, p.SubmitWithContext(context.Background(), func(context.Context) { got.Store(true) }))
	p.Wait()
	assert.True(t, got.Load())
}

func TestPool_Closed(t *testing.T) {
	p, err := NewPool("closed", nil)
	require.NoError(t, err)
	p.Release()
	p.Release()

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
	assert.NoError(t, p.ReleaseTimeout(time.Second))

	_, err = NewPool("bad", &Config{})
	assert.Error(t, err)
}
