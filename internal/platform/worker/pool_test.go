package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(concurrency, size int) *Pool {
	return New(concurrency, size, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestPool_RunsSubmittedJobs(t *testing.T) {
	pool := newTestPool(2, 8)
	pool.Start(context.Background())

	var count atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Submit(name, func(context.Context) { count.Add(1) }))
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(3), count.Load())
}

func TestPool_QueueFull(t *testing.T) {
	// Setup: ワーカーを起動せずにキューを埋める
	pool := newTestPool(1, 1)
	require.NoError(t, pool.Submit("first", func(context.Context) {}))

	// Execute
	err := pool.Submit("second", func(context.Context) {})

	// Assert
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestPool_DuplicateNameIsCollapsed(t *testing.T) {
	pool := newTestPool(1, 4)

	var count atomic.Int32
	job := func(context.Context) { count.Add(1) }
	require.NoError(t, pool.Submit("merge:1", job))
	require.NoError(t, pool.Submit("merge:1", job))
	assert.Equal(t, 1, pool.Len())

	pool.Start(context.Background())
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(1), count.Load())
}

func TestPool_RecoversFromPanic(t *testing.T) {
	pool := newTestPool(1, 4)
	pool.Start(context.Background())

	var ran atomic.Bool
	require.NoError(t, pool.Submit("boom", func(context.Context) { panic("boom") }))
	require.NoError(t, pool.Submit("after", func(context.Context) { ran.Store(true) }))

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.True(t, ran.Load())
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := newTestPool(1, 1)
	pool.Start(context.Background())
	require.NoError(t, pool.Shutdown(context.Background()))

	err := pool.Submit("late", func(context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_ShutdownTimeoutCancelsRunningJob(t *testing.T) {
	pool := newTestPool(1, 1)
	pool.Start(context.Background())

	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, pool.Submit("slow", func(ctx context.Context) {
		once.Do(func() { close(started) })
		<-ctx.Done()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type depthSpy struct {
	mu     sync.Mutex
	values []int
}

func (d *depthSpy) SetQueueDepth(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values = append(d.values, n)
}

func TestPool_RecordsDepth(t *testing.T) {
	spy := &depthSpy{}
	pool := New(1, 4, WithDepthRecorder(spy), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	require.NoError(t, pool.Submit("a", func(context.Context) {}))
	require.NoError(t, pool.Submit("b", func(context.Context) {}))

	spy.mu.Lock()
	assert.Equal(t, []int{1, 2}, spy.values)
	spy.mu.Unlock()
}
