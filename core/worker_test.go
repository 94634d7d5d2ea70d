package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool_Submit_BeforeStartFails(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, 10, "test", zap.NewNop().Sugar())
	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, ErrWorkerPoolNotRunning)
}

func TestWorkerPool_ProcessesSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 4, 100, "test", zap.NewNop().Sugar())
	pool.Start()

	var counter atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		}))
	}
	wg.Wait()
	pool.Stop()
	assert.Equal(t, int64(50), counter.Load())
}

func TestWorkerPool_Submit_QueueFull(t *testing.T) {
	// One worker, queue of one, and the worker blocked: the second queued
	// task fills the channel, the third is rejected.
	pool := NewWorkerPool(context.Background(), 1, 1, "test", zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	require.NoError(t, pool.Submit(func() {}))
	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, ErrWorkerPoolQueueFull)
	close(release)
}

func TestWorkerPool_RecoversFromPanickingTask(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 10, "test", zap.NewNop().Sugar())
	pool.Start()

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() { panic("boom") }))
	require.NoError(t, pool.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool stopped processing after a task panic")
	}
	pool.Stop()
}

func TestWorkerPool_Submit_AfterStopFails(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 10, "test", zap.NewNop().Sugar())
	pool.Start()
	pool.Stop()
	assert.ErrorIs(t, pool.Submit(func() {}), ErrWorkerPoolNotRunning)
}
