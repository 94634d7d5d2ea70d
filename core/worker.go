package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"argus/metrics"

	"go.uber.org/zap"
)

// Worker pool errors
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
)

// WorkerPool provides a bounded pool for parallel task processing. Rule
// evaluation is embarrassingly parallel, so the ingest pipeline fans events
// out across this pool.
type WorkerPool struct {
	workers  int
	taskCh   chan func()
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool
	mu       sync.RWMutex
	poolName string
}

// NewWorkerPool creates a worker pool. Workers start when Start is called.
// Cancelling parentCtx stops the workers, as does Stop.
func NewWorkerPool(parentCtx context.Context, workers, queueSize int, poolName string, logger *zap.SugaredLogger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if poolName == "" {
		poolName = "default"
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:  workers,
		taskCh:   make(chan func(), queueSize),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		poolName: poolName,
	}
}

// Start begins processing tasks.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running {
		return
	}
	wp.running = true
	wp.logger.Infow("Starting worker pool", "pool", wp.poolName, "workers", wp.workers)
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolName).Set(float64(wp.workers))
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop gracefully shuts down the pool, waiting up to 30s for in-flight tasks.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	wp.cancel()
	close(wp.taskCh)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped", "pool", wp.poolName)
	case <-time.After(30 * time.Second):
		wp.logger.Errorw("Worker pool shutdown timed out", "pool", wp.poolName)
	}
	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.poolName).Set(0)
}

// Submit adds a task to the queue. Returns ErrWorkerPoolQueueFull when the
// queue is at capacity rather than blocking the caller.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if !wp.running {
		return ErrWorkerPoolNotRunning
	}
	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolName).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for {
		select {
		case <-wp.ctx.Done():
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						wp.logger.Errorw("Task panicked in worker", "pool", wp.poolName, "worker_id", id, "panic", r)
					}
				}()
				task()
			}()
			metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.poolName).Inc()
		}
	}
}
