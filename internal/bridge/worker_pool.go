package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CallJob represents a bridge call to be processed by a worker
type CallJob struct {
	ctx    context.Context
	Method string
	Params Params
	Result chan *CallResult
}

// CallResult contains the result of a call job
type CallResult struct {
	Result Result
	Error  error
}

// WorkerPool bounds how many bridge calls touch the hardware at once.
// Asynchronous transports submit through it instead of calling the
// registry directly.
type WorkerPool struct {
	workers  int
	jobQueue chan *CallJob
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	logger   *zap.Logger
	registry *Registry
	timeout  time.Duration
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int, registry *Registry, timeout time.Duration, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan *CallJob, workers*2),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		registry: registry,
		timeout:  timeout,
	}
}

// Registry returns the registry the pool dispatches into
func (wp *WorkerPool) Registry() *Registry {
	return wp.registry
}

// Start launches all worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info("Starting bridge worker pool",
		zap.Int("workers", wp.workers),
		zap.Int("queue_size", cap(wp.jobQueue)))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels pending submissions and waits for running calls to finish
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.logger.Info("Stopping bridge worker pool")
		wp.cancel()
		wp.wg.Wait()
		wp.logger.Info("Bridge worker pool stopped")
	})
}

// Submit queues a call and waits for its result
func (wp *WorkerPool) Submit(ctx context.Context, method string, params Params) (Result, error) {
	resultChan := make(chan *CallResult, 1)

	job := &CallJob{
		ctx:    ctx,
		Method: method,
		Params: params,
		Result: resultChan,
	}

	select {
	case wp.jobQueue <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wp.ctx.Done():
		return nil, fmt.Errorf("worker pool is shutting down")
	}

	select {
	case result := <-resultChan:
		return result.Result, result.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wp.ctx.Done():
		return nil, fmt.Errorf("worker pool is shutting down")
	}
}

// worker is the main loop for a single worker
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug("Bridge worker started", zap.Int("worker_id", id))

	for {
		select {
		case job := <-wp.jobQueue:
			wp.processJob(id, job)
		case <-wp.ctx.Done():
			wp.logger.Debug("Bridge worker stopping", zap.Int("worker_id", id))
			return
		}
	}
}

// processJob handles a single call job
func (wp *WorkerPool) processJob(workerID int, job *CallJob) {
	// The submitter may already have given up.
	if err := job.ctx.Err(); err != nil {
		job.Result <- &CallResult{Error: err}
		return
	}

	ctx, cancel := context.WithTimeout(job.ctx, wp.timeout)
	defer cancel()

	start := time.Now()
	result, err := wp.registry.Call(ctx, job.Method, job.Params)
	job.Result <- &CallResult{Result: result, Error: err}

	if err != nil {
		wp.logger.Debug("Worker completed call with error",
			zap.Int("worker_id", workerID),
			zap.String("method", job.Method),
			zap.Error(err))
		return
	}

	wp.logger.Debug("Worker completed call",
		zap.Int("worker_id", workerID),
		zap.String("method", job.Method),
		zap.Duration("elapsed", time.Since(start)))
}
