// Package workers provides a bounded goroutine pool used by the
// DecisionEngine to run one in-flight cycle per instrument without letting
// a slow LLM debate or a stalled gate check pile up unbounded goroutines.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed.
type Task interface {
	Execute() error
}

// TaskFunc adapts a function to Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// Pool manages a fixed set of worker goroutines draining a shared queue.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	workers   []*worker
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *PoolMetrics
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Name            string        // pool name for logging
	NumWorkers      int           // number of worker goroutines
	QueueSize       int           // size of the task queue
	TaskTimeout     time.Duration // timeout for individual tasks
	ShutdownTimeout time.Duration // timeout for graceful shutdown
	PanicRecovery   bool          // recover panics inside tasks
}

// DefaultPoolConfig returns sensible defaults, scaled to CPU count. Callers
// (e.g. DecisionEngine) override NumWorkers/TaskTimeout from their own config.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU() * 2,
		QueueSize:       1024,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// PoolMetrics tracks basic pool throughput counters.
type PoolMetrics struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksTimeout   int64
	PanicRecovered int64

	startTime time.Time
}

// NewPoolMetrics creates a new metrics tracker.
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{startTime: time.Now()}
}

// GetStats returns a snapshot of current metrics.
func (m *PoolMetrics) GetStats() PoolStats {
	return PoolStats{
		TasksSubmitted: atomic.LoadInt64(&m.TasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&m.TasksCompleted),
		TasksFailed:    atomic.LoadInt64(&m.TasksFailed),
		TasksTimeout:   atomic.LoadInt64(&m.TasksTimeout),
		PanicRecovered: atomic.LoadInt64(&m.PanicRecovered),
		Uptime:         time.Since(m.startTime),
	}
}

// PoolStats is a point-in-time snapshot of pool counters.
type PoolStats struct {
	TasksSubmitted int64         `json:"tasks_submitted"`
	TasksCompleted int64         `json:"tasks_completed"`
	TasksFailed    int64         `json:"tasks_failed"`
	TasksTimeout   int64         `json:"tasks_timeout"`
	PanicRecovered int64         `json:"panic_recovered"`
	Uptime         time.Duration `json:"uptime"`
}

// worker is a single pool goroutine.
type worker struct {
	id     int
	pool   *Pool
	logger *zap.Logger
}

// NewPool creates a worker pool. The pool is not started until Start is called.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		workers:   make([]*worker, config.NumWorkers),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   NewPoolMetrics(),
	}
}

// Start launches the configured number of worker goroutines.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		w := &worker{
			id:     i,
			pool:   p,
			logger: p.logger.With(zap.Int("worker_id", i)),
		}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run()
	}
}

func (w *worker) run() {
	defer w.pool.wg.Done()

	for {
		select {
		case <-w.pool.ctx.Done():
			return
		case task, ok := <-w.pool.taskQueue:
			if !ok {
				return
			}
			w.executeTask(task)
		}
	}
}

// executeTask runs a task under the pool's timeout, with optional panic recovery.
func (w *worker) executeTask(task Task) {
	ctx, cancel := context.WithTimeout(w.pool.ctx, w.pool.config.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		var err error
		if w.pool.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddInt64(&w.pool.metrics.PanicRecovered, 1)
					w.logger.Error("worker recovered from panic", zap.Any("panic", r))
					err = &PanicError{Recovered: r}
				}
				done <- err
			}()
		}

		err = task.Execute()
		if !w.pool.config.PanicRecovery {
			done <- err
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			atomic.AddInt64(&w.pool.metrics.TasksFailed, 1)
			w.logger.Debug("task failed", zap.Error(err))
		} else {
			atomic.AddInt64(&w.pool.metrics.TasksCompleted, 1)
		}
	case <-ctx.Done():
		atomic.AddInt64(&w.pool.metrics.TasksTimeout, 1)
		w.logger.Warn("task timed out", zap.Duration("timeout", w.pool.config.TaskTimeout))
	}
}

// Submit enqueues a task without blocking; returns ErrQueueFull if the
// queue is saturated.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		atomic.AddInt64(&p.metrics.TasksSubmitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait submits a task and blocks until it completes, returning the
// task's error (a *PanicError if the task panicked).
func (p *Pool) SubmitWait(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	done := make(chan error, 1)
	wrapper := TaskFunc(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				if !p.config.PanicRecovery {
					panic(r)
				}
				atomic.AddInt64(&p.metrics.PanicRecovered, 1)
				p.logger.Error("worker recovered from panic", zap.Any("panic", r))
				err = &PanicError{Recovered: r}
			}
			done <- err
		}()
		return task.Execute()
	})

	if err := p.Submit(wrapper); err != nil {
		return err
	}

	return <-done
}

// SubmitFunc submits a function as a task.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop signals every worker to exit and waits up to ShutdownTimeout.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name), zap.Duration("timeout", p.config.ShutdownTimeout))
		return ErrShutdownTimeout
	}
}

// QueueLength returns the current number of queued tasks.
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// IsRunning returns whether the pool is running.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	return p.metrics.GetStats()
}

var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error.
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic.
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string { return "panic recovered" }
