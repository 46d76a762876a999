// Package supervisor generalizes the teacher's cmd/server/main.go
// goroutine-launch-then-sigchan shutdown sequence into a reusable type:
// register every long-running component once as a Task, then Run it
// under one context whose cancellation drives a concurrent, bounded
// shutdown instead of a hand-written chain of "if x.IsRunning() {
// x.Stop() }" calls at the bottom of main.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a long-running component with an explicit start/stop lifecycle.
// Start must return once its work is underway (it launches its own
// goroutines); Stop must block until those goroutines have exited or
// ctx expires.
type Task struct {
	Name  string
	Start func(ctx context.Context)
	Stop  func(ctx context.Context) error
}

// Supervisor starts every registered Task and, on root cancellation,
// stops all of them concurrently within ShutdownTimeout.
type Supervisor struct {
	logger          *zap.Logger
	tasks           []Task
	ShutdownTimeout time.Duration
}

// New constructs a Supervisor with a default 30s shutdown budget,
// mirroring the teacher's 30*time.Second graceful-shutdown context.
func New(logger *zap.Logger) *Supervisor {
	return &Supervisor{logger: logger, ShutdownTimeout: 30 * time.Second}
}

// Register adds a Task. Tasks are started in registration order.
func (s *Supervisor) Register(t Task) {
	s.tasks = append(s.tasks, t)
}

// Run starts every registered task and blocks until ctx is cancelled,
// then stops every task concurrently within ShutdownTimeout.
func (s *Supervisor) Run(ctx context.Context) {
	for _, t := range s.tasks {
		s.logger.Info("starting task", zap.String("task", t.Name))
		t.Start(ctx)
	}

	<-ctx.Done()
	s.logger.Info("shutdown signal received, stopping tasks")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for i := len(s.tasks) - 1; i >= 0; i-- {
		t := s.tasks[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if t.Stop == nil {
				return
			}
			if err := t.Stop(shutdownCtx); err != nil {
				s.logger.Error("task stop failed", zap.String("task", t.Name), zap.Error(err))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all tasks stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("shutdown timed out, some tasks may not have stopped cleanly")
	}
}
