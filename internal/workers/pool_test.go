package workers

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testConfig() *PoolConfig {
	cfg := DefaultPoolConfig("test-pool")
	cfg.NumWorkers = 2
	cfg.QueueSize = 8
	cfg.TaskTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func TestSubmitWaitRunsTaskAndReportsError(t *testing.T) {
	p := NewPool(zap.NewNop(), testConfig())
	p.Start()
	defer p.Stop()

	if err := p.SubmitWait(TaskFunc(func() error { return nil })); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	wantErr := errors.New("boom")
	if err := p.SubmitWait(TaskFunc(func() error { return wantErr })); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped task error, got %v", err)
	}

	stats := p.Stats()
	if stats.TasksCompleted != 1 || stats.TasksFailed != 1 {
		t.Fatalf("expected 1 completed and 1 failed, got %+v", stats)
	}
}

func TestSubmitAfterStopReturnsErrPoolStopped(t *testing.T) {
	p := NewPool(zap.NewNop(), testConfig())
	p.Start()
	if err := p.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	if err := p.Submit(TaskFunc(func() error { return nil })); err != ErrPoolStopped {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
}

func TestExecuteTaskTimesOutSlowTask(t *testing.T) {
	cfg := testConfig()
	cfg.TaskTimeout = 20 * time.Millisecond
	p := NewPool(zap.NewNop(), cfg)
	p.Start()
	defer p.Stop()

	done := make(chan struct{})
	_ = p.Submit(TaskFunc(func() error {
		time.Sleep(200 * time.Millisecond)
		close(done)
		return nil
	}))

	time.Sleep(50 * time.Millisecond)
	stats := p.Stats()
	if stats.TasksTimeout != 1 {
		t.Fatalf("expected a recorded timeout, got %+v", stats)
	}
	<-done // drain so the slow goroutine doesn't leak past the test
}

func TestExecuteTaskRecoversPanic(t *testing.T) {
	p := NewPool(zap.NewNop(), testConfig())
	p.Start()
	defer p.Stop()

	if err := p.SubmitWait(TaskFunc(func() error {
		panic("task exploded")
	})); err == nil {
		t.Fatalf("expected a recovered-panic error")
	}

	if p.Stats().PanicRecovered != 1 {
		t.Fatalf("expected PanicRecovered=1, got %+v", p.Stats())
	}
}
