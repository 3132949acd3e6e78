package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDueProcessor struct {
	calls int64
	err   error
}

func (f *fakeDueProcessor) ProcessDue(context.Context) (int, error) {
	atomic.AddInt64(&f.calls, 1)
	return 0, f.err
}

func TestRetryScannerRunsInitialScan(t *testing.T) {
	t.Parallel()

	processor := &fakeDueProcessor{}
	scanner, err := NewRetryScanner(processor, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = scanner.Start(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&processor.calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("initial scan never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop on context cancellation")
	}
}

func TestRetryScannerSurvivesScanErrors(t *testing.T) {
	t.Parallel()

	processor := &fakeDueProcessor{err: errors.New("database gone")}
	scanner, err := NewRetryScanner(processor, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := scanner.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v, want nil on cancellation", err)
	}
	if atomic.LoadInt64(&processor.calls) < 2 {
		t.Fatalf("calls = %d, want ticker to keep scanning after errors", processor.calls)
	}
}

func TestNewRetryScannerRequiresOrchestrator(t *testing.T) {
	t.Parallel()

	if _, err := NewRetryScanner(nil, time.Second, nil); err == nil {
		t.Fatal("expected error for nil orchestrator")
	}
}
