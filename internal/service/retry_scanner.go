package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultRetryScanInterval = 5 * time.Second

// dueProcessor is the slice of RetryOrchestrator the scanner drives.
type dueProcessor interface {
	ProcessDue(ctx context.Context) (int, error)
}

var _ dueProcessor = (*RetryOrchestrator)(nil)

// RetryScanner periodically dispatches due retry records to the queue.
type RetryScanner struct {
	orchestrator dueProcessor
	logger       *zap.Logger
	interval     time.Duration
}

func NewRetryScanner(orchestrator dueProcessor, interval time.Duration, logger *zap.Logger) (*RetryScanner, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("retry orchestrator is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		orchestrator: orchestrator,
		logger:       logger,
		interval:     interval,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	s.scan(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			s.scan(ctx)
		}
	}
}

func (s *RetryScanner) scan(ctx context.Context) {
	dispatched, err := s.orchestrator.ProcessDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("retry scan failed", zap.Error(err))
		}
		return
	}
	if dispatched > 0 {
		s.logger.Info("retry scan dispatched due attempts", zap.Int("count", dispatched))
	}
}
