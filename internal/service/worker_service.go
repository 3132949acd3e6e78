package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/authority"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/faultclass"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/observability"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/protect"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/queue"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/ratelimit"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// retryCoordinator is the slice of RetryOrchestrator the worker depends on.
type retryCoordinator interface {
	ScheduleRetry(ctx context.Context, transmission *domain.Transmission, fault error, fctx faultclass.Context) (*domain.RetryRecord, error)
	ClaimRetry(ctx context.Context, retryID string) (bool, error)
	CompleteRetry(ctx context.Context, retryID string) error
}

var _ retryCoordinator = (*RetryOrchestrator)(nil)

// envelopeRefresher re-seals a stored envelope under current key material
// before a retry attempt is delivered.
type envelopeRefresher interface {
	Protect(ctx context.Context, document []byte, certificateRef *string) (*domain.Envelope, error)
	Unprotect(ctx context.Context, envelope *domain.Envelope) ([]byte, error)
}

var _ envelopeRefresher = (*protect.Protector)(nil)

// WorkerService runs the bounded pool that drains the submission queue and
// performs the actual authority deliveries.
type WorkerService struct {
	transmissions repository.TransmissionRepository
	statusLog     repository.StatusLogRepository
	consumer      queue.Consumer
	client        authority.Client
	protector     envelopeRefresher
	orchestrator  retryCoordinator
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	now           func() time.Time
}

func NewWorkerService(
	transmissions repository.TransmissionRepository,
	statusLog repository.StatusLogRepository,
	consumer queue.Consumer,
	client authority.Client,
	protector envelopeRefresher,
	orchestrator retryCoordinator,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if transmissions == nil {
		return nil, fmt.Errorf("transmission repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if client == nil {
		return nil, fmt.Errorf("authority client is required")
	}
	if protector == nil {
		return nil, fmt.Errorf("payload protector is required")
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("retry orchestrator is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		transmissions: transmissions,
		statusLog:     statusLog,
		consumer:      consumer,
		client:        client,
		protector:     protector,
		orchestrator:  orchestrator,
		rateLimiter:   rateLimiter,
		logger:        logger,
		concurrency:   concurrency,
		now:           time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the submission queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started", zap.Int("workerId", workerID))

			err := s.consumer.Consume(groupCtx, queue.TransmissionQueue, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.TransmissionMessage) error {
	if msg.RetryID != "" {
		claimed, err := s.orchestrator.ClaimRetry(ctx, msg.RetryID)
		if err != nil {
			return fmt.Errorf("failed to claim retry attempt: %w", err)
		}
		if !claimed {
			s.logger.Info("retry attempt already claimed, skipping",
				zap.String("retryId", msg.RetryID),
				zap.String("transmissionId", msg.TransmissionID),
			)
			return nil
		}
	}

	transmission, err := s.transmissions.LockForSubmitting(ctx, msg.TransmissionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("transmission not found during lock, skipping",
				zap.String("transmissionId", msg.TransmissionID),
			)
			return nil
		}
		return fmt.Errorf("failed to lock transmission for submitting: %w", err)
	}

	// Nil means terminal or already in flight; ack and skip.
	if transmission == nil {
		return nil
	}

	if s.metrics != nil {
		s.metrics.IncWorkerInFlight()
		defer s.metrics.DecWorkerInFlight()
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, transmission.OrganizationID); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	// Retry attempts re-seal the envelope so rotated encryption keys and
	// newly provisioned certificates take effect before redelivery.
	if msg.RetryID != "" {
		if err := s.refreshEnvelope(ctx, transmission); err != nil {
			return s.handleFailure(ctx, transmission, msg, err, 0, "protection_failed", faultclass.RolePreparation)
		}
	}

	submission := submissionFrom(transmission)
	submitStart := s.now()
	receipt, submitErr := s.client.Submit(ctx, submission)
	elapsed := s.now().Sub(submitStart)
	if s.metrics != nil {
		s.metrics.ObserveSubmitDuration(transmission.OrganizationID, elapsed)
	}

	if submitErr == nil {
		return s.completeDelivery(ctx, transmission, msg, receipt, elapsed)
	}
	return s.handleFailure(ctx, transmission, msg, submitErr, elapsed, "delivery_failed", faultclass.RoleDelivery)
}

// refreshEnvelope recovers the document from the stored envelope and seals it
// again, persisting the fresh ciphertext before the submit attempt.
func (s *WorkerService) refreshEnvelope(ctx context.Context, transmission *domain.Transmission) error {
	stored := &domain.Envelope{
		Ciphertext:  transmission.EncryptedPayload,
		KeyRef:      transmission.EncryptionKeyRef,
		ContentHash: transmission.PayloadHash,
	}
	document, err := s.protector.Unprotect(ctx, stored)
	if err != nil {
		return fmt.Errorf("failed to recover document for retry: %w", err)
	}

	envelope, err := s.protector.Protect(ctx, document, transmission.CertificateRef)
	if err != nil {
		return fmt.Errorf("failed to re-protect document: %w", err)
	}
	if err := s.transmissions.SetEnvelope(ctx, transmission.ID, envelope); err != nil {
		return fmt.Errorf("failed to persist refreshed envelope: %w", err)
	}

	transmission.EncryptedPayload = envelope.Ciphertext
	transmission.PayloadHash = envelope.ContentHash
	transmission.EncryptionKeyRef = envelope.KeyRef
	transmission.Signed = envelope.Signed
	transmission.Signature = envelope.Signature
	if envelope.Signed {
		alg := envelope.SignatureAlgorithm
		transmission.SignatureInfo = &alg
	}
	return nil
}

func (s *WorkerService) completeDelivery(
	ctx context.Context,
	transmission *domain.Transmission,
	msg queue.TransmissionMessage,
	receipt *authority.Receipt,
	elapsed time.Duration,
) error {
	// The authority may already report a richer state in the submit receipt;
	// accept it when it maps, otherwise settle on SUBMITTED and let webhooks
	// move the status forward.
	next := domain.StatusSubmitted
	if receipt != nil {
		if mapped, ok := domain.MapExternalStatus(receipt.Status); ok && mapped == domain.StatusAccepted {
			next = mapped
		}
	}

	if err := s.transmissions.UpdateStatus(ctx, transmission.ID, next); err != nil {
		return fmt.Errorf("failed to update transmission status to submitted: %w", err)
	}
	s.appendStatusLog(ctx, transmission.ID, domain.StatusProcessing, next, "submitted", elapsed)

	if receipt != nil && receipt.SubmissionID != "" {
		patch := domain.Metadata{submissionIDMetadataKey: receipt.SubmissionID}
		if err := s.transmissions.MergeMetadata(ctx, transmission.ID, patch); err != nil {
			s.logger.Error("failed to record authority submission id",
				zap.String("transmissionId", transmission.ID),
				zap.Error(err),
			)
		}
	}

	if msg.RetryID != "" {
		if err := s.orchestrator.CompleteRetry(ctx, msg.RetryID); err != nil {
			s.logger.Error("failed to mark retry attempt succeeded",
				zap.String("retryId", msg.RetryID),
				zap.Error(err),
			)
		}
	}

	if s.metrics != nil {
		s.metrics.IncTransmissionSubmitted(transmission.OrganizationID)
	}

	s.logger.Info("transmission submitted",
		zap.String("transmissionId", transmission.ID),
		zap.String("organizationId", transmission.OrganizationID),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func (s *WorkerService) handleFailure(
	ctx context.Context,
	transmission *domain.Transmission,
	msg queue.TransmissionMessage,
	failure error,
	elapsed time.Duration,
	reason string,
	role faultclass.Role,
) error {
	s.appendStatusLog(ctx, transmission.ID, domain.StatusProcessing, domain.StatusFailed, reason, elapsed)
	if err := s.transmissions.UpdateStatus(ctx, transmission.ID, domain.StatusFailed); err != nil {
		return fmt.Errorf("failed to update transmission status to failed: %w", err)
	}

	// retryCount counts failed delivery attempts, which keeps it bounded by
	// maxRetries in the unforced flow.
	if err := s.transmissions.RecordRetryAttempt(ctx, transmission.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}
	transmission.RetryCount++

	fctx := faultclass.Context{
		RoleHint:     role,
		HTTPStatus:   authority.StatusCodeOf(failure),
		AttemptCount: transmission.RetryCount,
	}
	if _, err := s.orchestrator.ScheduleRetry(ctx, transmission, failure, fctx); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	if s.metrics != nil {
		outcome := "transient"
		if role == faultclass.RoleDelivery && !authority.IsTransient(failure) {
			outcome = "permanent"
		}
		s.metrics.IncTransmissionFailed(transmission.OrganizationID, outcome)
	}

	s.logger.Warn("transmission attempt failed",
		zap.String("transmissionId", transmission.ID),
		zap.String("organizationId", transmission.OrganizationID),
		zap.String("reason", reason),
		zap.String("trigger", string(msg.Reason)),
		zap.Error(failure),
	)
	// The failure is owned by the retry machinery now; ack the message.
	return nil
}

func (s *WorkerService) appendStatusLog(
	ctx context.Context,
	transmissionID string,
	previous, next domain.Status,
	reason string,
	processingTime time.Duration,
) {
	if s.statusLog == nil {
		return
	}

	entry := &domain.StatusLogEntry{
		ID:               uuid.NewString(),
		TransmissionID:   transmissionID,
		PreviousStatus:   previous,
		NewStatus:        next,
		Reason:           reason,
		ProcessingTimeMs: processingTime.Milliseconds(),
		CreatedAt:        s.now().UTC(),
	}
	if err := s.statusLog.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append status log entry",
			zap.String("transmissionId", transmissionID),
			zap.Error(err),
		)
	}
}

func submissionFrom(t *domain.Transmission) authority.Submission {
	submission := authority.Submission{
		TransmissionID: t.ID,
		OrganizationID: t.OrganizationID,
		DocumentRef:    t.DocumentRef,
		Payload:        t.EncryptedPayload,
		ContentHash:    t.PayloadHash,
		Signed:         t.Signed,
		Signature:      t.Signature,
	}
	if t.Signed && t.SignatureInfo != nil {
		submission.SignatureAlgorithm = *t.SignatureInfo
	}
	return submission
}
