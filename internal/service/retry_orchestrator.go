package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/faultclass"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/observability"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/queue"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/repository"
	"go.uber.org/zap"
)

const defaultProcessDueLimit = 100

// alertNotifier decouples the orchestrator from the dispatcher's channels.
type alertNotifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// RetryOrchestrator owns the retry state machine: it classifies faults,
// schedules backoff attempts, discards retries for cancelled transmissions,
// and escalates at most one alert per retry record.
type RetryOrchestrator struct {
	transmissions repository.TransmissionRepository
	retries       repository.RetryRepository
	audit         repository.AuditRepository
	publisher     queue.Publisher
	alerts        alertNotifier
	logger        *zap.Logger
	metrics       *observability.Metrics
	limit         int
	now           func() time.Time
}

func NewRetryOrchestrator(
	transmissions repository.TransmissionRepository,
	retries repository.RetryRepository,
	audit repository.AuditRepository,
	publisher queue.Publisher,
	alerts alertNotifier,
	logger *zap.Logger,
) (*RetryOrchestrator, error) {
	if transmissions == nil {
		return nil, fmt.Errorf("transmission repository is required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryOrchestrator{
		transmissions: transmissions,
		retries:       retries,
		audit:         audit,
		publisher:     publisher,
		alerts:        alerts,
		logger:        logger,
		limit:         defaultProcessDueLimit,
		now:           time.Now,
	}, nil
}

func (o *RetryOrchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// ScheduleRetry reacts to a failed delivery attempt. Permanent faults go
// terminal immediately with an unconditional alert; retryable faults get a
// backoff slot on the transmission's single active retry record, escalating
// once per record when the classification demands it.
func (o *RetryOrchestrator) ScheduleRetry(
	ctx context.Context,
	transmission *domain.Transmission,
	fault error,
	fctx faultclass.Context,
) (*domain.RetryRecord, error) {
	if transmission == nil {
		return nil, fmt.Errorf("%w: transmission is required", domain.ErrValidation)
	}

	classification := faultclass.Classify(fault, fctx)

	if classification.Permanent {
		return nil, o.failPermanently(ctx, transmission, fault, classification)
	}

	record, err := o.retries.GetActiveByTransmission(ctx, transmission.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		record, err = o.createRecord(ctx, transmission, fault, classification)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load active retry record: %w", err)
	default:
		record, err = o.advanceRecord(ctx, transmission, record, fault, classification)
		if err != nil {
			return nil, err
		}
	}

	// A nil record means the attempt ceiling was reached and the terminal
	// path already ran.
	if record == nil {
		return nil, nil
	}

	if o.metrics != nil {
		o.metrics.IncRetryScheduled(classification.Category.String())
	}
	if classification.EscalationRequired && !record.AlertSent {
		o.escalate(ctx, transmission, record, classification)
	}

	return record, nil
}

func (o *RetryOrchestrator) createRecord(
	ctx context.Context,
	transmission *domain.Transmission,
	fault error,
	classification faultclass.Classification,
) (*domain.RetryRecord, error) {
	policy := faultclass.PolicyFor(classification)

	// The transmission's own retry ceiling wins over the policy default so
	// operator-set limits are honored; the policy still drives the delays.
	maxAttempts := transmission.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = policy.MaxAttempts
	}
	baseDelaySeconds := int(policy.BaseDelay / time.Second)
	if override := retryDelayOverride(transmission.Metadata); override > 0 {
		baseDelaySeconds = override
	}

	record := &domain.RetryRecord{
		ID:               uuid.NewString(),
		TransmissionID:   transmission.ID,
		AttemptNumber:    1,
		MaxAttempts:      maxAttempts,
		BaseDelaySeconds: baseDelaySeconds,
		Multiplier:       policy.Multiplier,
		Status:           domain.RetryPending,
		ErrorType:        classification.Category.String(),
		ErrorMessage:     faultMessage(fault),
		Severity:         classification.Severity,
	}
	if record.Exhausted() {
		// A retry ceiling of one means the first failure is already terminal.
		record.Status = domain.RetryMaxExceeded
	} else {
		next := o.now().Add(record.BackoffDelay(record.AttemptNumber))
		record.NextAttemptAt = &next
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}
	if err := o.retries.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create retry record: %w", err)
	}

	if record.Status == domain.RetryMaxExceeded {
		if err := o.transmissions.UpdateStatus(ctx, transmission.ID, domain.StatusFailed); err != nil {
			return nil, fmt.Errorf("failed to mark transmission failed: %w", err)
		}
		o.escalate(ctx, transmission, record, classification)
		return nil, nil
	}

	o.logger.Info("retry scheduled",
		zap.String("transmissionId", transmission.ID),
		zap.String("retryId", record.ID),
		zap.Int("attempt", record.AttemptNumber),
		zap.Timep("nextAttemptAt", record.NextAttemptAt),
		zap.String("category", classification.Category.String()),
	)
	return record, nil
}

func (o *RetryOrchestrator) advanceRecord(
	ctx context.Context,
	transmission *domain.Transmission,
	record *domain.RetryRecord,
	fault error,
	classification faultclass.Classification,
) (*domain.RetryRecord, error) {
	record.ErrorType = classification.Category.String()
	record.ErrorMessage = faultMessage(fault)
	if classification.Severity.AtLeast(record.Severity) {
		record.Severity = classification.Severity
	}

	// AttemptNumber tracks the attempt that just failed.
	record.AttemptNumber++

	if record.Exhausted() {
		record.Status = domain.RetryMaxExceeded
		record.NextAttemptAt = nil
		if err := o.retries.Update(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to mark retry record exhausted: %w", err)
		}
		if err := o.transmissions.UpdateStatus(ctx, transmission.ID, domain.StatusFailed); err != nil {
			return nil, fmt.Errorf("failed to mark transmission failed: %w", err)
		}
		o.recordAudit(ctx, transmission, "retry_exhausted", domain.Metadata{
			"retryId":  record.ID,
			"attempts": record.AttemptNumber,
			"error":    record.ErrorMessage,
		})
		if !record.AlertSent {
			o.escalate(ctx, transmission, record, classification)
		}
		o.logger.Warn("retry attempts exhausted",
			zap.String("transmissionId", transmission.ID),
			zap.String("retryId", record.ID),
			zap.Int("attempts", record.AttemptNumber),
		)
		return nil, nil
	}

	record.Status = domain.RetryPending
	next := o.now().Add(record.BackoffDelay(record.AttemptNumber))
	record.NextAttemptAt = &next

	if err := o.retries.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to reschedule retry record: %w", err)
	}

	o.logger.Info("retry rescheduled",
		zap.String("transmissionId", transmission.ID),
		zap.String("retryId", record.ID),
		zap.Int("attempt", record.AttemptNumber),
		zap.Time("nextAttemptAt", next),
	)
	return record, nil
}

func (o *RetryOrchestrator) failPermanently(
	ctx context.Context,
	transmission *domain.Transmission,
	fault error,
	classification faultclass.Classification,
) error {
	if err := o.transmissions.UpdateStatus(ctx, transmission.ID, domain.StatusFailed); err != nil {
		return fmt.Errorf("failed to mark transmission failed: %w", err)
	}
	if err := o.retries.CancelActiveByTransmission(ctx, transmission.ID); err != nil {
		o.logger.Error("failed to cancel active retry record for permanent fault",
			zap.String("transmissionId", transmission.ID),
			zap.Error(err),
		)
	}

	o.recordAudit(ctx, transmission, "permanent_failure", domain.Metadata{
		"category": classification.Category.String(),
		"severity": classification.Severity.String(),
		"reason":   classification.Reason,
		"error":    faultMessage(fault),
	})

	// Permanent faults always alert; there is no retry record to dedup on.
	if o.alerts != nil {
		alert := Alert{
			TransmissionID: transmission.ID,
			OrganizationID: transmission.OrganizationID,
			Category:       classification.Category.String(),
			Severity:       classification.Severity,
			Reason:         classification.Reason,
			Permanent:      true,
		}
		if err := o.alerts.Notify(ctx, alert); err != nil {
			o.logger.Error("failed to dispatch permanent-failure alert",
				zap.String("transmissionId", transmission.ID),
				zap.Error(err),
			)
		}
	}

	o.logger.Warn("transmission failed permanently",
		zap.String("transmissionId", transmission.ID),
		zap.String("category", classification.Category.String()),
		zap.String("reason", classification.Reason),
	)
	return nil
}

func (o *RetryOrchestrator) escalate(
	ctx context.Context,
	transmission *domain.Transmission,
	record *domain.RetryRecord,
	classification faultclass.Classification,
) {
	if o.alerts == nil {
		return
	}

	alert := Alert{
		TransmissionID: transmission.ID,
		OrganizationID: transmission.OrganizationID,
		Category:       classification.Category.String(),
		Severity:       record.Severity,
		AttemptNumber:  record.AttemptNumber,
		MaxAttempts:    record.MaxAttempts,
		Reason:         classification.Reason,
	}
	if err := o.alerts.Notify(ctx, alert); err != nil {
		o.logger.Error("failed to dispatch escalation alert",
			zap.String("transmissionId", transmission.ID),
			zap.String("retryId", record.ID),
			zap.Error(err),
		)
		return
	}

	record.AlertSent = true
	if err := o.retries.MarkAlertSent(ctx, record.ID); err != nil {
		o.logger.Error("failed to mark alert sent",
			zap.String("retryId", record.ID),
			zap.Error(err),
		)
	}
}

// ProcessDue scans pending retry records whose backoff has elapsed and hands
// each to the submission queue. Records whose transmission went terminal in
// the meantime are discarded instead of dispatched.
func (o *RetryOrchestrator) ProcessDue(ctx context.Context) (int, error) {
	due, err := o.retries.GetDue(ctx, o.now(), o.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due retries: %w", err)
	}

	dispatched := 0
	for i := range due {
		record := due[i]

		transmission, err := o.transmissions.GetByID(ctx, record.TransmissionID)
		if err != nil {
			o.logger.Error("failed to load transmission for due retry",
				zap.String("retryId", record.ID),
				zap.String("transmissionId", record.TransmissionID),
				zap.Error(err),
			)
			continue
		}
		if transmission.Status.IsTerminal() {
			if err := o.retries.CancelActiveByTransmission(ctx, transmission.ID); err != nil {
				o.logger.Error("failed to discard retry for terminal transmission",
					zap.String("retryId", record.ID),
					zap.Error(err),
				)
			}
			continue
		}

		msg := queue.TransmissionMessage{
			TransmissionID: transmission.ID,
			OrganizationID: transmission.OrganizationID,
			RetryID:        record.ID,
			Reason:         queue.ReasonRetry,
		}
		if err := o.publisher.Publish(ctx, queue.TransmissionQueue, msg); err != nil {
			o.logger.Error("failed to enqueue due retry",
				zap.String("retryId", record.ID),
				zap.String("transmissionId", transmission.ID),
				zap.Error(err),
			)
			continue
		}

		// Clear the due timestamp so the next scan does not re-enqueue the
		// record while the worker still holds it.
		record.NextAttemptAt = nil
		if err := o.retries.Update(ctx, &record); err != nil {
			o.logger.Error("failed to clear due timestamp after enqueue",
				zap.String("retryId", record.ID),
				zap.Error(err),
			)
			continue
		}
		dispatched++
	}

	return dispatched, nil
}

// ClaimRetry transitions a pending record to IN_PROGRESS. A false return
// means another worker already executed (or discarded) this attempt.
func (o *RetryOrchestrator) ClaimRetry(ctx context.Context, retryID string) (bool, error) {
	return o.retries.MarkInProgressIfPending(ctx, retryID)
}

// CompleteRetry marks the claimed attempt as succeeded.
func (o *RetryOrchestrator) CompleteRetry(ctx context.Context, retryID string) error {
	record, err := o.retries.GetByID(ctx, retryID)
	if err != nil {
		return err
	}
	record.Status = domain.RetrySucceeded
	record.NextAttemptAt = nil
	return o.retries.Update(ctx, record)
}

func (o *RetryOrchestrator) recordAudit(ctx context.Context, transmission *domain.Transmission, event string, detail domain.Metadata) {
	if o.audit == nil {
		return
	}

	transmissionID := transmission.ID
	organizationID := transmission.OrganizationID
	entry := &domain.AuditEntry{
		ID:             uuid.NewString(),
		TransmissionID: &transmissionID,
		OrganizationID: &organizationID,
		Event:          event,
		Detail:         detail,
		CreatedAt:      o.now().UTC(),
	}
	if err := o.audit.Record(ctx, entry); err != nil {
		o.logger.Error("failed to record audit entry",
			zap.String("transmissionId", transmission.ID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func faultMessage(fault error) string {
	if fault == nil {
		return ""
	}
	return fault.Error()
}

func retryDelayOverride(metadata domain.Metadata) int {
	if metadata == nil {
		return 0
	}
	switch v := metadata[retryDelayMetadataKey].(type) {
	case int:
		return v
	case float64:
		// JSON round-trips numbers as float64.
		return int(v)
	}
	return 0
}
