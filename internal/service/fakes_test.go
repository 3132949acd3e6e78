package service

import (
	"context"
	"time"

	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/authority"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/faultclass"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/queue"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/repository"
)

type fakeTransmissionRepo struct {
	createFunc             func(ctx context.Context, t *domain.Transmission) error
	getByIDFunc            func(ctx context.Context, id string) (*domain.Transmission, error)
	listFunc               func(ctx context.Context, params repository.ListParams) ([]domain.Transmission, int64, error)
	updateStatusFunc       func(ctx context.Context, id string, status domain.Status) error
	updateStatusIfFunc     func(ctx context.Context, id string, expected, next domain.Status) (bool, error)
	cancelFunc             func(ctx context.Context, id string) error
	lockForSubmittingFunc  func(ctx context.Context, id string) (*domain.Transmission, error)
	recordRetryAttemptFunc func(ctx context.Context, id string, at time.Time) error
	setRetryLimitsFunc     func(ctx context.Context, id string, maxRetries int) error
	mergeMetadataFunc      func(ctx context.Context, id string, patch domain.Metadata) error
	setEnvelopeFunc        func(ctx context.Context, id string, envelope *domain.Envelope) error
	statusCountsFunc       func(ctx context.Context, organizationID string, from, to *time.Time) ([]repository.StatusCount, error)
	averageRetryCountFunc  func(ctx context.Context, organizationID string, from, to *time.Time) (float64, error)
}

func (f *fakeTransmissionRepo) Create(ctx context.Context, t *domain.Transmission) error {
	if f.createFunc != nil {
		return f.createFunc(ctx, t)
	}
	return nil
}

func (f *fakeTransmissionRepo) GetByID(ctx context.Context, id string) (*domain.Transmission, error) {
	if f.getByIDFunc != nil {
		return f.getByIDFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTransmissionRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Transmission, int64, error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeTransmissionRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	if f.updateStatusFunc != nil {
		return f.updateStatusFunc(ctx, id, status)
	}
	return nil
}

func (f *fakeTransmissionRepo) UpdateStatusIf(ctx context.Context, id string, expected, next domain.Status) (bool, error) {
	if f.updateStatusIfFunc != nil {
		return f.updateStatusIfFunc(ctx, id, expected, next)
	}
	return true, nil
}

func (f *fakeTransmissionRepo) Cancel(ctx context.Context, id string) error {
	if f.cancelFunc != nil {
		return f.cancelFunc(ctx, id)
	}
	return nil
}

func (f *fakeTransmissionRepo) LockForSubmitting(ctx context.Context, id string) (*domain.Transmission, error) {
	if f.lockForSubmittingFunc != nil {
		return f.lockForSubmittingFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTransmissionRepo) RecordRetryAttempt(ctx context.Context, id string, at time.Time) error {
	if f.recordRetryAttemptFunc != nil {
		return f.recordRetryAttemptFunc(ctx, id, at)
	}
	return nil
}

func (f *fakeTransmissionRepo) SetRetryLimits(ctx context.Context, id string, maxRetries int) error {
	if f.setRetryLimitsFunc != nil {
		return f.setRetryLimitsFunc(ctx, id, maxRetries)
	}
	return nil
}

func (f *fakeTransmissionRepo) MergeMetadata(ctx context.Context, id string, patch domain.Metadata) error {
	if f.mergeMetadataFunc != nil {
		return f.mergeMetadataFunc(ctx, id, patch)
	}
	return nil
}

func (f *fakeTransmissionRepo) SetEnvelope(ctx context.Context, id string, envelope *domain.Envelope) error {
	if f.setEnvelopeFunc != nil {
		return f.setEnvelopeFunc(ctx, id, envelope)
	}
	return nil
}

func (f *fakeTransmissionRepo) StatusCounts(ctx context.Context, organizationID string, from, to *time.Time) ([]repository.StatusCount, error) {
	if f.statusCountsFunc != nil {
		return f.statusCountsFunc(ctx, organizationID, from, to)
	}
	return nil, nil
}

func (f *fakeTransmissionRepo) AverageRetryCount(ctx context.Context, organizationID string, from, to *time.Time) (float64, error) {
	if f.averageRetryCountFunc != nil {
		return f.averageRetryCountFunc(ctx, organizationID, from, to)
	}
	return 0, nil
}

type fakeRetryRepo struct {
	createFunc                  func(ctx context.Context, r *domain.RetryRecord) error
	getByIDFunc                 func(ctx context.Context, id string) (*domain.RetryRecord, error)
	getActiveFunc               func(ctx context.Context, transmissionID string) (*domain.RetryRecord, error)
	updateFunc                  func(ctx context.Context, r *domain.RetryRecord) error
	getDueFunc                  func(ctx context.Context, now time.Time, limit int) ([]domain.RetryRecord, error)
	markInProgressIfPendingFunc func(ctx context.Context, id string) (bool, error)
	cancelActiveFunc            func(ctx context.Context, transmissionID string) error
	markAlertSentFunc           func(ctx context.Context, id string) error
	countEscalationsFunc        func(ctx context.Context, organizationID string, from, to *time.Time) (int64, error)
	listByTransmissionFunc      func(ctx context.Context, transmissionID string) ([]domain.RetryRecord, error)
}

func (f *fakeRetryRepo) Create(ctx context.Context, r *domain.RetryRecord) error {
	if f.createFunc != nil {
		return f.createFunc(ctx, r)
	}
	return nil
}

func (f *fakeRetryRepo) GetByID(ctx context.Context, id string) (*domain.RetryRecord, error) {
	if f.getByIDFunc != nil {
		return f.getByIDFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRetryRepo) GetActiveByTransmission(ctx context.Context, transmissionID string) (*domain.RetryRecord, error) {
	if f.getActiveFunc != nil {
		return f.getActiveFunc(ctx, transmissionID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRetryRepo) Update(ctx context.Context, r *domain.RetryRecord) error {
	if f.updateFunc != nil {
		return f.updateFunc(ctx, r)
	}
	return nil
}

func (f *fakeRetryRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryRecord, error) {
	if f.getDueFunc != nil {
		return f.getDueFunc(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeRetryRepo) MarkInProgressIfPending(ctx context.Context, id string) (bool, error) {
	if f.markInProgressIfPendingFunc != nil {
		return f.markInProgressIfPendingFunc(ctx, id)
	}
	return true, nil
}

func (f *fakeRetryRepo) CancelActiveByTransmission(ctx context.Context, transmissionID string) error {
	if f.cancelActiveFunc != nil {
		return f.cancelActiveFunc(ctx, transmissionID)
	}
	return nil
}

func (f *fakeRetryRepo) MarkAlertSent(ctx context.Context, id string) error {
	if f.markAlertSentFunc != nil {
		return f.markAlertSentFunc(ctx, id)
	}
	return nil
}

func (f *fakeRetryRepo) CountEscalations(ctx context.Context, organizationID string, from, to *time.Time) (int64, error) {
	if f.countEscalationsFunc != nil {
		return f.countEscalationsFunc(ctx, organizationID, from, to)
	}
	return 0, nil
}

func (f *fakeRetryRepo) ListByTransmission(ctx context.Context, transmissionID string) ([]domain.RetryRecord, error) {
	if f.listByTransmissionFunc != nil {
		return f.listByTransmissionFunc(ctx, transmissionID)
	}
	return nil, nil
}

type fakeStatusLogRepo struct {
	appendFunc func(ctx context.Context, entry *domain.StatusLogEntry) error
	listFunc   func(ctx context.Context, transmissionID string) ([]domain.StatusLogEntry, error)

	entries []domain.StatusLogEntry
}

func (f *fakeStatusLogRepo) Append(ctx context.Context, entry *domain.StatusLogEntry) error {
	if f.appendFunc != nil {
		return f.appendFunc(ctx, entry)
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeStatusLogRepo) ListByTransmission(ctx context.Context, transmissionID string) ([]domain.StatusLogEntry, error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, transmissionID)
	}
	return f.entries, nil
}

type fakeAuditRepo struct {
	recordFunc func(ctx context.Context, entry *domain.AuditEntry) error

	entries []domain.AuditEntry
}

func (f *fakeAuditRepo) Record(ctx context.Context, entry *domain.AuditEntry) error {
	if f.recordFunc != nil {
		return f.recordFunc(ctx, entry)
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAuditRepo) ListByTransmission(ctx context.Context, transmissionID string) ([]domain.AuditEntry, error) {
	return f.entries, nil
}

type fakePublisher struct {
	publishFunc func(ctx context.Context, queueName string, msg queue.TransmissionMessage) error

	published []queue.TransmissionMessage
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.TransmissionMessage) error {
	if f.publishFunc != nil {
		return f.publishFunc(ctx, queueName, msg)
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeAuthorityClient struct {
	submitFunc func(ctx context.Context, submission authority.Submission) (*authority.Receipt, error)
	statusFunc func(ctx context.Context, submissionID string) (*authority.Receipt, error)
}

func (f *fakeAuthorityClient) Submit(ctx context.Context, submission authority.Submission) (*authority.Receipt, error) {
	if f.submitFunc != nil {
		return f.submitFunc(ctx, submission)
	}
	return &authority.Receipt{Status: "submitted"}, nil
}

func (f *fakeAuthorityClient) Status(ctx context.Context, submissionID string) (*authority.Receipt, error) {
	if f.statusFunc != nil {
		return f.statusFunc(ctx, submissionID)
	}
	return &authority.Receipt{Status: "submitted"}, nil
}

type fakeRateLimiter struct {
	allowFunc func(ctx context.Context, organizationID string) (bool, error)
	waitFunc  func(ctx context.Context, organizationID string) error

	waited []string
}

func (f *fakeRateLimiter) Allow(ctx context.Context, organizationID string) (bool, error) {
	if f.allowFunc != nil {
		return f.allowFunc(ctx, organizationID)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, organizationID string) error {
	if f.waitFunc != nil {
		return f.waitFunc(ctx, organizationID)
	}
	f.waited = append(f.waited, organizationID)
	return nil
}

type fakeProtector struct {
	protectFunc   func(ctx context.Context, document []byte, certificateRef *string) (*domain.Envelope, error)
	unprotectFunc func(ctx context.Context, envelope *domain.Envelope) ([]byte, error)
}

func (f *fakeProtector) Protect(ctx context.Context, document []byte, certificateRef *string) (*domain.Envelope, error) {
	if f.protectFunc != nil {
		return f.protectFunc(ctx, document, certificateRef)
	}
	return &domain.Envelope{
		Ciphertext:  []byte("ciphertext"),
		KeyRef:      "static:test",
		ContentHash: "deadbeef",
	}, nil
}

func (f *fakeProtector) Unprotect(ctx context.Context, envelope *domain.Envelope) ([]byte, error) {
	if f.unprotectFunc != nil {
		return f.unprotectFunc(ctx, envelope)
	}
	return []byte(`{"invoice":"001"}`), nil
}

type fakeCoordinator struct {
	scheduleRetryFunc func(ctx context.Context, transmission *domain.Transmission, fault error, fctx faultclass.Context) (*domain.RetryRecord, error)
	claimRetryFunc    func(ctx context.Context, retryID string) (bool, error)
	completeRetryFunc func(ctx context.Context, retryID string) error

	scheduled []error
	completed []string
}

func (f *fakeCoordinator) ScheduleRetry(ctx context.Context, transmission *domain.Transmission, fault error, fctx faultclass.Context) (*domain.RetryRecord, error) {
	if f.scheduleRetryFunc != nil {
		return f.scheduleRetryFunc(ctx, transmission, fault, fctx)
	}
	f.scheduled = append(f.scheduled, fault)
	return &domain.RetryRecord{ID: "scheduled"}, nil
}

func (f *fakeCoordinator) ClaimRetry(ctx context.Context, retryID string) (bool, error) {
	if f.claimRetryFunc != nil {
		return f.claimRetryFunc(ctx, retryID)
	}
	return true, nil
}

func (f *fakeCoordinator) CompleteRetry(ctx context.Context, retryID string) error {
	if f.completeRetryFunc != nil {
		return f.completeRetryFunc(ctx, retryID)
	}
	f.completed = append(f.completed, retryID)
	return nil
}

type fakeAlertChannel struct {
	name     string
	sendFunc func(ctx context.Context, alert Alert) error

	sent []Alert
}

func (f *fakeAlertChannel) Name() string {
	if f.name != "" {
		return f.name
	}
	return "fake"
}

func (f *fakeAlertChannel) Send(ctx context.Context, alert Alert) error {
	if f.sendFunc != nil {
		return f.sendFunc(ctx, alert)
	}
	f.sent = append(f.sent, alert)
	return nil
}

type fakeNotifier struct {
	notifyFunc func(ctx context.Context, alert Alert) error

	alerts []Alert
}

func (f *fakeNotifier) Notify(ctx context.Context, alert Alert) error {
	if f.notifyFunc != nil {
		return f.notifyFunc(ctx, alert)
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
