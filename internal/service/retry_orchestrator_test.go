package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/faultclass"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/queue"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/repository"
)

func newOrchestrator(
	t *testing.T,
	transmissions repository.TransmissionRepository,
	retries repository.RetryRepository,
	audit *fakeAuditRepo,
	publisher queue.Publisher,
	alerts alertNotifier,
	at time.Time,
) *RetryOrchestrator {
	t.Helper()

	o, err := NewRetryOrchestrator(transmissions, retries, audit, publisher, alerts, nil)
	if err != nil {
		t.Fatalf("NewRetryOrchestrator() error = %v", err)
	}
	o.now = fixedClock(at)
	return o
}

func TestScheduleRetryCreatesRecordWithPolicyDelay(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var created *domain.RetryRecord
	retries := &fakeRetryRepo{
		createFunc: func(_ context.Context, r *domain.RetryRecord) error {
			created = r
			return nil
		},
	}
	notifier := &fakeNotifier{}
	o := newOrchestrator(t, &fakeTransmissionRepo{}, retries, &fakeAuditRepo{}, &fakePublisher{}, notifier, now)

	transmission := &domain.Transmission{ID: "t1", OrganizationID: "org-1", MaxRetries: 5}
	record, err := o.ScheduleRetry(context.Background(), transmission, errors.New("request timeout"), faultclass.Context{})
	if err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}

	if created == nil || record == nil {
		t.Fatal("retry record was not created")
	}
	if record.AttemptNumber != 1 {
		t.Fatalf("attempt = %d, want 1", record.AttemptNumber)
	}
	if record.ErrorType != faultclass.CategoryDelivery.String() {
		t.Fatalf("errorType = %s, want DELIVERY", record.ErrorType)
	}
	if record.Severity != domain.SeverityMedium {
		t.Fatalf("severity = %s, want MEDIUM", record.Severity)
	}
	// Delivery policy: 1 minute base delay for the first retry.
	want := now.Add(time.Minute)
	if record.NextAttemptAt == nil || !record.NextAttemptAt.Equal(want) {
		t.Fatalf("nextAttemptAt = %v, want %v", record.NextAttemptAt, want)
	}
	if len(notifier.alerts) != 0 {
		t.Fatalf("medium-severity fault alerted: %+v", notifier.alerts)
	}
}

func TestScheduleRetryHonorsDelayOverride(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var created *domain.RetryRecord
	retries := &fakeRetryRepo{
		createFunc: func(_ context.Context, r *domain.RetryRecord) error {
			created = r
			return nil
		},
	}
	o := newOrchestrator(t, &fakeTransmissionRepo{}, retries, &fakeAuditRepo{}, &fakePublisher{}, &fakeNotifier{}, now)

	transmission := &domain.Transmission{
		ID:         "t1",
		MaxRetries: 5,
		Metadata:   domain.Metadata{retryDelayMetadataKey: 30},
	}
	if _, err := o.ScheduleRetry(context.Background(), transmission, errors.New("request timeout"), faultclass.Context{}); err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}
	if created.BaseDelaySeconds != 30 {
		t.Fatalf("baseDelaySeconds = %d, want 30", created.BaseDelaySeconds)
	}
}

func TestScheduleRetryPermanentFaultGoesTerminal(t *testing.T) {
	t.Parallel()

	var finalStatus domain.Status
	transmissions := &fakeTransmissionRepo{
		updateStatusFunc: func(_ context.Context, _ string, status domain.Status) error {
			finalStatus = status
			return nil
		},
	}
	recordCreated := false
	retries := &fakeRetryRepo{
		createFunc: func(context.Context, *domain.RetryRecord) error {
			recordCreated = true
			return nil
		},
	}
	audit := &fakeAuditRepo{}
	notifier := &fakeNotifier{}
	o := newOrchestrator(t, transmissions, retries, audit, &fakePublisher{}, notifier, time.Now())

	transmission := &domain.Transmission{ID: "t1", OrganizationID: "org-1", MaxRetries: 3}
	record, err := o.ScheduleRetry(context.Background(), transmission, errors.New("validation failed: missing supplier"), faultclass.Context{})
	if err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}

	if record != nil || recordCreated {
		t.Fatal("permanent fault must not create a retry record")
	}
	if finalStatus != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", finalStatus)
	}
	if len(notifier.alerts) != 1 || !notifier.alerts[0].Permanent {
		t.Fatalf("alerts = %+v, want one permanent alert", notifier.alerts)
	}
	if len(audit.entries) != 1 || audit.entries[0].Event != "permanent_failure" {
		t.Fatalf("audit = %+v, want one permanent_failure entry", audit.entries)
	}
}

func TestScheduleRetryEscalatesOncePerRecord(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	alertMarked := false
	retries := &fakeRetryRepo{
		markAlertSentFunc: func(context.Context, string) (err error) {
			alertMarked = true
			return nil
		},
	}
	o := newOrchestrator(t, &fakeTransmissionRepo{}, retries, &fakeAuditRepo{}, &fakePublisher{}, notifier, time.Now())

	transmission := &domain.Transmission{ID: "t1", MaxRetries: 5}
	record, err := o.ScheduleRetry(context.Background(), transmission, errors.New("authentication rejected by gateway"), faultclass.Context{})
	if err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}
	if record.Severity != domain.SeverityCritical {
		t.Fatalf("severity = %s, want CRITICAL", record.Severity)
	}
	if len(notifier.alerts) != 1 || !alertMarked || !record.AlertSent {
		t.Fatal("critical fault must alert exactly once and set alertSent")
	}

	// The same record already alerted; the next failure must not re-alert.
	retries.getActiveFunc = func(context.Context, string) (*domain.RetryRecord, error) {
		copied := *record
		return &copied, nil
	}
	if _, err := o.ScheduleRetry(context.Background(), transmission, errors.New("authentication rejected by gateway"), faultclass.Context{}); err != nil {
		t.Fatalf("ScheduleRetry() second error = %v", err)
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("alerts = %d, want still 1", len(notifier.alerts))
	}
}

// Three consecutive timeouts against a maxRetries=3 transmission must end in
// MAX_EXCEEDED with exactly one alert.
func TestScheduleRetryExhaustionAfterThreeTimeouts(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var stored *domain.RetryRecord
	retries := &fakeRetryRepo{
		createFunc: func(_ context.Context, r *domain.RetryRecord) error {
			copied := *r
			stored = &copied
			return nil
		},
		getActiveFunc: func(context.Context, string) (*domain.RetryRecord, error) {
			if stored == nil || !stored.Status.IsActive() {
				return nil, domain.ErrNotFound
			}
			copied := *stored
			return &copied, nil
		},
		updateFunc: func(_ context.Context, r *domain.RetryRecord) error {
			copied := *r
			stored = &copied
			return nil
		},
	}
	var statuses []domain.Status
	transmissions := &fakeTransmissionRepo{
		updateStatusFunc: func(_ context.Context, _ string, status domain.Status) error {
			statuses = append(statuses, status)
			return nil
		},
	}
	audit := &fakeAuditRepo{}
	notifier := &fakeNotifier{}
	o := newOrchestrator(t, transmissions, retries, audit, &fakePublisher{}, notifier, now)

	transmission := &domain.Transmission{ID: "t1", OrganizationID: "org-1", MaxRetries: 3}
	timeout := errors.New("connection timeout")

	for i := 0; i < 3; i++ {
		if _, err := o.ScheduleRetry(context.Background(), transmission, timeout, faultclass.Context{}); err != nil {
			t.Fatalf("ScheduleRetry() attempt %d error = %v", i+1, err)
		}
	}

	if stored.Status != domain.RetryMaxExceeded {
		t.Fatalf("record status = %s, want MAX_EXCEEDED", stored.Status)
	}
	if stored.AttemptNumber != 3 {
		t.Fatalf("attempt = %d, want 3", stored.AttemptNumber)
	}
	if len(statuses) != 1 || statuses[0] != domain.StatusFailed {
		t.Fatalf("transmission statuses = %v, want single FAILED", statuses)
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("alerts = %d, want exactly 1", len(notifier.alerts))
	}
	if len(audit.entries) != 1 || audit.entries[0].Event != "retry_exhausted" {
		t.Fatalf("audit = %+v, want one retry_exhausted entry", audit.entries)
	}
}

func TestBackoffGrowsAcrossReschedules(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	active := &domain.RetryRecord{
		ID:               "r1",
		TransmissionID:   "t1",
		AttemptNumber:    1,
		MaxAttempts:      5,
		BaseDelaySeconds: 60,
		Multiplier:       2,
		Status:           domain.RetryInProgress,
	}
	var updated *domain.RetryRecord
	retries := &fakeRetryRepo{
		getActiveFunc: func(context.Context, string) (*domain.RetryRecord, error) {
			copied := *active
			return &copied, nil
		},
		updateFunc: func(_ context.Context, r *domain.RetryRecord) error {
			updated = r
			return nil
		},
	}
	o := newOrchestrator(t, &fakeTransmissionRepo{}, retries, &fakeAuditRepo{}, &fakePublisher{}, &fakeNotifier{}, now)

	transmission := &domain.Transmission{ID: "t1", MaxRetries: 5}
	if _, err := o.ScheduleRetry(context.Background(), transmission, errors.New("request timeout"), faultclass.Context{}); err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}

	// Second failed attempt backs off 60s * 2^(2-1).
	want := now.Add(2 * time.Minute)
	if updated.NextAttemptAt == nil || !updated.NextAttemptAt.Equal(want) {
		t.Fatalf("nextAttemptAt = %v, want %v", updated.NextAttemptAt, want)
	}
	if updated.AttemptNumber != 2 || updated.Status != domain.RetryPending {
		t.Fatalf("record = %+v, want attempt 2 PENDING", updated)
	}
}

func TestProcessDueDispatchesAndClearsTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Now()
	due := now.Add(-time.Second)
	var updated *domain.RetryRecord
	retries := &fakeRetryRepo{
		getDueFunc: func(context.Context, time.Time, int) ([]domain.RetryRecord, error) {
			return []domain.RetryRecord{{
				ID:             "r1",
				TransmissionID: "t1",
				Status:         domain.RetryPending,
				NextAttemptAt:  &due,
			}}, nil
		},
		updateFunc: func(_ context.Context, r *domain.RetryRecord) error {
			updated = r
			return nil
		},
	}
	transmissions := &fakeTransmissionRepo{
		getByIDFunc: func(context.Context, string) (*domain.Transmission, error) {
			return &domain.Transmission{ID: "t1", OrganizationID: "org-1", Status: domain.StatusFailed}, nil
		},
	}
	publisher := &fakePublisher{}
	o := newOrchestrator(t, transmissions, retries, &fakeAuditRepo{}, publisher, &fakeNotifier{}, now)

	dispatched, err := o.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if dispatched != 1 {
		t.Fatalf("dispatched = %d, want 1", dispatched)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("published = %d messages, want 1", len(publisher.published))
	}
	msg := publisher.published[0]
	if msg.RetryID != "r1" || msg.Reason != queue.ReasonRetry {
		t.Fatalf("message = %+v, want retry of r1", msg)
	}
	if updated == nil || updated.NextAttemptAt != nil {
		t.Fatal("due timestamp was not cleared after enqueue")
	}
}

func TestProcessDueDiscardsRetriesForTerminalTransmissions(t *testing.T) {
	t.Parallel()

	due := time.Now().Add(-time.Second)
	var discarded string
	retries := &fakeRetryRepo{
		getDueFunc: func(context.Context, time.Time, int) ([]domain.RetryRecord, error) {
			return []domain.RetryRecord{{
				ID:             "r1",
				TransmissionID: "t1",
				Status:         domain.RetryPending,
				NextAttemptAt:  &due,
			}}, nil
		},
		cancelActiveFunc: func(_ context.Context, transmissionID string) error {
			discarded = transmissionID
			return nil
		},
	}
	transmissions := &fakeTransmissionRepo{
		getByIDFunc: func(context.Context, string) (*domain.Transmission, error) {
			return &domain.Transmission{ID: "t1", Status: domain.StatusCancelled}, nil
		},
	}
	publisher := &fakePublisher{}
	o := newOrchestrator(t, transmissions, retries, &fakeAuditRepo{}, publisher, &fakeNotifier{}, time.Now())

	dispatched, err := o.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	if dispatched != 0 || len(publisher.published) != 0 {
		t.Fatal("terminal transmission's retry must not be dispatched")
	}
	if discarded != "t1" {
		t.Fatalf("discarded = %q, want t1", discarded)
	}
}
