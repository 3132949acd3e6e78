package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/authority"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/protect"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/queue"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/repository"
	"go.uber.org/zap"
)

// payloadProtector is the slice of protect.Protector the manager depends on.
type payloadProtector interface {
	Protect(ctx context.Context, document []byte, certificateRef *string) (*domain.Envelope, error)
}

var _ payloadProtector = (*protect.Protector)(nil)

// TransmissionService is the manager facade: it owns transmission creation,
// lookup, cancellation, manual retry admission, and statistics.
type TransmissionService struct {
	transmissions repository.TransmissionRepository
	retries       repository.RetryRepository
	statusLog     repository.StatusLogRepository
	audit         repository.AuditRepository
	protector     payloadProtector
	publisher     queue.Publisher
	client        authority.Client
	logger        *zap.Logger
	now           func() time.Time
}

type CreateParams struct {
	OrganizationID    string
	DocumentRef       string
	Document          []byte
	CertificateRef    *string
	MaxRetries        int
	RetryDelaySeconds int
	Metadata          domain.Metadata
}

// retryDelayMetadataKey carries the caller-chosen base retry delay on the
// transmission metadata so the orchestrator can honor it over policy defaults.
const retryDelayMetadataKey = "retryDelaySeconds"

// submissionIDMetadataKey stores the authority's submission id from the
// submit receipt; status polling keys off it.
const submissionIDMetadataKey = "authoritySubmissionId"

type RetryParams struct {
	MaxRetries        *int
	RetryDelaySeconds *int
	Force             bool
}

// RetryReceipt reports the admission decision of a manual retry, including
// the backoff delay the next attempt would observe.
type RetryReceipt struct {
	TransmissionID string
	AttemptNumber  int
	Delay          time.Duration
}

type Statistics struct {
	OrganizationID  string
	Total           int64
	ByStatus        map[domain.Status]int64
	SuccessRate     float64
	AverageRetries  float64
	EscalationCount int64
}

func NewTransmissionService(
	transmissions repository.TransmissionRepository,
	retries repository.RetryRepository,
	statusLog repository.StatusLogRepository,
	audit repository.AuditRepository,
	protector payloadProtector,
	publisher queue.Publisher,
	client authority.Client,
	logger *zap.Logger,
) (*TransmissionService, error) {
	if transmissions == nil {
		return nil, fmt.Errorf("transmission repository is required")
	}
	if protector == nil {
		return nil, fmt.Errorf("payload protector is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TransmissionService{
		transmissions: transmissions,
		retries:       retries,
		statusLog:     statusLog,
		audit:         audit,
		protector:     protector,
		publisher:     publisher,
		client:        client,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Create protects the document, persists the transmission as PENDING, and
// enqueues it for delivery. The envelope is sealed before the row exists so a
// failed insert never leaves plaintext anywhere.
func (s *TransmissionService) Create(ctx context.Context, params CreateParams) (*domain.Transmission, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(params.Document) == 0 {
		return nil, fmt.Errorf("%w: document is required", domain.ErrValidation)
	}
	if len(params.Document) > domain.MaxDocumentBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", domain.ErrValidation, domain.MaxDocumentBytes)
	}

	transmission := &domain.Transmission{
		ID:             uuid.NewString(),
		OrganizationID: strings.TrimSpace(params.OrganizationID),
		DocumentRef:    strings.TrimSpace(params.DocumentRef),
		CertificateRef: normalizeOptionalString(params.CertificateRef),
		Status:         domain.StatusPending,
		MaxRetries:     params.MaxRetries,
		Metadata:       params.Metadata,
	}
	if transmission.MaxRetries <= 0 {
		transmission.MaxRetries = domain.DefaultMaxRetries
	}
	if params.RetryDelaySeconds > 0 {
		if transmission.Metadata == nil {
			transmission.Metadata = domain.Metadata{}
		}
		transmission.Metadata[retryDelayMetadataKey] = params.RetryDelaySeconds
	}
	if err := transmission.Validate(); err != nil {
		return nil, err
	}

	envelope, err := s.protector.Protect(ctx, params.Document, transmission.CertificateRef)
	if err != nil {
		return nil, fmt.Errorf("failed to protect document: %w", err)
	}

	transmission.EncryptedPayload = envelope.Ciphertext
	transmission.PayloadHash = envelope.ContentHash
	transmission.EncryptionKeyRef = envelope.KeyRef
	transmission.Signed = envelope.Signed
	transmission.Signature = envelope.Signature
	if envelope.Signed {
		alg := envelope.SignatureAlgorithm
		transmission.SignatureInfo = &alg
	} else if envelope.SignFailureReason != "" {
		info := "unsigned: " + envelope.SignFailureReason
		transmission.SignatureInfo = &info
	}

	if err := s.transmissions.Create(ctx, transmission); err != nil {
		return nil, fmt.Errorf("failed to persist transmission: %w", err)
	}
	s.appendStatusLog(ctx, transmission.ID, "", domain.StatusPending, "created", 0)

	msg := queue.TransmissionMessage{
		TransmissionID: transmission.ID,
		OrganizationID: transmission.OrganizationID,
		Reason:         queue.ReasonSubmit,
	}
	if err := s.publisher.Publish(ctx, queue.TransmissionQueue, msg); err != nil {
		s.logger.Error("failed to enqueue transmission",
			zap.String("transmissionId", transmission.ID),
			zap.Error(err),
		)
		if updateErr := s.transmissions.UpdateStatus(ctx, transmission.ID, domain.StatusFailed); updateErr != nil {
			return nil, fmt.Errorf("failed to enqueue transmission: %w (failed to mark as failed: %v)", err, updateErr)
		}
		transmission.Status = domain.StatusFailed
		return nil, fmt.Errorf("failed to enqueue transmission: %w", err)
	}

	return transmission, nil
}

func (s *TransmissionService) GetByID(ctx context.Context, id string) (*domain.Transmission, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: transmission id is required", domain.ErrValidation)
	}
	return s.transmissions.GetByID(ctx, strings.TrimSpace(id))
}

func (s *TransmissionService) List(ctx context.Context, params repository.ListParams) ([]domain.Transmission, int64, error) {
	return s.transmissions.List(ctx, params)
}

// TransmissionHistory is the full trail of one transmission: status
// transitions, retry attempts, and audit events.
type TransmissionHistory struct {
	TransmissionID string
	StatusLog      []domain.StatusLogEntry
	Retries        []domain.RetryRecord
	Audit          []domain.AuditEntry
}

func (s *TransmissionService) History(ctx context.Context, id string) (*TransmissionHistory, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: transmission id is required", domain.ErrValidation)
	}

	history := &TransmissionHistory{TransmissionID: id}

	entries, err := s.statusLog.ListByTransmission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load status log: %w", err)
	}
	history.StatusLog = entries

	if s.retries != nil {
		records, err := s.retries.ListByTransmission(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load retry records: %w", err)
		}
		history.Retries = records
	}
	if s.audit != nil {
		events, err := s.audit.ListByTransmission(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load audit trail: %w", err)
		}
		history.Audit = events
	}

	return history, nil
}

// Refresh polls the authority for the transmission's current status and
// applies it the same way a webhook callback would. Terminal transmissions
// are returned untouched.
func (s *TransmissionService) Refresh(ctx context.Context, id string) (*domain.Transmission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: transmission id is required", domain.ErrValidation)
	}
	if s.client == nil {
		return nil, fmt.Errorf("%w: status polling is not configured", domain.ErrConflict)
	}

	transmission, err := s.transmissions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if transmission.Status.IsTerminal() {
		return transmission, nil
	}
	submissionID, _ := transmission.Metadata[submissionIDMetadataKey].(string)
	if submissionID == "" {
		return nil, fmt.Errorf("%w: transmission has not been submitted to the authority", domain.ErrConflict)
	}

	receipt, err := s.client.Status(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to poll authority status: %w", err)
	}

	mapped, known := domain.MapExternalStatus(receipt.Status)
	if !known || mapped == transmission.Status {
		return transmission, nil
	}

	applied, err := s.transmissions.UpdateStatusIf(ctx, id, transmission.Status, mapped)
	if err != nil {
		return nil, fmt.Errorf("failed to apply polled status: %w", err)
	}
	if !applied {
		// Lost the race against a webhook or worker; report what we saw.
		return s.transmissions.GetByID(ctx, id)
	}

	s.appendStatusLog(ctx, id, transmission.Status, mapped, "status_poll", 0)
	if mapped.IsTerminal() && s.retries != nil {
		if err := s.retries.CancelActiveByTransmission(ctx, id); err != nil {
			s.logger.Error("failed to discard retry after polled terminal status",
				zap.String("transmissionId", id),
				zap.Error(err),
			)
		}
	}
	transmission.Status = mapped
	return transmission, nil
}

// Cancel marks the transmission CANCELLED and discards its active retry
// record so the scanner never re-enqueues it. Rows are never deleted.
func (s *TransmissionService) Cancel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: transmission id is required", domain.ErrValidation)
	}

	if err := s.transmissions.Cancel(ctx, id); err != nil {
		return err
	}
	if s.retries != nil {
		if err := s.retries.CancelActiveByTransmission(ctx, id); err != nil {
			s.logger.Error("failed to cancel active retry record",
				zap.String("transmissionId", id),
				zap.Error(err),
			)
		}
	}
	s.appendStatusLog(ctx, id, "", domain.StatusCancelled, "cancelled", 0)
	return nil
}

// Retry admits an operator-initiated retry. Forced retries bypass the retry
// ceiling but never resurrect cancelled or accepted transmissions.
func (s *TransmissionService) Retry(ctx context.Context, id string, params RetryParams) (*RetryReceipt, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: transmission id is required", domain.ErrValidation)
	}

	transmission, err := s.transmissions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.MaxRetries != nil {
		if *params.MaxRetries < 1 {
			return nil, fmt.Errorf("%w: max retries must be positive", domain.ErrValidation)
		}
		transmission.MaxRetries = *params.MaxRetries
		if err := s.transmissions.SetRetryLimits(ctx, id, *params.MaxRetries); err != nil {
			return nil, fmt.Errorf("failed to update retry limits: %w", err)
		}
	}

	if params.RetryDelaySeconds != nil {
		if *params.RetryDelaySeconds < 1 {
			return nil, fmt.Errorf("%w: retry delay must be positive", domain.ErrValidation)
		}
		patch := domain.Metadata{retryDelayMetadataKey: *params.RetryDelaySeconds}
		if err := s.transmissions.MergeMetadata(ctx, id, patch); err != nil {
			return nil, fmt.Errorf("failed to update retry delay: %w", err)
		}
		if transmission.Metadata == nil {
			transmission.Metadata = domain.Metadata{}
		}
		transmission.Metadata[retryDelayMetadataKey] = *params.RetryDelaySeconds
	}

	if err := transmission.CanRetry(params.Force); err != nil {
		return nil, err
	}

	msg := queue.TransmissionMessage{
		TransmissionID: transmission.ID,
		OrganizationID: transmission.OrganizationID,
		Reason:         queue.ReasonManualRetry,
	}
	if err := s.publisher.Publish(ctx, queue.TransmissionQueue, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue manual retry: %w", err)
	}

	s.appendStatusLog(ctx, id, transmission.Status, domain.StatusPending, "manual_retry", 0)
	if err := s.transmissions.UpdateStatus(ctx, id, domain.StatusPending); err != nil {
		return nil, fmt.Errorf("failed to reset transmission for retry: %w", err)
	}

	attempt := transmission.RetryCount + 1
	reference := domain.RetryRecord{
		BaseDelaySeconds: domain.DefaultRetryDelaySeconds,
		Multiplier:       2,
	}
	if delay := retryDelayOverride(transmission.Metadata); delay > 0 {
		reference.BaseDelaySeconds = delay
	}

	return &RetryReceipt{
		TransmissionID: transmission.ID,
		AttemptNumber:  attempt,
		Delay:          reference.BackoffDelay(attempt),
	}, nil
}

func (s *TransmissionService) Statistics(ctx context.Context, organizationID string, from, to *time.Time) (*Statistics, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization id is required", domain.ErrValidation)
	}

	counts, err := s.transmissions.StatusCounts(ctx, organizationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load status counts: %w", err)
	}

	stats := &Statistics{
		OrganizationID: organizationID,
		ByStatus:       make(map[domain.Status]int64, len(counts)),
	}
	var succeeded int64
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.Count
		stats.Total += c.Count
		if c.Status == domain.StatusSubmitted || c.Status == domain.StatusAccepted {
			succeeded += c.Count
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(succeeded) / float64(stats.Total)
	}

	avg, err := s.transmissions.AverageRetryCount(ctx, organizationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load average retry count: %w", err)
	}
	stats.AverageRetries = avg

	if s.retries != nil {
		escalations, err := s.retries.CountEscalations(ctx, organizationID, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to count escalations: %w", err)
		}
		stats.EscalationCount = escalations
	}

	return stats, nil
}

func (s *TransmissionService) appendStatusLog(
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
			zap.String("newStatus", next.String()),
			zap.Error(err),
		)
	}
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
