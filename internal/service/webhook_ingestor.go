package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/faultclass"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/observability"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/repository"
	"go.uber.org/zap"
)

// ErrBadSignature rejects webhook callbacks whose HMAC does not verify.
var ErrBadSignature = errors.New("webhook signature verification failed")

// WebhookEvent is the delivery-status callback payload from the authority.
type WebhookEvent struct {
	TransmissionID string         `json:"transmissionId"`
	Status         string         `json:"status"`
	SubmissionID   string         `json:"submissionId,omitempty"`
	Timestamp      string         `json:"timestamp,omitempty"`
	ErrorDetails   map[string]any `json:"errorDetails,omitempty"`
}

// IngestResult reports what a webhook callback changed.
type IngestResult struct {
	TransmissionID string
	PreviousStatus domain.Status
	NewStatus      domain.Status
	Applied        bool
}

// WebhookIngestor verifies, parses, and applies authority status callbacks.
type WebhookIngestor struct {
	transmissions repository.TransmissionRepository
	retries       repository.RetryRepository
	statusLog     repository.StatusLogRepository
	audit         repository.AuditRepository
	orchestrator  retryCoordinator
	secret        []byte
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewWebhookIngestor(
	transmissions repository.TransmissionRepository,
	retries repository.RetryRepository,
	statusLog repository.StatusLogRepository,
	audit repository.AuditRepository,
	orchestrator retryCoordinator,
	secret string,
	logger *zap.Logger,
) (*WebhookIngestor, error) {
	if transmissions == nil {
		return nil, fmt.Errorf("transmission repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var secretBytes []byte
	if s := strings.TrimSpace(secret); s != "" {
		secretBytes = []byte(s)
	}

	return &WebhookIngestor{
		transmissions: transmissions,
		retries:       retries,
		statusLog:     statusLog,
		audit:         audit,
		orchestrator:  orchestrator,
		secret:        secretBytes,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (w *WebhookIngestor) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// VerifySignature checks the HMAC-SHA256 hex signature of the raw payload.
// The comparison is constant-time.
func (w *WebhookIngestor) VerifySignature(payload []byte, signature string) bool {
	if len(w.secret) == 0 {
		return true
	}

	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, w.secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}

// Ingest applies one delivery-status callback. A bad signature or malformed
// payload leaves every transmission untouched and only the audit trail grows.
func (w *WebhookIngestor) Ingest(ctx context.Context, payload []byte, signature string) (*IngestResult, error) {
	start := w.now()

	if len(w.secret) > 0 && !w.VerifySignature(payload, signature) {
		w.recordAudit(ctx, nil, nil, "webhook_signature_rejected", domain.Metadata{
			"payloadBytes": len(payload),
		})
		w.incEvent("signature_rejected")
		return nil, ErrBadSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		w.recordAudit(ctx, nil, nil, "webhook_malformed", domain.Metadata{"error": err.Error()})
		w.incEvent("malformed")
		return nil, fmt.Errorf("%w: malformed webhook payload: %v", domain.ErrValidation, err)
	}

	event.TransmissionID = strings.TrimSpace(event.TransmissionID)
	event.Status = strings.TrimSpace(event.Status)
	if event.TransmissionID == "" || event.Status == "" {
		w.recordAudit(ctx, nil, nil, "webhook_missing_fields", domain.Metadata{
			"transmissionId": event.TransmissionID,
			"status":         event.Status,
		})
		w.incEvent("malformed")
		return nil, fmt.Errorf("%w: webhook requires transmissionId and status", domain.ErrValidation)
	}

	transmission, err := w.transmissions.GetByID(ctx, event.TransmissionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.recordAudit(ctx, &event.TransmissionID, nil, "webhook_unknown_transmission", domain.Metadata{
				"status": event.Status,
			})
			w.incEvent("unknown_transmission")
		}
		return nil, err
	}

	result := &IngestResult{
		TransmissionID: transmission.ID,
		PreviousStatus: transmission.Status,
		NewStatus:      transmission.Status,
	}

	mapped, known := domain.MapExternalStatus(event.Status)
	if !known {
		w.logger.Warn("webhook carried unknown external status, passing through",
			zap.String("transmissionId", transmission.ID),
			zap.String("externalStatus", event.Status),
		)
	}

	// Webhook history grows on every callback, applied or not.
	w.appendWebhookHistory(ctx, transmission, event, known)

	if known && mapped != transmission.Status {
		applied, err := w.transmissions.UpdateStatusIf(ctx, transmission.ID, transmission.Status, mapped)
		if err != nil {
			return nil, fmt.Errorf("failed to apply webhook status: %w", err)
		}
		if applied {
			result.NewStatus = mapped
			result.Applied = true
			w.appendStatusLog(ctx, transmission.ID, transmission.Status, mapped, "webhook", w.now().Sub(start))

			if mapped.IsTerminal() && w.retries != nil {
				if err := w.retries.CancelActiveByTransmission(ctx, transmission.ID); err != nil {
					w.logger.Error("failed to discard retries after terminal webhook",
						zap.String("transmissionId", transmission.ID),
						zap.Error(err),
					)
				}
			}
		} else {
			w.logger.Info("webhook status change lost optimistic race, skipping",
				zap.String("transmissionId", transmission.ID),
				zap.String("expected", transmission.Status.String()),
				zap.String("next", mapped.String()),
			)
			w.incEvent("conflict")
			return result, nil
		}
	}

	// Remote failure reports flow into the same retry state machine as local
	// delivery faults. Rejections are final document verdicts and stay put.
	if result.Applied && result.NewStatus == domain.StatusFailed {
		w.forwardFailure(ctx, transmission, event)
	}
	if result.Applied && result.NewStatus == domain.StatusRejected {
		w.recordAudit(ctx, &transmission.ID, &transmission.OrganizationID, "authority_rejection", domain.Metadata{
			"status":       event.Status,
			"errorDetails": event.ErrorDetails,
		})
	}

	if result.Applied {
		w.incEvent("applied")
	} else {
		w.incEvent("noop")
	}

	return result, nil
}

// forwardFailure hands the webhook's structured error details to the retry
// state machine so remote rejections follow the same classification path as
// local delivery faults.
func (w *WebhookIngestor) forwardFailure(
	ctx context.Context,
	transmission *domain.Transmission,
	event WebhookEvent,
) {
	if w.orchestrator == nil {
		return
	}

	message := fmt.Sprintf("authority reported status %s", event.Status)
	faultType := ""
	if event.ErrorDetails != nil {
		if m, ok := event.ErrorDetails["message"].(string); ok && m != "" {
			message = m
		}
		if t, ok := event.ErrorDetails["type"].(string); ok {
			faultType = t
		}
	}

	fctx := faultclass.Context{
		RoleHint:     faultclass.RoleDelivery,
		FaultType:    faultType,
		AttemptCount: transmission.RetryCount,
	}
	if _, err := w.orchestrator.ScheduleRetry(ctx, transmission, errors.New(message), fctx); err != nil {
		w.logger.Error("failed to schedule retry from webhook failure",
			zap.String("transmissionId", transmission.ID),
			zap.Error(err),
		)
	}
}

func (w *WebhookIngestor) appendWebhookHistory(
	ctx context.Context,
	transmission *domain.Transmission,
	event WebhookEvent,
	known bool,
) {
	entry := map[string]any{
		"status":     event.Status,
		"known":      known,
		"receivedAt": w.now().UTC().Format(time.RFC3339),
	}
	if event.SubmissionID != "" {
		entry["submissionId"] = event.SubmissionID
	}
	if event.ErrorDetails != nil {
		entry["errorDetails"] = event.ErrorDetails
	}

	history := webhookHistoryOf(transmission.Metadata)
	history = append(history, entry)

	patch := domain.Metadata{"webhookHistory": history}
	if err := w.transmissions.MergeMetadata(ctx, transmission.ID, patch); err != nil {
		w.logger.Error("failed to append webhook history",
			zap.String("transmissionId", transmission.ID),
			zap.Error(err),
		)
	}
}

func webhookHistoryOf(metadata domain.Metadata) []any {
	if metadata == nil {
		return nil
	}
	if history, ok := metadata["webhookHistory"].([]any); ok {
		return history
	}
	return nil
}

func (w *WebhookIngestor) appendStatusLog(
	ctx context.Context,
	transmissionID string,
	previous, next domain.Status,
	reason string,
	processingTime time.Duration,
) {
	if w.statusLog == nil {
		return
	}

	entry := &domain.StatusLogEntry{
		ID:               uuid.NewString(),
		TransmissionID:   transmissionID,
		PreviousStatus:   previous,
		NewStatus:        next,
		Reason:           reason,
		ProcessingTimeMs: processingTime.Milliseconds(),
		CreatedAt:        w.now().UTC(),
	}
	if err := w.statusLog.Append(ctx, entry); err != nil {
		w.logger.Error("failed to append status log entry",
			zap.String("transmissionId", transmissionID),
			zap.Error(err),
		)
	}
}

func (w *WebhookIngestor) recordAudit(
	ctx context.Context,
	transmissionID, organizationID *string,
	event string,
	detail domain.Metadata,
) {
	if w.audit == nil {
		return
	}

	entry := &domain.AuditEntry{
		ID:             uuid.NewString(),
		TransmissionID: transmissionID,
		OrganizationID: organizationID,
		Event:          event,
		Detail:         detail,
		CreatedAt:      w.now().UTC(),
	}
	if err := w.audit.Record(ctx, entry); err != nil {
		w.logger.Error("failed to record webhook audit entry",
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func (w *WebhookIngestor) incEvent(result string) {
	if w.metrics == nil {
		return
	}
	w.metrics.IncWebhookEvent(result)
}
