package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/repository"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type TransmissionService interface {
	Create(ctx context.Context, params service.CreateParams) (*domain.Transmission, error)
	GetByID(ctx context.Context, id string) (*domain.Transmission, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Transmission, int64, error)
	History(ctx context.Context, id string) (*service.TransmissionHistory, error)
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, params service.RetryParams) (*service.RetryReceipt, error)
	Refresh(ctx context.Context, id string) (*domain.Transmission, error)
	Statistics(ctx context.Context, organizationID string, from, to *time.Time) (*service.Statistics, error)
}

type TransmissionHandler struct {
	service TransmissionService
}

func NewTransmissionHandler(service TransmissionService) (*TransmissionHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("transmission service is required")
	}
	return &TransmissionHandler{service: service}, nil
}

func RegisterTransmissionRoutes(router fiber.Router, service TransmissionService) error {
	h, err := NewTransmissionHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/transmissions", h.CreateTransmission)
	v1.Get("/transmissions", h.ListTransmissions)
	v1.Get("/transmissions/:id", h.GetTransmission)
	v1.Get("/transmissions/:id/history", h.GetTransmissionHistory)
	v1.Post("/transmissions/:id/retry", h.RetryTransmission)
	v1.Post("/transmissions/:id/refresh", h.RefreshTransmission)
	v1.Post("/transmissions/:id/cancel", h.CancelTransmission)
	v1.Get("/statistics", h.GetStatistics)

	return nil
}

type createTransmissionRequest struct {
	OrganizationID    string          `json:"organizationId"`
	DocumentRef       string          `json:"documentRef"`
	Document          json.RawMessage `json:"document"`
	CertificateRef    *string         `json:"certificateRef,omitempty"`
	MaxRetries        *int            `json:"maxRetries,omitempty"`
	RetryDelaySeconds *int            `json:"retryDelaySeconds,omitempty"`
	Metadata          domain.Metadata `json:"metadata,omitempty"`
}

type retryTransmissionRequest struct {
	MaxRetries        *int `json:"maxRetries,omitempty"`
	RetryDelaySeconds *int `json:"retryDelaySeconds,omitempty"`
	Force             bool `json:"force"`
}

type retryReceiptResponse struct {
	TransmissionID string  `json:"transmissionId"`
	AttemptNumber  int     `json:"attemptNumber"`
	DelaySeconds   float64 `json:"delaySeconds"`
}

// transmissionResponse deliberately omits the encrypted payload and raw
// signature bytes; the API surface only exposes envelope metadata.
type transmissionResponse struct {
	ID               string          `json:"id"`
	OrganizationID   string          `json:"organizationId"`
	DocumentRef      string          `json:"documentRef"`
	CertificateRef   *string         `json:"certificateRef,omitempty"`
	Status           string          `json:"status"`
	PayloadHash      string          `json:"payloadHash,omitempty"`
	EncryptionKeyRef string          `json:"encryptionKeyRef,omitempty"`
	Signed           bool            `json:"signed"`
	SignatureInfo    *string         `json:"signatureInfo,omitempty"`
	RetryCount       int             `json:"retryCount"`
	MaxRetries       int             `json:"maxRetries"`
	LastRetryAt      *time.Time      `json:"lastRetryAt,omitempty"`
	Metadata         domain.Metadata `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"createdAt,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt,omitempty"`
}

type listTransmissionsResponse struct {
	Data []transmissionResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type statusLogEntryResponse struct {
	PreviousStatus   string    `json:"previousStatus,omitempty"`
	NewStatus        string    `json:"newStatus"`
	Reason           string    `json:"reason,omitempty"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	CreatedAt        time.Time `json:"createdAt"`
}

type retryRecordResponse struct {
	ID            string     `json:"id"`
	AttemptNumber int        `json:"attemptNumber"`
	MaxAttempts   int        `json:"maxAttempts"`
	Status        string     `json:"status"`
	ErrorType     string     `json:"errorType,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	Severity      string     `json:"severity,omitempty"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type auditEntryResponse struct {
	Event     string          `json:"event"`
	Detail    domain.Metadata `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type statisticsResponse struct {
	OrganizationID  string           `json:"organizationId"`
	Total           int64            `json:"total"`
	ByStatus        map[string]int64 `json:"byStatus"`
	SuccessRate     float64          `json:"successRate"`
	AverageRetries  float64          `json:"averageRetries"`
	EscalationCount int64            `json:"escalationCount"`
}

func (h *TransmissionHandler) CreateTransmission(c *fiber.Ctx) error {
	var req createTransmissionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	params := service.CreateParams{
		OrganizationID: strings.TrimSpace(req.OrganizationID),
		DocumentRef:    strings.TrimSpace(req.DocumentRef),
		Document:       []byte(req.Document),
		CertificateRef: req.CertificateRef,
		Metadata:       req.Metadata,
	}
	if req.MaxRetries != nil {
		params.MaxRetries = *req.MaxRetries
	}
	if req.RetryDelaySeconds != nil {
		params.RetryDelaySeconds = *req.RetryDelaySeconds
	}

	created, err := h.service.Create(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toTransmissionResponse(created))
}

func (h *TransmissionHandler) GetTransmission(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	transmission, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toTransmissionResponse(transmission))
}

func (h *TransmissionHandler) GetTransmissionHistory(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	history, err := h.service.History(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]statusLogEntryResponse, 0, len(history.StatusLog))
	for _, entry := range history.StatusLog {
		items = append(items, statusLogEntryResponse{
			PreviousStatus:   entry.PreviousStatus.String(),
			NewStatus:        entry.NewStatus.String(),
			Reason:           entry.Reason,
			ProcessingTimeMs: entry.ProcessingTimeMs,
			CreatedAt:        entry.CreatedAt,
		})
	}
	retries := make([]retryRecordResponse, 0, len(history.Retries))
	for _, record := range history.Retries {
		retries = append(retries, retryRecordResponse{
			ID:            record.ID,
			AttemptNumber: record.AttemptNumber,
			MaxAttempts:   record.MaxAttempts,
			Status:        record.Status.String(),
			ErrorType:     record.ErrorType,
			ErrorMessage:  record.ErrorMessage,
			Severity:      record.Severity.String(),
			NextAttemptAt: record.NextAttemptAt,
			CreatedAt:     record.CreatedAt,
		})
	}
	audit := make([]auditEntryResponse, 0, len(history.Audit))
	for _, event := range history.Audit {
		audit = append(audit, auditEntryResponse{
			Event:     event.Event,
			Detail:    event.Detail,
			CreatedAt: event.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"transmissionId": history.TransmissionID,
		"history":        items,
		"retries":        retries,
		"audit":          audit,
	})
}

// RefreshTransmission polls the authority for the current status instead of
// waiting for a webhook callback.
func (h *TransmissionHandler) RefreshTransmission(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	transmission, err := h.service.Refresh(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toTransmissionResponse(transmission))
}

func (h *TransmissionHandler) RetryTransmission(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req retryTransmissionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	receipt, err := h.service.Retry(c.Context(), id, service.RetryParams{
		MaxRetries:        req.MaxRetries,
		RetryDelaySeconds: req.RetryDelaySeconds,
		Force:             req.Force,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(retryReceiptResponse{
		TransmissionID: receipt.TransmissionID,
		AttemptNumber:  receipt.AttemptNumber,
		DelaySeconds:   receipt.Delay.Seconds(),
	})
}

func (h *TransmissionHandler) CancelTransmission(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"transmissionId": id,
		"status":         domain.StatusCancelled.String(),
	})
}

func (h *TransmissionHandler) ListTransmissions(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	transmissions, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]transmissionResponse, 0, len(transmissions))
	for i := range transmissions {
		data = append(data, toTransmissionResponse(&transmissions[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listTransmissionsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *TransmissionHandler) GetStatistics(c *fiber.Ctx) error {
	organizationID := strings.TrimSpace(c.Query("organizationId"))

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return toHTTPError(err)
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return toHTTPError(err)
	}
	if from != nil && to != nil && from.After(*to) {
		return toHTTPError(fmt.Errorf("%w: from must not be after to", domain.ErrValidation))
	}

	stats, err := h.service.Statistics(c.Context(), organizationID, from, to)
	if err != nil {
		return toHTTPError(err)
	}

	byStatus := make(map[string]int64, len(stats.ByStatus))
	for status, count := range stats.ByStatus {
		byStatus[status.String()] = count
	}

	return c.Status(fiber.StatusOK).JSON(statisticsResponse{
		OrganizationID:  stats.OrganizationID,
		Total:           stats.Total,
		ByStatus:        byStatus,
		SuccessRate:     stats.SuccessRate,
		AverageRetries:  stats.AverageRetries,
		EscalationCount: stats.EscalationCount,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		OrganizationID: strings.TrimSpace(c.Query("organizationId")),
		Page:           c.QueryInt("page", defaultPage),
		PageSize:       c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	if from != nil && to != nil && from.After(*to) {
		return repository.ListParams{}, fmt.Errorf("%w: from must not be after to", domain.ErrValidation)
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toTransmissionResponse(t *domain.Transmission) transmissionResponse {
	if t == nil {
		return transmissionResponse{}
	}

	return transmissionResponse{
		ID:               t.ID,
		OrganizationID:   t.OrganizationID,
		DocumentRef:      t.DocumentRef,
		CertificateRef:   t.CertificateRef,
		Status:           t.Status.String(),
		PayloadHash:      t.PayloadHash,
		EncryptionKeyRef: t.EncryptionKeyRef,
		Signed:           t.Signed,
		SignatureInfo:    t.SignatureInfo,
		RetryCount:       t.RetryCount,
		MaxRetries:       t.MaxRetries,
		LastRetryAt:      t.LastRetryAt,
		Metadata:         t.Metadata,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrBadSignature):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	default:
		return err
	}
}
