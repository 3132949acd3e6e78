package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	OrganizationID string
	Status         *domain.Status
	From           *time.Time
	To             *time.Time
	Page           int
	PageSize       int
}

type StatusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int64         `gorm:"column:count"`
}

type TransmissionRepository interface {
	Create(ctx context.Context, t *domain.Transmission) error
	GetByID(ctx context.Context, id string) (*domain.Transmission, error)
	List(ctx context.Context, params ListParams) ([]domain.Transmission, int64, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	UpdateStatusIf(ctx context.Context, id string, expected, next domain.Status) (bool, error)
	Cancel(ctx context.Context, id string) error
	LockForSubmitting(ctx context.Context, id string) (*domain.Transmission, error)
	RecordRetryAttempt(ctx context.Context, id string, at time.Time) error
	SetRetryLimits(ctx context.Context, id string, maxRetries int) error
	MergeMetadata(ctx context.Context, id string, patch domain.Metadata) error
	SetEnvelope(ctx context.Context, id string, envelope *domain.Envelope) error
	StatusCounts(ctx context.Context, organizationID string, from, to *time.Time) ([]StatusCount, error)
	AverageRetryCount(ctx context.Context, organizationID string, from, to *time.Time) (float64, error)
}

type GormTransmissionRepo struct {
	db *gorm.DB
}

func NewGormTransmissionRepo(db *gorm.DB) *GormTransmissionRepo {
	return &GormTransmissionRepo{db: db}
}

func (r *GormTransmissionRepo) Create(ctx context.Context, t *domain.Transmission) error {
	model := transmissionModelFromDomain(t)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if t != nil {
		*t = *transmissionModelToDomain(model)
	}
	return nil
}

func (r *GormTransmissionRepo) GetByID(ctx context.Context, id string) (*domain.Transmission, error) {
	var model TransmissionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return transmissionModelToDomain(&model), nil
}

func (r *GormTransmissionRepo) List(ctx context.Context, params ListParams) ([]domain.Transmission, int64, error) {
	query := r.db.WithContext(ctx).Model(&TransmissionModel{})

	if params.OrganizationID != "" {
		query = query.Where("organization_id = ?", params.OrganizationID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []TransmissionModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	transmissions := make([]domain.Transmission, 0, len(models))
	for i := range models {
		transmissions = append(transmissions, *transmissionModelToDomain(&models[i]))
	}

	return transmissions, total, nil
}

func (r *GormTransmissionRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	result := r.db.WithContext(ctx).
		Model(&TransmissionModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatusIf applies a status change only when the current status still
// matches the expected one. Webhook ingestion uses this check-and-set so it
// cannot clobber a concurrently-completing retry's result.
func (r *GormTransmissionRepo) UpdateStatusIf(ctx context.Context, id string, expected, next domain.Status) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&TransmissionModel{}).
		Where("id = ? AND status = ?", id, expected).
		Update("status", next)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormTransmissionRepo) Cancel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&TransmissionModel{}).
		Where("id = ? AND status NOT IN ?", id, []domain.Status{domain.StatusAccepted, domain.StatusCancelled}).
		Update("status", domain.StatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// LockForSubmitting claims the per-transmission delivery slot with a single
// conditional update so the check and the transition cannot interleave with
// another worker. It returns nil without error when the transmission is
// terminal, cancelled, or already in flight.
func (r *GormTransmissionRepo) LockForSubmitting(ctx context.Context, id string) (*domain.Transmission, error) {
	result := r.db.WithContext(ctx).
		Model(&TransmissionModel{}).
		Where("id = ? AND status IN ?", id, domain.DeliverableStatuses).
		Update("status", domain.StatusProcessing)
	if result.Error != nil {
		return nil, result.Error
	}

	var model TransmissionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// Zero rows means another worker already owns it or the row is settled.
	if result.RowsAffected == 0 {
		return nil, nil
	}

	return transmissionModelToDomain(&model), nil
}

func (r *GormTransmissionRepo) RecordRetryAttempt(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&TransmissionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_retry_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormTransmissionRepo) SetRetryLimits(ctx context.Context, id string, maxRetries int) error {
	result := r.db.WithContext(ctx).
		Model(&TransmissionModel{}).
		Where("id = ?", id).
		Update("max_retries", maxRetries)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MergeMetadata merges the patch into the metadata column atomically using a
// jsonb concatenation so concurrent writers cannot lose each other's keys.
func (r *GormTransmissionRepo) MergeMetadata(ctx context.Context, id string, patch domain.Metadata) error {
	if len(patch) == 0 {
		return nil
	}

	encoded, err := json.Marshal(patch)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&TransmissionModel{}).
		Where("id = ?", id).
		Update("metadata", gorm.Expr("COALESCE(metadata, '{}'::jsonb) || ?::jsonb", string(encoded)))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormTransmissionRepo) SetEnvelope(ctx context.Context, id string, envelope *domain.Envelope) error {
	if envelope == nil {
		return domain.ErrValidation
	}

	updates := map[string]any{
		"encrypted_payload":  envelope.Ciphertext,
		"payload_hash":       envelope.ContentHash,
		"encryption_key_ref": envelope.KeyRef,
		"signed":             envelope.Signed,
		"signature":          envelope.Signature,
	}
	if envelope.Signed {
		updates["signature_info"] = envelope.SignatureAlgorithm
	} else if envelope.SignFailureReason != "" {
		updates["signature_info"] = "unsigned: " + envelope.SignFailureReason
	}

	result := r.db.WithContext(ctx).
		Model(&TransmissionModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormTransmissionRepo) StatusCounts(ctx context.Context, organizationID string, from, to *time.Time) ([]StatusCount, error) {
	query := r.db.WithContext(ctx).
		Model(&TransmissionModel{}).
		Select("status, COUNT(*) as count").
		Where("organization_id = ?", organizationID)
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at <= ?", *to)
	}

	var counts []StatusCount
	if err := query.Group("status").Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *GormTransmissionRepo) AverageRetryCount(ctx context.Context, organizationID string, from, to *time.Time) (float64, error) {
	query := r.db.WithContext(ctx).
		Model(&TransmissionModel{}).
		Select("COALESCE(AVG(retry_count), 0)").
		Where("organization_id = ?", organizationID)
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at <= ?", *to)
	}

	var avg float64
	if err := query.Scan(&avg).Error; err != nil {
		return 0, err
	}
	return avg, nil
}
