package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"gorm.io/gorm"
)

type RetryRepository interface {
	Create(ctx context.Context, r *domain.RetryRecord) error
	GetByID(ctx context.Context, id string) (*domain.RetryRecord, error)
	GetActiveByTransmission(ctx context.Context, transmissionID string) (*domain.RetryRecord, error)
	Update(ctx context.Context, r *domain.RetryRecord) error
	GetDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryRecord, error)
	MarkInProgressIfPending(ctx context.Context, id string) (bool, error)
	CancelActiveByTransmission(ctx context.Context, transmissionID string) error
	MarkAlertSent(ctx context.Context, id string) error
	CountEscalations(ctx context.Context, organizationID string, from, to *time.Time) (int64, error)
	ListByTransmission(ctx context.Context, transmissionID string) ([]domain.RetryRecord, error)
}

type GormRetryRepo struct {
	db *gorm.DB
}

func NewGormRetryRepo(db *gorm.DB) *GormRetryRepo {
	return &GormRetryRepo{db: db}
}

func (r *GormRetryRepo) Create(ctx context.Context, record *domain.RetryRecord) error {
	model := retryModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if record != nil {
		*record = *retryModelToDomain(model)
	}
	return nil
}

func (r *GormRetryRepo) GetByID(ctx context.Context, id string) (*domain.RetryRecord, error) {
	var model RetryRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return retryModelToDomain(&model), nil
}

// GetActiveByTransmission returns the single pending or in-progress record
// for a transmission, or ErrNotFound.
func (r *GormRetryRepo) GetActiveByTransmission(ctx context.Context, transmissionID string) (*domain.RetryRecord, error) {
	var model RetryRecordModel
	err := r.db.WithContext(ctx).
		Where("transmission_id = ? AND status IN ?", transmissionID,
			[]domain.RetryStatus{domain.RetryPending, domain.RetryInProgress}).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return retryModelToDomain(&model), nil
}

func (r *GormRetryRepo) Update(ctx context.Context, record *domain.RetryRecord) error {
	model := retryModelFromDomain(record)
	result := r.db.WithContext(ctx).
		Model(&RetryRecordModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"attempt_number":     model.AttemptNumber,
			"max_attempts":       model.MaxAttempts,
			"base_delay_seconds": model.BaseDelaySeconds,
			"multiplier":         model.Multiplier,
			"next_attempt_at":    model.NextAttemptAt,
			"status":             model.Status,
			"error_type":         model.ErrorType,
			"error_message":      model.ErrorMessage,
			"error_details":      model.ErrorDetails,
			"severity":           model.Severity,
			"alert_sent":         model.AlertSent,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRetryRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryRecord, error) {
	var models []RetryRecordModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", domain.RetryPending, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.RetryRecord, 0, len(models))
	for i := range models {
		records = append(records, *retryModelToDomain(&models[i]))
	}
	return records, nil
}

// MarkInProgressIfPending transitions PENDING to IN_PROGRESS. The false
// return makes re-runs of a completed attempt a no-op, which is what keeps
// retry execution idempotent per attempt.
func (r *GormRetryRepo) MarkInProgressIfPending(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&RetryRecordModel{}).
		Where("id = ? AND status = ?", id, domain.RetryPending).
		Update("status", domain.RetryInProgress)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRetryRepo) CancelActiveByTransmission(ctx context.Context, transmissionID string) error {
	return r.db.WithContext(ctx).
		Model(&RetryRecordModel{}).
		Where("transmission_id = ? AND status IN ?", transmissionID,
			[]domain.RetryStatus{domain.RetryPending, domain.RetryInProgress}).
		Update("status", domain.RetryCancelled).Error
}

func (r *GormRetryRepo) MarkAlertSent(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&RetryRecordModel{}).
		Where("id = ?", id).
		Update("alert_sent", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRetryRepo) CountEscalations(ctx context.Context, organizationID string, from, to *time.Time) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&RetryRecordModel{}).
		Joins("JOIN transmissions ON transmissions.id = retry_records.transmission_id").
		Where("transmissions.organization_id = ? AND retry_records.alert_sent = ?", organizationID, true)
	if from != nil {
		query = query.Where("retry_records.created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("retry_records.created_at <= ?", *to)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormRetryRepo) ListByTransmission(ctx context.Context, transmissionID string) ([]domain.RetryRecord, error) {
	var models []RetryRecordModel
	err := r.db.WithContext(ctx).
		Where("transmission_id = ?", transmissionID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.RetryRecord, 0, len(models))
	for i := range models {
		records = append(records, *retryModelToDomain(&models[i]))
	}
	return records, nil
}
