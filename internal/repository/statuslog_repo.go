package repository

import (
	"context"

	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"gorm.io/gorm"
)

type StatusLogRepository interface {
	Append(ctx context.Context, entry *domain.StatusLogEntry) error
	ListByTransmission(ctx context.Context, transmissionID string) ([]domain.StatusLogEntry, error)
}

type GormStatusLogRepo struct {
	db *gorm.DB
}

func NewGormStatusLogRepo(db *gorm.DB) *GormStatusLogRepo {
	return &GormStatusLogRepo{db: db}
}

func (r *GormStatusLogRepo) Append(ctx context.Context, entry *domain.StatusLogEntry) error {
	model := statusLogModelFromDomain(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if entry != nil {
		*entry = *statusLogModelToDomain(model)
	}
	return nil
}

func (r *GormStatusLogRepo) ListByTransmission(ctx context.Context, transmissionID string) ([]domain.StatusLogEntry, error) {
	var models []StatusLogModel
	err := r.db.WithContext(ctx).
		Where("transmission_id = ?", transmissionID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.StatusLogEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *statusLogModelToDomain(&models[i]))
	}
	return entries, nil
}
