package repository

import (
	"context"

	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"gorm.io/gorm"
)

type AuditRepository interface {
	Record(ctx context.Context, entry *domain.AuditEntry) error
	ListByTransmission(ctx context.Context, transmissionID string) ([]domain.AuditEntry, error)
}

type GormAuditRepo struct {
	db *gorm.DB
}

func NewGormAuditRepo(db *gorm.DB) *GormAuditRepo {
	return &GormAuditRepo{db: db}
}

func (r *GormAuditRepo) Record(ctx context.Context, entry *domain.AuditEntry) error {
	model := auditModelFromDomain(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if entry != nil {
		*entry = *auditModelToDomain(model)
	}
	return nil
}

func (r *GormAuditRepo) ListByTransmission(ctx context.Context, transmissionID string) ([]domain.AuditEntry, error) {
	var models []AuditLogModel
	err := r.db.WithContext(ctx).
		Where("transmission_id = ?", transmissionID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.AuditEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *auditModelToDomain(&models[i]))
	}
	return entries, nil
}
