package repository

import (
	"time"

	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
)

// TransmissionModel is the persistence model for the transmissions table.
type TransmissionModel struct {
	ID               string        `gorm:"type:uuid;primaryKey"`
	OrganizationID   string        `gorm:"type:uuid;not null;index"`
	DocumentRef      string        `gorm:"type:varchar(255);not null"`
	CertificateRef   *string       `gorm:"type:varchar(255)"`
	Status           domain.Status `gorm:"type:varchar(20);not null"`
	EncryptedPayload []byte        `gorm:"type:bytea"`
	PayloadHash      string        `gorm:"type:varchar(64)"`
	EncryptionKeyRef string        `gorm:"type:varchar(255)"`
	Signed           bool          `gorm:"not null;default:false"`
	Signature        []byte        `gorm:"type:bytea"`
	SignatureInfo    *string       `gorm:"type:text"`
	RetryCount       int           `gorm:"not null;default:0"`
	MaxRetries       int           `gorm:"not null;default:3"`
	LastRetryAt      *time.Time
	Metadata         domain.Metadata `gorm:"type:jsonb;serializer:json"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (TransmissionModel) TableName() string {
	return "transmissions"
}

// RetryRecordModel is the persistence model for the retry_records table.
type RetryRecordModel struct {
	ID               string             `gorm:"type:uuid;primaryKey"`
	TransmissionID   string             `gorm:"type:uuid;not null;index"`
	AttemptNumber    int                `gorm:"not null;default:1"`
	MaxAttempts      int                `gorm:"not null;default:3"`
	BaseDelaySeconds int                `gorm:"not null;default:60"`
	Multiplier       float64            `gorm:"not null;default:2"`
	NextAttemptAt    *time.Time         `gorm:"index"`
	Status           domain.RetryStatus `gorm:"type:varchar(20);not null"`
	ErrorType        string             `gorm:"type:varchar(50)"`
	ErrorMessage     string             `gorm:"type:text"`
	ErrorDetails     domain.Metadata    `gorm:"type:jsonb;serializer:json"`
	Severity         domain.Severity    `gorm:"type:varchar(10)"`
	AlertSent        bool               `gorm:"not null;default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (RetryRecordModel) TableName() string {
	return "retry_records"
}

// StatusLogModel is the persistence model for the append-only status_log table.
type StatusLogModel struct {
	ID               string        `gorm:"type:uuid;primaryKey"`
	TransmissionID   string        `gorm:"type:uuid;not null;index"`
	PreviousStatus   domain.Status `gorm:"type:varchar(20)"`
	NewStatus        domain.Status `gorm:"type:varchar(20);not null"`
	Reason           string        `gorm:"type:varchar(100)"`
	ProcessingTimeMs int64         `gorm:"not null;default:0"`
	CreatedAt        time.Time
}

func (StatusLogModel) TableName() string {
	return "status_log"
}

// AuditLogModel is the persistence model for the audit_log table.
type AuditLogModel struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	TransmissionID *string         `gorm:"type:uuid;index"`
	OrganizationID *string         `gorm:"type:uuid"`
	Event          string          `gorm:"type:varchar(100);not null"`
	Detail         domain.Metadata `gorm:"type:jsonb;serializer:json"`
	CreatedAt      time.Time
}

func (AuditLogModel) TableName() string {
	return "audit_log"
}

func transmissionModelFromDomain(t *domain.Transmission) *TransmissionModel {
	if t == nil {
		return nil
	}

	return &TransmissionModel{
		ID:               t.ID,
		OrganizationID:   t.OrganizationID,
		DocumentRef:      t.DocumentRef,
		CertificateRef:   t.CertificateRef,
		Status:           t.Status,
		EncryptedPayload: t.EncryptedPayload,
		PayloadHash:      t.PayloadHash,
		EncryptionKeyRef: t.EncryptionKeyRef,
		Signed:           t.Signed,
		Signature:        t.Signature,
		SignatureInfo:    t.SignatureInfo,
		RetryCount:       t.RetryCount,
		MaxRetries:       t.MaxRetries,
		LastRetryAt:      t.LastRetryAt,
		Metadata:         t.Metadata,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func transmissionModelToDomain(m *TransmissionModel) *domain.Transmission {
	if m == nil {
		return nil
	}

	return &domain.Transmission{
		ID:               m.ID,
		OrganizationID:   m.OrganizationID,
		DocumentRef:      m.DocumentRef,
		CertificateRef:   m.CertificateRef,
		Status:           m.Status,
		EncryptedPayload: m.EncryptedPayload,
		PayloadHash:      m.PayloadHash,
		EncryptionKeyRef: m.EncryptionKeyRef,
		Signed:           m.Signed,
		Signature:        m.Signature,
		SignatureInfo:    m.SignatureInfo,
		RetryCount:       m.RetryCount,
		MaxRetries:       m.MaxRetries,
		LastRetryAt:      m.LastRetryAt,
		Metadata:         m.Metadata,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func retryModelFromDomain(r *domain.RetryRecord) *RetryRecordModel {
	if r == nil {
		return nil
	}

	return &RetryRecordModel{
		ID:               r.ID,
		TransmissionID:   r.TransmissionID,
		AttemptNumber:    r.AttemptNumber,
		MaxAttempts:      r.MaxAttempts,
		BaseDelaySeconds: r.BaseDelaySeconds,
		Multiplier:       r.Multiplier,
		NextAttemptAt:    r.NextAttemptAt,
		Status:           r.Status,
		ErrorType:        r.ErrorType,
		ErrorMessage:     r.ErrorMessage,
		ErrorDetails:     r.ErrorDetails,
		Severity:         r.Severity,
		AlertSent:        r.AlertSent,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func retryModelToDomain(m *RetryRecordModel) *domain.RetryRecord {
	if m == nil {
		return nil
	}

	return &domain.RetryRecord{
		ID:               m.ID,
		TransmissionID:   m.TransmissionID,
		AttemptNumber:    m.AttemptNumber,
		MaxAttempts:      m.MaxAttempts,
		BaseDelaySeconds: m.BaseDelaySeconds,
		Multiplier:       m.Multiplier,
		NextAttemptAt:    m.NextAttemptAt,
		Status:           m.Status,
		ErrorType:        m.ErrorType,
		ErrorMessage:     m.ErrorMessage,
		ErrorDetails:     m.ErrorDetails,
		Severity:         m.Severity,
		AlertSent:        m.AlertSent,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func statusLogModelFromDomain(e *domain.StatusLogEntry) *StatusLogModel {
	if e == nil {
		return nil
	}

	return &StatusLogModel{
		ID:               e.ID,
		TransmissionID:   e.TransmissionID,
		PreviousStatus:   e.PreviousStatus,
		NewStatus:        e.NewStatus,
		Reason:           e.Reason,
		ProcessingTimeMs: e.ProcessingTimeMs,
		CreatedAt:        e.CreatedAt,
	}
}

func statusLogModelToDomain(m *StatusLogModel) *domain.StatusLogEntry {
	if m == nil {
		return nil
	}

	return &domain.StatusLogEntry{
		ID:               m.ID,
		TransmissionID:   m.TransmissionID,
		PreviousStatus:   m.PreviousStatus,
		NewStatus:        m.NewStatus,
		Reason:           m.Reason,
		ProcessingTimeMs: m.ProcessingTimeMs,
		CreatedAt:        m.CreatedAt,
	}
}

func auditModelFromDomain(e *domain.AuditEntry) *AuditLogModel {
	if e == nil {
		return nil
	}

	return &AuditLogModel{
		ID:             e.ID,
		TransmissionID: e.TransmissionID,
		OrganizationID: e.OrganizationID,
		Event:          e.Event,
		Detail:         e.Detail,
		CreatedAt:      e.CreatedAt,
	}
}

func auditModelToDomain(m *AuditLogModel) *domain.AuditEntry {
	if m == nil {
		return nil
	}

	return &domain.AuditEntry{
		ID:             m.ID,
		TransmissionID: m.TransmissionID,
		OrganizationID: m.OrganizationID,
		Event:          m.Event,
		Detail:         m.Detail,
		CreatedAt:      m.CreatedAt,
	}
}
