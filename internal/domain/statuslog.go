package domain

import "time"

// StatusLogEntry is one row of the append-only transmission status log.
type StatusLogEntry struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	TransmissionID   string `gorm:"type:uuid;not null;index"`
	PreviousStatus   Status `gorm:"type:varchar(20)"`
	NewStatus        Status `gorm:"type:varchar(20);not null"`
	Reason           string `gorm:"type:varchar(100)"`
	ProcessingTimeMs int64  `gorm:"not null;default:0"`
	CreatedAt        time.Time
}

// AuditEntry records a security or processing event for later review,
// e.g. a rejected webhook signature or a permanent delivery failure.
type AuditEntry struct {
	ID             string   `gorm:"type:uuid;primaryKey"`
	TransmissionID *string  `gorm:"type:uuid;index"`
	OrganizationID *string  `gorm:"type:uuid"`
	Event          string   `gorm:"type:varchar(100);not null"`
	Detail         Metadata `gorm:"type:jsonb;serializer:json"`
	CreatedAt      time.Time
}
