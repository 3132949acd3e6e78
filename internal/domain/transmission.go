package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a transmission.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSubmitted  Status = "SUBMITTED"
	StatusAccepted   Status = "ACCEPTED"
	StatusRejected   Status = "REJECTED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSubmitted, StatusAccepted,
		StatusRejected, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further delivery attempts may follow.
// REJECTED and FAILED are terminal for the scheduler but remain eligible
// for operator-initiated manual retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusCancelled:
		return true
	}
	return false
}

// DeliverableStatuses are the states a delivery attempt may start from.
// Everything else is either terminal or already in flight.
var DeliverableStatuses = []Status{StatusPending, StatusFailed, StatusRejected}

// IsDeliverable reports whether a worker may claim the transmission for a
// submit attempt.
func (s Status) IsDeliverable() bool {
	for _, d := range DeliverableStatuses {
		if s == d {
			return true
		}
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// MapExternalStatus translates the authority's status vocabulary into the
// internal enum. Unrecognized values are returned verbatim with ok=false so
// callers can pass them through with a warning.
func MapExternalStatus(external string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(external)) {
	case "submitted", "submitting":
		return StatusSubmitted, true
	case "accepted", "acknowledged", "completed":
		return StatusAccepted, true
	case "processing":
		return StatusProcessing, true
	case "pending":
		return StatusPending, true
	case "failed":
		return StatusFailed, true
	case "rejected":
		return StatusRejected, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	}
	return Status(external), false
}

const (
	DefaultMaxRetries        = 3
	DefaultRetryDelaySeconds = 60
	MaxDocumentBytes         = 5 * 1024 * 1024
)

// Transmission is one logical delivery of an invoice document to the tax
// authority, spanning possibly many retry attempts. Superseded transmissions
// are marked CANCELLED, never deleted.
type Transmission struct {
	ID               string  `gorm:"type:uuid;primaryKey"`
	OrganizationID   string  `gorm:"type:uuid;not null;index"`
	DocumentRef      string  `gorm:"type:varchar(255);not null"`
	CertificateRef   *string `gorm:"type:varchar(255)"`
	Status           Status  `gorm:"type:varchar(20);not null"`
	EncryptedPayload []byte  `gorm:"type:bytea"`
	PayloadHash      string  `gorm:"type:varchar(64)"`
	EncryptionKeyRef string  `gorm:"type:varchar(255)"`
	Signed           bool    `gorm:"not null;default:false"`
	Signature        []byte  `gorm:"type:bytea"`
	SignatureInfo    *string `gorm:"type:text"`
	RetryCount       int     `gorm:"not null;default:0"`
	MaxRetries       int     `gorm:"not null;default:3"`
	LastRetryAt      *time.Time
	Metadata         Metadata `gorm:"type:jsonb;serializer:json"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Metadata is the free-form transmission metadata map. It carries retry
// history, webhook history, and the last recorded error.
type Metadata map[string]any

func (t *Transmission) Validate() error {
	if strings.TrimSpace(t.OrganizationID) == "" {
		return fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	if strings.TrimSpace(t.DocumentRef) == "" {
		return fmt.Errorf("%w: document reference is required", ErrValidation)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, t.Status)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be non-negative", ErrValidation)
	}
	return nil
}

// CanRetry reports whether a manual retry is admissible. Forced retries
// bypass the retry-count ceiling but never resurrect a cancelled or already
// accepted transmission.
func (t *Transmission) CanRetry(force bool) error {
	switch t.Status {
	case StatusCancelled:
		return fmt.Errorf("%w: transmission is cancelled", ErrConflict)
	case StatusAccepted:
		return fmt.Errorf("%w: transmission already accepted", ErrConflict)
	}
	if !force && t.RetryCount >= t.MaxRetries {
		return fmt.Errorf("%w: retry count %d reached max retries %d", ErrConflict, t.RetryCount, t.MaxRetries)
	}
	return nil
}
