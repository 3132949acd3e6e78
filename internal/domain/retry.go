package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RetryStatus represents the state of a scheduled retry attempt.
type RetryStatus string

const (
	RetryPending     RetryStatus = "PENDING"
	RetryInProgress  RetryStatus = "IN_PROGRESS"
	RetrySucceeded   RetryStatus = "SUCCEEDED"
	RetryFailed      RetryStatus = "FAILED"
	RetryCancelled   RetryStatus = "CANCELLED"
	RetryMaxExceeded RetryStatus = "MAX_EXCEEDED"
)

func (s RetryStatus) String() string { return string(s) }

func (s RetryStatus) IsValid() bool {
	switch s {
	case RetryPending, RetryInProgress, RetrySucceeded, RetryFailed,
		RetryCancelled, RetryMaxExceeded:
		return true
	}
	return false
}

// IsActive reports whether the record still owns the transmission's retry
// slot. At most one active record may exist per transmission.
func (s RetryStatus) IsActive() bool {
	return s == RetryPending || s == RetryInProgress
}

func ParseRetryStatusFromString(s string) (RetryStatus, error) {
	st := RetryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid retry status %q", ErrValidation, s)
	}
	return st, nil
}

// Severity grades a classified fault.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) String() string { return string(s) }

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank(s) >= severityRank(other)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

const maxBackoffDelay = time.Hour

// RetryRecord tracks one scheduled or attempted retry for a transmission.
type RetryRecord struct {
	ID               string      `gorm:"type:uuid;primaryKey"`
	TransmissionID   string      `gorm:"type:uuid;not null;index"`
	AttemptNumber    int         `gorm:"not null;default:1"`
	MaxAttempts      int         `gorm:"not null;default:3"`
	BaseDelaySeconds int         `gorm:"not null;default:60"`
	Multiplier       float64     `gorm:"not null;default:2"`
	NextAttemptAt    *time.Time  `gorm:"index"`
	Status           RetryStatus `gorm:"type:varchar(20);not null"`
	ErrorType        string      `gorm:"type:varchar(50)"`
	ErrorMessage     string      `gorm:"type:text"`
	ErrorDetails     Metadata    `gorm:"type:jsonb;serializer:json"`
	Severity         Severity    `gorm:"type:varchar(10)"`
	AlertSent        bool        `gorm:"not null;default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (r *RetryRecord) Validate() error {
	if strings.TrimSpace(r.TransmissionID) == "" {
		return fmt.Errorf("%w: transmission id is required", ErrValidation)
	}
	if r.AttemptNumber < 1 {
		return fmt.Errorf("%w: attempt number must be positive", ErrValidation)
	}
	if r.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be positive", ErrValidation)
	}
	if r.BaseDelaySeconds < 0 {
		return fmt.Errorf("%w: base delay must be non-negative", ErrValidation)
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("%w: multiplier must be at least 1", ErrValidation)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid retry status %q", ErrValidation, r.Status)
	}
	return nil
}

// BackoffDelay computes the exponential delay before the given attempt:
// base * multiplier^(attempt-1), capped at one hour.
func (r *RetryRecord) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := time.Duration(r.BaseDelaySeconds) * time.Second
	multiplier := r.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := time.Duration(float64(base) * math.Pow(multiplier, float64(attempt-1)))
	if delay > maxBackoffDelay || delay < 0 {
		delay = maxBackoffDelay
	}
	return delay
}

// Exhausted reports whether the attempt ceiling has been reached.
func (r *RetryRecord) Exhausted() bool {
	return r.AttemptNumber >= r.MaxAttempts
}
