package queue

import (
	"fmt"
	"strings"
)

// Reason records why a transmission message was enqueued.
type Reason string

const (
	ReasonSubmit      Reason = "submit"
	ReasonRetry       Reason = "retry"
	ReasonManualRetry Reason = "manual_retry"
)

func (r Reason) IsValid() bool {
	switch r {
	case ReasonSubmit, ReasonRetry, ReasonManualRetry:
		return true
	}
	return false
}

// TransmissionMessage is the broker payload for transmission processing.
// RetryID is set for scheduled and manual retries and empty for the initial
// submission attempt.
type TransmissionMessage struct {
	TransmissionID string `json:"transmissionId"`
	OrganizationID string `json:"organizationId"`
	RetryID        string `json:"retryId,omitempty"`
	Reason         Reason `json:"reason"`
}

func (m TransmissionMessage) Validate() error {
	if strings.TrimSpace(m.TransmissionID) == "" {
		return fmt.Errorf("transmissionId is required")
	}
	if strings.TrimSpace(m.OrganizationID) == "" {
		return fmt.Errorf("organizationId is required")
	}
	if !m.Reason.IsValid() {
		return fmt.Errorf("invalid reason %q", m.Reason)
	}
	return nil
}

// PriorityValue maps the enqueue reason to RabbitMQ message priority. Manual
// retries jump the line; scheduled retries go ahead of fresh submissions so
// overdue work drains first.
func PriorityValue(reason Reason) uint8 {
	switch reason {
	case ReasonManualRetry:
		return 3
	case ReasonRetry:
		return 2
	case ReasonSubmit:
		return 1
	default:
		return 0
	}
}
