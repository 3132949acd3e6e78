package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	status, err := ParseStatusFromString(" submitted ")
	if err != nil {
		t.Fatalf("ParseStatusFromString() error = %v", err)
	}
	if status != StatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", status)
	}

	if _, err := ParseStatusFromString("bogus"); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestMapExternalStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		external string
		want     Status
		known    bool
	}{
		{"submitted", StatusSubmitted, true},
		{"submitting", StatusSubmitted, true},
		{"accepted", StatusAccepted, true},
		{"acknowledged", StatusAccepted, true},
		{"completed", StatusAccepted, true},
		{"processing", StatusProcessing, true},
		{"pending", StatusPending, true},
		{"failed", StatusFailed, true},
		{"rejected", StatusRejected, true},
		{"cancelled", StatusCancelled, true},
		{"IN_REVIEW", Status("IN_REVIEW"), false},
	}

	for _, tc := range cases {
		got, known := MapExternalStatus(tc.external)
		if got != tc.want || known != tc.known {
			t.Fatalf("MapExternalStatus(%q) = (%s, %v), want (%s, %v)",
				tc.external, got, known, tc.want, tc.known)
		}
	}
}

func TestStatusIsDeliverable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status Status
		want   bool
	}{
		{StatusPending, true},
		{StatusFailed, true},
		{StatusRejected, true},
		{StatusProcessing, false},
		{StatusSubmitted, false},
		{StatusAccepted, false},
		{StatusCancelled, false},
	}

	for _, tc := range cases {
		if got := tc.status.IsDeliverable(); got != tc.want {
			t.Fatalf("IsDeliverable(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestTransmissionValidate(t *testing.T) {
	t.Parallel()

	tr := &Transmission{
		OrganizationID: "org-1",
		DocumentRef:    "INV-2026-0001",
		Status:         StatusPending,
		MaxRetries:     3,
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	missingOrg := &Transmission{DocumentRef: "INV-1", Status: StatusPending}
	if err := missingOrg.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}

	missingDoc := &Transmission{OrganizationID: "org-1", Status: StatusPending}
	if err := missingDoc.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestTransmissionCanRetry(t *testing.T) {
	t.Parallel()

	exhausted := &Transmission{Status: StatusFailed, RetryCount: 3, MaxRetries: 3}
	if err := exhausted.CanRetry(false); !errors.Is(err, ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if err := exhausted.CanRetry(true); err != nil {
		t.Fatalf("forced CanRetry() error = %v", err)
	}

	cancelled := &Transmission{Status: StatusCancelled, MaxRetries: 3}
	if err := cancelled.CanRetry(true); !errors.Is(err, ErrConflict) {
		t.Fatalf("cancelled forced error = %v, want ErrConflict", err)
	}

	accepted := &Transmission{Status: StatusAccepted, MaxRetries: 3}
	if err := accepted.CanRetry(true); !errors.Is(err, ErrConflict) {
		t.Fatalf("accepted forced error = %v, want ErrConflict", err)
	}

	retryable := &Transmission{Status: StatusFailed, RetryCount: 1, MaxRetries: 3}
	if err := retryable.CanRetry(false); err != nil {
		t.Fatalf("CanRetry() error = %v", err)
	}
}

func TestBackoffDelayExponential(t *testing.T) {
	t.Parallel()

	record := &RetryRecord{BaseDelaySeconds: 60, Multiplier: 2}

	want := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 480 * time.Second}
	prev := time.Duration(0)
	for i, expected := range want {
		got := record.BackoffDelay(i + 1)
		if got != expected {
			t.Fatalf("BackoffDelay(%d) = %s, want %s", i+1, got, expected)
		}
		if got < prev {
			t.Fatalf("delay decreased at attempt %d", i+1)
		}
		prev = got
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	t.Parallel()

	record := &RetryRecord{BaseDelaySeconds: 300, Multiplier: 3}
	if got := record.BackoffDelay(10); got != maxBackoffDelay {
		t.Fatalf("BackoffDelay(10) = %s, want cap %s", got, maxBackoffDelay)
	}
}

func TestRetryStatusIsActive(t *testing.T) {
	t.Parallel()

	active := []RetryStatus{RetryPending, RetryInProgress}
	for _, s := range active {
		if !s.IsActive() {
			t.Fatalf("%s should be active", s)
		}
	}

	terminal := []RetryStatus{RetrySucceeded, RetryFailed, RetryCancelled, RetryMaxExceeded}
	for _, s := range terminal {
		if s.IsActive() {
			t.Fatalf("%s should not be active", s)
		}
	}
}
