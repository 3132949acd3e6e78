package authority

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// AuthorityError classifies authority call failures as transient/permanent.
type AuthorityError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *AuthorityError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "authority error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *AuthorityError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var authErr *AuthorityError
	if errors.As(err, &authErr) {
		return authErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// StatusCodeOf extracts the HTTP status carried by an authority error, or 0.
func StatusCodeOf(err error) int {
	var authErr *AuthorityError
	if errors.As(err, &authErr) {
		return authErr.StatusCode
	}
	return 0
}
