package faultclass

import "time"

// RetryPolicy is the backoff policy selected for a classified fault.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Named policies, keyed by the classification's primary role. Cross-cutting
// faults get the highest attempt ceiling because they must outlast either
// sub-system's own recovery window.
var (
	preparationPolicy = RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Minute,
		Multiplier:  2,
	}

	deliveryPolicy = RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Minute,
		Multiplier:  2,
	}

	crossCuttingPolicy = RetryPolicy{
		MaxAttempts: 8,
		BaseDelay:   90 * time.Second,
		Multiplier:  1.5,
	}
)

// PolicyFor selects the retry policy for a classification. It is pure and
// stateless; permanent classifications still get a policy so callers can
// record it, but they must not schedule attempts from it.
func PolicyFor(c Classification) RetryPolicy {
	if c.Category == CategoryCrossCutting || c.Category == CategoryUnclassified || c.AffectsBoth() {
		return crossCuttingPolicy
	}
	if c.PrimaryRole() == RolePreparation {
		return preparationPolicy
	}
	return deliveryPolicy
}
