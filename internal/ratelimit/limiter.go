package ratelimit

import "context"

// RateLimiter throttles outbound authority calls per organization so one
// tenant cannot exhaust the authority API quota for the others.
type RateLimiter interface {
	Allow(ctx context.Context, organizationID string) (bool, error)
	Wait(ctx context.Context, organizationID string) error
}
