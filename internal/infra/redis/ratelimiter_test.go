package redis

import (
	"context"
	"testing"
	"time"
)

func TestNewRedisRateLimiterRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisRateLimiter(nil, 10); err == nil {
		t.Fatal("expected error when redis client is nil")
	}
}

func TestAllowRequiresOrganization(t *testing.T) {
	t.Parallel()

	limiter := &RedisRateLimiter{}
	if _, err := limiter.Allow(context.Background(), "org-1"); err == nil {
		t.Fatal("expected error when limiter is not initialized")
	}
}

func TestWaitStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	denied := &RedisRateLimiter{
		limitPerSec: 1,
		now:         time.Now,
	}

	// Allow always errors because the client is nil; Wait must surface it
	// instead of spinning.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := denied.Wait(ctx, "org-1"); err == nil {
		t.Fatal("expected error from Wait with cancelled context")
	}
}

func TestSleepWithContextHonorsCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepWithContext(ctx, time.Second); err == nil {
		t.Fatal("expected context error")
	}
}

func TestSleepWithContextCompletes(t *testing.T) {
	t.Parallel()

	if err := sleepWithContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleepWithContext() error = %v", err)
	}
}
