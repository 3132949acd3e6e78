package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsWorkerCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncTransmissionSubmitted("Org-1")
	metrics.IncTransmissionFailed("org-1", "permanent_fault")
	metrics.ObserveSubmitDuration("org-1", 120*time.Millisecond)
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()
	metrics.IncRetryScheduled("DELIVERY")
	metrics.IncAlertSent("slack")
	metrics.IncWebhookEvent("accepted")

	if got := testutil.ToFloat64(metrics.transmissionsSubmitted.WithLabelValues("org-1")); got != 1 {
		t.Fatalf("transmissions_submitted_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.transmissionsFailedTotal.WithLabelValues("org-1", "permanent_fault")); got != 1 {
		t.Fatalf("transmissions_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retryScheduledTotal.WithLabelValues("delivery")); got != 1 {
		t.Fatalf("retry_scheduled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.alertsSentTotal.WithLabelValues("slack")); got != 1 {
		t.Fatalf("alerts_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.webhookEventsTotal.WithLabelValues("accepted")); got != 1 {
		t.Fatalf("webhook_events_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/healthz", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/healthz", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
