package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	transmissionsSubmitted   *prometheus.CounterVec
	transmissionsFailedTotal *prometheus.CounterVec
	submitDuration           *prometheus.HistogramVec
	workerInflight           prometheus.Gauge
	retryScheduledTotal      *prometheus.CounterVec
	alertsSentTotal          *prometheus.CounterVec
	webhookEventsTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "transmission_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "transmission_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		transmissionsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "transmission_engine",
				Name:      "transmissions_submitted_total",
				Help:      "Total number of transmissions delivered to the authority.",
			},
			[]string{"organization"},
		),
		transmissionsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "transmission_engine",
				Name:      "transmissions_failed_total",
				Help:      "Total number of transmissions that ended in a terminal failed state.",
			},
			[]string{"organization", "reason"},
		),
		submitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "transmission_engine",
				Name:      "submit_duration_seconds",
				Help:      "Authority submit call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"organization"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "transmission_engine",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight delivery attempts.",
			},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "transmission_engine",
				Name:      "retry_scheduled_total",
				Help:      "Total number of retries scheduled, grouped by fault category.",
			},
			[]string{"category"},
		),
		alertsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "transmission_engine",
				Name:      "alerts_sent_total",
				Help:      "Total number of escalation alerts accepted by a channel.",
			},
			[]string{"channel"},
		),
		webhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "transmission_engine",
				Name:      "webhook_events_total",
				Help:      "Total number of webhook callbacks processed, grouped by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.transmissionsSubmitted,
		m.transmissionsFailedTotal,
		m.submitDuration,
		m.workerInflight,
		m.retryScheduledTotal,
		m.alertsSentTotal,
		m.webhookEventsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncTransmissionSubmitted(organization string) {
	if m == nil {
		return
	}
	m.transmissionsSubmitted.WithLabelValues(normalizeLabel(organization)).Inc()
}

func (m *Metrics) IncTransmissionFailed(organization string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.transmissionsFailedTotal.WithLabelValues(normalizeLabel(organization), reasonLabel).Inc()
}

func (m *Metrics) ObserveSubmitDuration(organization string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.submitDuration.WithLabelValues(normalizeLabel(organization)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncRetryScheduled(category string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(category)).Inc()
}

func (m *Metrics) IncAlertSent(channel string) {
	if m == nil {
		return
	}
	m.alertsSentTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncWebhookEvent(result string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
