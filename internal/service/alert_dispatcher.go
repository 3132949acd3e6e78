package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/domain"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/observability"
	"go.uber.org/zap"
)

// Alert is the summary handed to external channels. Full fault detail stays
// in logs and the audit trail; only the summary leaves the system.
type Alert struct {
	TransmissionID string
	OrganizationID string
	Category       string
	Severity       domain.Severity
	AttemptNumber  int
	MaxAttempts    int
	Reason         string
	Permanent      bool
}

func (a Alert) Summary() string {
	var b strings.Builder
	if a.Permanent {
		b.WriteString("Permanent transmission failure")
	} else {
		b.WriteString("Transmission delivery escalation")
	}
	fmt.Fprintf(&b, " [%s/%s]", a.Category, a.Severity)
	fmt.Fprintf(&b, " transmission=%s org=%s", a.TransmissionID, a.OrganizationID)
	if a.MaxAttempts > 0 {
		fmt.Fprintf(&b, " attempt=%d/%d", a.AttemptNumber, a.MaxAttempts)
	}
	if a.Reason != "" {
		b.WriteString(": ")
		b.WriteString(a.Reason)
	}
	return b.String()
}

// AlertChannel is one escalation destination.
type AlertChannel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// AlertDispatcher fans an alert out to every configured channel. Each send
// is best-effort; the dispatch succeeds when at least one channel accepted.
type AlertDispatcher struct {
	channels []AlertChannel
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewAlertDispatcher(channels []AlertChannel, logger *zap.Logger) (*AlertDispatcher, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one alert channel is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AlertDispatcher{
		channels: channels,
		logger:   logger,
	}, nil
}

func (d *AlertDispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

func (d *AlertDispatcher) Notify(ctx context.Context, alert Alert) error {
	accepted := 0
	var lastErr error

	for _, channel := range d.channels {
		if err := channel.Send(ctx, alert); err != nil {
			lastErr = err
			d.logger.Error("alert channel send failed",
				zap.String("channel", channel.Name()),
				zap.String("transmissionId", alert.TransmissionID),
				zap.Error(err),
			)
			continue
		}
		accepted++
		if d.metrics != nil {
			d.metrics.IncAlertSent(channel.Name())
		}
	}

	if accepted == 0 {
		return fmt.Errorf("all alert channels failed: %w", lastErr)
	}
	return nil
}

const slackSendTimeout = 10 * time.Second

// SlackChannel posts alert summaries to a Slack incoming webhook.
type SlackChannel struct {
	client     *resty.Client
	webhookURL string
}

func NewSlackChannel(webhookURL string) (*SlackChannel, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook url is required")
	}

	client := resty.New().
		SetTimeout(slackSendTimeout).
		SetHeader("Content-Type", "application/json")

	return &SlackChannel{client: client, webhookURL: webhookURL}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, alert Alert) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"text": alert.Summary()}).
		Post(c.webhookURL)
	if err != nil {
		return fmt.Errorf("slack webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode())
	}
	return nil
}

// LogChannel writes alerts to the structured log. It always accepts, which
// makes it the fallback channel when no external destination is configured.
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, alert Alert) error {
	c.logger.Warn("transmission alert",
		zap.String("transmissionId", alert.TransmissionID),
		zap.String("organizationId", alert.OrganizationID),
		zap.String("category", alert.Category),
		zap.String("severity", alert.Severity.String()),
		zap.Int("attempt", alert.AttemptNumber),
		zap.Int("maxAttempts", alert.MaxAttempts),
		zap.Bool("permanent", alert.Permanent),
		zap.String("reason", alert.Reason),
	)
	return nil
}
