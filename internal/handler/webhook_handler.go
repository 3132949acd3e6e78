package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/mukhtar-github/taxpoynt-platform-sub026/internal/service"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

type WebhookIngestor interface {
	Ingest(ctx context.Context, payload []byte, signature string) (*service.IngestResult, error)
}

type WebhookHandler struct {
	ingestor WebhookIngestor
}

func NewWebhookHandler(ingestor WebhookIngestor) (*WebhookHandler, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("webhook ingestor is required")
	}
	return &WebhookHandler{ingestor: ingestor}, nil
}

func RegisterWebhookRoutes(router fiber.Router, ingestor WebhookIngestor) error {
	h, err := NewWebhookHandler(ingestor)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/webhooks/delivery-status", h.ReceiveDeliveryStatus)

	return nil
}

func (h *WebhookHandler) ReceiveDeliveryStatus(c *fiber.Ctx) error {
	// The raw body is verified before any parsing; fiber reuses its buffer
	// across requests, so take a copy.
	payload := make([]byte, len(c.Body()))
	copy(payload, c.Body())

	result, err := h.ingestor.Ingest(c.Context(), payload, c.Get(SignatureHeader))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"transmissionId": result.TransmissionID,
		"previousStatus": result.PreviousStatus.String(),
		"newStatus":      result.NewStatus.String(),
		"applied":        result.Applied,
	})
}
