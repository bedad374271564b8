package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/paycycle/paycycle/internal/pkg/webhook"
)

// Signature header checked on gateway deliveries.
const webhookSignatureHeader = "X-Gateway-Signature"

// WebhookController terminates payment gateway webhook deliveries.
type WebhookController struct {
	ingestor *webhook.Ingestor
}

func NewWebhookController(ing *webhook.Ingestor) *WebhookController {
	return &WebhookController{ingestor: ing}
}

// HandlePaymentWebhook verifies, deduplicates and applies one delivery.
// Duplicates and unknown event types are acknowledged with 200 so the
// provider stops redelivering; only a failed application returns 5xx.
func (wc *WebhookController) HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := c.Body()
	signature := c.Get(webhookSignatureHeader)

	result, err := wc.ingestor.Handle(c.UserContext(), rawBody, signature)
	if err != nil {
		log.Errorf("[WebhookController] delivery failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_apply_failed", "message": "Event could not be applied"})
	}

	switch result.Outcome {
	case webhook.OutcomeUnauthorized:
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid webhook signature"})
	case webhook.OutcomeMalformed:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed event payload"})
	default:
		return c.JSON(result)
	}
}
