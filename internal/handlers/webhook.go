package handlers

import (
	"kudi/internal/services/funding"
	"kudi/internal/services/gateway/paystack"
	"kudi/internal/utils"

	"github.com/gofiber/fiber/v2"
)

type WebhookHandler struct {
	funding funding.Reconciler
}

func NewWebhookHandler(reconciler funding.Reconciler) *WebhookHandler {
	return &WebhookHandler{funding: reconciler}
}

// Paystack verifies the signature over the raw body and dispatches the
// event. A non-2xx answer makes the provider redeliver.
func (h *WebhookHandler) Paystack(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	signature := c.Get(paystack.SignatureHeader)

	if err := h.funding.HandleWebhook(c.UserContext(), body, signature); err != nil {
		return utils.Error(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}
