package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolpay/internal/service"
)

type WebhookHandler struct {
	webhooks *service.WebhookService
}

func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// signatureHeaders maps gateway name to the header its provider signs with.
var signatureHeaders = map[string]string{
	"stripe":   "Stripe-Signature",
	"cardlink": "X-Cardlink-Signature",
}

// Handle receives provider callbacks on /webhooks/:gateway. It always
// answers 200 so providers stop retrying; failures are visible in the
// response body and the webhook log, never in the status code.
func (h *WebhookHandler) Handle(c *gin.Context) {
	gatewayName := c.Param("gateway")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "unreadable body"})
		return
	}
	header, ok := signatureHeaders[gatewayName]
	if !ok {
		header = "X-Webhook-Signature"
	}
	result := h.webhooks.Process(gatewayName, c.ClientIP(), body, c.GetHeader(header))
	c.JSON(http.StatusOK, result)
}
