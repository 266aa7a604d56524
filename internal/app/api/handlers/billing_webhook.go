package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quizforge/billing/internal/app/service/webhook"
	"github.com/quizforge/billing/pkg/logctx"
)

type WebhookHandler struct {
	pipeline *webhook.Pipeline
	log      *zap.SugaredLogger
}

func NewWebhookHandler(pipeline *webhook.Pipeline, log *zap.SugaredLogger) *WebhookHandler {
	return &WebhookHandler{pipeline: pipeline, log: log}
}

// @Summary      Stripe webhook endpoint
// @Description  Verifies the delivery signature, acks immediately, and processes the event asynchronously
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]bool
// @Failure      400  {object}  map[string]string
// @Router       /api/v2/billing/webhook/stripe [post]
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	event, err := h.pipeline.VerifyEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		logctx.FromGin(c, h.log).Warnf("webhook signature verification failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	// Ack before processing. The provider retries on non-2xx and resolves
	// nothing from the response body, so holding the connection open buys
	// nothing and risks retry storms on slow handlers.
	c.JSON(http.StatusOK, gin.H{"received": true})

	// The request context dies with the connection; carry only the trace id.
	ctx := context.Background()
	if tid := c.GetString("traceID"); tid != "" {
		ctx = context.WithValue(ctx, "traceID", tid)
	}
	go func() {
		if perr := h.pipeline.Process(ctx, event); perr != nil {
			logctx.FromCtx(ctx, h.log).Errorf("failed to process event %s: %v", event.ID, perr)
		}
	}()
}

func RegisterWebhookRoutes(r gin.IRouter, h *WebhookHandler) {
	r.POST("/webhook/stripe", h.HandleStripe)
}
