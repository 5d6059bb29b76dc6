package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/feedback"
	"github.com/huangang/feedbackloop/internal/gateway"
	"github.com/huangang/feedbackloop/internal/services"
	"github.com/huangang/feedbackloop/pkg/logger"
	"github.com/huangang/feedbackloop/pkg/response"
)

const maxWebhookBody = 1 << 20

// EventQueue accepts decoded webhook events for processing.
type EventQueue interface {
	Enqueue(ctx context.Context, env *feedback.Envelope) error
}

// WebhookHandler receives delivery receipts and customer replies from the
// messaging channel.
type WebhookHandler struct {
	queue       EventQueue
	appSecret   string
	verifyToken string
	now         func() time.Time
}

func NewWebhookHandler(queue EventQueue, appSecret, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		queue:       queue,
		appSecret:   appSecret,
		verifyToken: verifyToken,
		now:         time.Now,
	}
}

// Verify answers the channel's subscription handshake.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		services.LogRequestWarning("Webhook", "verify_rejected", "webhook verification token mismatch", c.ClientIP(), nil)
		response.Forbidden(c, "verification failed")
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

// Receive handles POST /webhook. A 5xx tells the channel to redeliver, so
// only queue failures return one.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	if len(body) > maxWebhookBody {
		response.Error(c, response.NewTooLarge("body too large"))
		return
	}

	if h.appSecret != "" {
		sig := c.GetHeader("X-Hub-Signature-256")
		if !gateway.VerifySignature(h.appSecret, body, sig) {
			services.LogRequestWarning("Webhook", "invalid_signature", "webhook signature mismatch", c.ClientIP(), nil)
			response.Unauthorized(c, "invalid signature")
			return
		}
	}

	envs, err := gateway.DecodeWebhook(body, h.now().UTC())
	if err != nil {
		logger.Warn().Err(err).Str("ip", c.ClientIP()).Msg("[Webhook] undecodable payload")
		response.BadRequest(c, err.Error())
		return
	}

	accepted, skipped := 0, 0
	for i := range envs {
		env := &envs[i]
		if _, err := env.Event(); err != nil {
			logger.Warn().Err(err).Str("event_id", env.EventID).Msg("[Webhook] skipping invalid event")
			skipped++
			continue
		}
		if err := h.queue.Enqueue(c.Request.Context(), env); err != nil {
			logger.Error().Err(err).Str("event_id", env.EventID).Msg("[Webhook] enqueue failed")
			response.ServerError(c, "failed to process event")
			return
		}
		accepted++
	}

	response.Success(c, gin.H{"accepted": accepted, "skipped": skipped})
}
