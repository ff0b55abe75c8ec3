package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/gateway/razorpay"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/metrics"
)

// RazorpayWebhook принимает доставку Razorpay. 2xx означает, что событие
// надёжно сохранено (или уже было сохранено раньше); на 5xx шлюз повторит доставку.
func (h *Handler) RazorpayWebhook(c *gin.Context) {
	receivedAt := h.now()

	rawBody, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectWebhook(c, http.StatusRequestEntityTooLarge, metrics.WebhookBodyTooLarge, err)
			return
		}
		h.rejectWebhook(c, http.StatusBadRequest, metrics.WebhookInvalidPayload, err)
		return
	}

	// Тело не разбирается до проверки подписи.
	if err := h.verifier.Check(rawBody, c.GetHeader(razorpay.SignatureHeader)); err != nil {
		if errors.Is(err, domain.ErrVerificationUnavailable) {
			h.rejectWebhook(c, http.StatusInternalServerError, metrics.WebhookVerificationUnavailable, err)
			return
		}
		h.rejectWebhook(c, http.StatusBadRequest, metrics.WebhookInvalidSignature, err)
		return
	}

	event, err := razorpay.ParseEvent(rawBody, c.GetHeader(razorpay.EventIDHeader), receivedAt)
	if err != nil {
		h.rejectWebhook(c, http.StatusBadRequest, metrics.WebhookInvalidPayload, err)
		return
	}

	outcome, err := h.engine.Reconcile(c.Request.Context(), event)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAmountMismatch):
		// Событие и аномалия уже сохранены; повтор ничего не изменит.
		h.metrics.RecordWebhook(razorpay.GatewayName, metrics.WebhookAmountMismatch)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	case errors.Is(err, domain.ErrInvalidPayload):
		h.rejectWebhook(c, http.StatusBadRequest, metrics.WebhookInvalidPayload, err)
		return
	default:
		h.rejectWebhook(c, http.StatusInternalServerError, metrics.WebhookPersistenceFailure, err)
		return
	}

	result := metrics.WebhookAccepted
	if outcome == domain.OutcomeDuplicateIgnored {
		result = metrics.WebhookDuplicate
	}
	h.metrics.RecordWebhook(razorpay.GatewayName, result)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) rejectWebhook(c *gin.Context, status int, result string, err error) {
	h.metrics.RecordWebhook(razorpay.GatewayName, result)

	logger := h.logger.WithFields(log.Fields{
		"gateway":  razorpay.GatewayName,
		"result":   result,
		"event_id": c.GetHeader(razorpay.EventIDHeader),
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("webhook delivery failed")
	} else {
		logger.Warn("webhook delivery rejected")
	}

	message := err.Error()
	switch result {
	case metrics.WebhookInvalidSignature:
		message = domain.ErrInvalidSignature.Error()
	case metrics.WebhookVerificationUnavailable, metrics.WebhookPersistenceFailure:
		message = http.StatusText(status)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
