package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/subscription-sync/internal/core"
	"github.com/example/subscription-sync/internal/middleware"
)

const (
	// MaxWebhookBodyBytes caps the webhook body; Stripe events are far smaller.
	MaxWebhookBodyBytes   = 65536
	stripeSignatureHeader = "Stripe-Signature"
)

// BillingHandler handles the Stripe webhook endpoint.
type BillingHandler struct {
	billingService core.BillingService
	logger         *zap.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(bs core.BillingService, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{billingService: bs, logger: logger}
}

// mapWebhookErrorToStatus maps errors from core.BillingService to a status code and a
// reason for the plain-text body Stripe records in its dashboard.
func mapWebhookErrorToStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrSignatureInvalid):
		return http.StatusBadRequest, "signature verification failed"
	case errors.Is(err, core.ErrMissingUserCorrelation):
		return http.StatusBadRequest, "missing client_reference_id"
	case errors.Is(err, core.ErrMalformedEvent):
		return http.StatusBadRequest, "malformed event object"
	case errors.Is(err, core.ErrDownstreamUnavailable):
		return http.StatusInternalServerError, "downstream unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// HandleStripeWebhook handles POST /stripeWebhook. The body is read once and passed
// to verification byte for byte.
func (h *BillingHandler) HandleStripeWebhook(c *gin.Context) {
	logger := middleware.LoggerFrom(c, h.logger)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("Webhook body too large", zap.Int64("limit", tooLarge.Limit))
			c.String(http.StatusBadRequest, "Webhook Error: request body too large")
			return
		}
		logger.Warn("Failed to read webhook body", zap.Error(err))
		c.String(http.StatusBadRequest, "Webhook Error: unreadable request body")
		return
	}

	_, err = h.billingService.HandleStripeWebhook(c.Request.Context(), core.WebhookRequest{
		Payload:    payload,
		Signature:  c.GetHeader(stripeSignatureHeader),
		RequestID:  c.GetString(middleware.ContextRequestID),
		Logger:     logger,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		status, reason := mapWebhookErrorToStatus(err)
		_ = c.Error(err)
		c.String(status, "Webhook Error: "+reason)
		return
	}

	c.JSON(http.StatusOK, WebhookAckResponse{Received: true})
}
