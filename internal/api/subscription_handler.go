package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/subscription-sync/internal/core"
	"github.com/example/subscription-sync/internal/middleware"
	"github.com/example/subscription-sync/internal/models"
)

// SubscriptionHandler serves read-only subscription state to the dashboard and the app.
type SubscriptionHandler struct {
	subscriptionService core.SubscriptionService
	logger              *zap.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(ss core.SubscriptionService, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptionService: ss, logger: logger}
}

func mapSubscriptionErrorToStatus(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, core.ErrDownstreamUnavailable):
		logger.Error("Subscription store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Subscription store unavailable"})
	default:
		logger.Error("Internal Server Error in SubscriptionHandler", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "An unexpected internal server error occurred."})
	}
}

// lookup returns the caller's record, nil when the user never subscribed.
// It writes the error response itself and reports false on failure.
func (h *SubscriptionHandler) lookup(c *gin.Context, userID string) (*models.SubscriptionRecord, bool) {
	record, err := h.subscriptionService.GetForUser(c.Request.Context(), userID)
	if errors.Is(err, core.ErrSubscriptionNotFound) {
		return nil, true
	}
	if err != nil {
		mapSubscriptionErrorToStatus(c, middleware.LoggerFrom(c, h.logger), err)
		return nil, false
	}
	return record, true
}

func authenticatedUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "User ID not found in context"})
		return "", false
	}
	return userID, true
}

// GetMySubscription handles GET /api/v1/subscription.
func (h *SubscriptionHandler) GetMySubscription(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}
	record, ok := h.lookup(c, userID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, SubscriptionResponse{HasSubscription: record != nil, Subscription: record})
}

// GetSubscriptionStatus handles GET /api/v1/subscription/status/:userId.
// Callers may only read their own status.
func (h *SubscriptionHandler) GetSubscriptionStatus(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}
	if c.Param("userId") != userID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "Cannot read another user's subscription"})
		return
	}
	record, ok := h.lookup(c, userID)
	if !ok {
		return
	}
	if record == nil {
		c.JSON(http.StatusOK, SubscriptionStatusResponse{HasSubscription: false})
		return
	}
	c.JSON(http.StatusOK, SubscriptionStatusResponse{
		HasSubscription: true,
		Status:          record.Status,
		Plan:            record.Plan,
		NextBilling:     record.NextBilling,
	})
}

// GetActive handles GET /api/v1/subscription/active.
func (h *SubscriptionHandler) GetActive(c *gin.Context) {
	userID, ok := authenticatedUserID(c)
	if !ok {
		return
	}
	active, err := h.subscriptionService.IsActive(c.Request.Context(), userID)
	if err != nil {
		mapSubscriptionErrorToStatus(c, middleware.LoggerFrom(c, h.logger), err)
		return
	}
	c.JSON(http.StatusOK, ActiveResponse{Active: active})
}
