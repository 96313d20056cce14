package api

import (
	"time"

	"github.com/example/subscription-sync/internal/models"
)

// ErrorResponse is a generic structure for returning errors via API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WebhookAckResponse acknowledges a webhook delivery.
type WebhookAckResponse struct {
	Received bool `json:"received"`
}

// SubscriptionResponse is returned by GET /api/v1/subscription.
type SubscriptionResponse struct {
	HasSubscription bool                       `json:"hasSubscription"`
	Subscription    *models.SubscriptionRecord `json:"subscription,omitempty"`
}

// SubscriptionStatusResponse is returned by GET /api/v1/subscription/status/:userId.
type SubscriptionStatusResponse struct {
	HasSubscription bool                      `json:"hasSubscription"`
	Status          models.SubscriptionStatus `json:"status,omitempty"`
	Plan            models.Plan               `json:"plan,omitempty"`
	NextBilling     *time.Time                `json:"nextBilling,omitempty"`
}

// ActiveResponse is returned by GET /api/v1/subscription/active.
type ActiveResponse struct {
	Active bool `json:"active"`
}
