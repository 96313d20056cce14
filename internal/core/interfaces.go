package core

import (
	"context"

	"github.com/stripe/stripe-go/v82"

	"github.com/example/subscription-sync/internal/models"
)

// BillingService turns verified Stripe webhook deliveries into subscription writes.
type BillingService interface {
	HandleStripeWebhook(ctx context.Context, req WebhookRequest) (WebhookResult, error)
}

// SubscriptionService is the read side used by the status API. It never writes.
type SubscriptionService interface {
	GetForUser(ctx context.Context, userID string) (*models.SubscriptionRecord, error)
	IsActive(ctx context.Context, userID string) (bool, error)
}

// EventLogService records the outcome of every verified webhook event.
type EventLogService interface {
	Record(ctx context.Context, entry models.WebhookEventLog) error
}

// SignatureVerifier authenticates a raw webhook body against its signature header.
type SignatureVerifier interface {
	Verify(payload []byte, header string) (*stripe.Event, error)
}

// LineItemLister totals the line items of a Checkout session.
type LineItemLister interface {
	SessionTotal(ctx context.Context, sessionID string) (LineItemTotal, error)
}

// ProcessedEventCache remembers event ids that were fully handled.
type ProcessedEventCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// ChangePublisher announces a subscription change to downstream consumers.
type ChangePublisher interface {
	PublishChange(ctx context.Context, change models.SubscriptionChange) error
}
