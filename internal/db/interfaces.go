package db

import (
	"context"

	"github.com/example/subscription-sync/internal/models"
)

// SubscriptionRepository defines storage operations for the subscription map on users/{uid}.
type SubscriptionRepository interface {
	// Upsert merges patch into the user's record inside a transaction.
	// It reports applied=false when the patch is older than the last event already stored.
	Upsert(ctx context.Context, userID string, patch models.SubscriptionPatch) (bool, error)
	// FindByCustomerID returns the first record whose stripeCustomerId equals customerID.
	FindByCustomerID(ctx context.Context, customerID string) (*models.SubscriptionRecord, error)
	GetByUserID(ctx context.Context, userID string) (*models.SubscriptionRecord, error)
}

// WebhookEventRepository defines storage for the processed-webhook log.
type WebhookEventRepository interface {
	Record(ctx context.Context, entry models.WebhookEventLog) error
}
