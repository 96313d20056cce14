package db

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/example/subscription-sync/internal/models"
)

const webhookEventsCollection = "webhookEvents"

// firestoreWebhookEventRepository implements WebhookEventRepository using Firestore.
type firestoreWebhookEventRepository struct {
	client *firestore.Client
}

// NewFirestoreWebhookEventRepository creates a new instance of firestoreWebhookEventRepository.
func NewFirestoreWebhookEventRepository(client *firestore.Client) (WebhookEventRepository, error) {
	if client == nil {
		return nil, errors.New("firestore client is not initialized for WebhookEventRepository")
	}
	return &firestoreWebhookEventRepository{client: client}, nil
}

// Record writes entry under webhookEvents/{entry.ID}. A redelivered event overwrites its
// earlier entry, so the log holds the latest outcome. RecordedAt is set by the server.
func (r *firestoreWebhookEventRepository) Record(ctx context.Context, entry models.WebhookEventLog) error {
	if entry.ID == "" {
		return errors.New("event ID cannot be empty for Record operation")
	}
	if _, err := r.client.Collection(webhookEventsCollection).Doc(entry.ID).Set(ctx, entry); err != nil {
		return fmt.Errorf("failed to record webhook event '%s': %w", entry.ID, err)
	}
	return nil
}
