package db

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/subscription-sync/internal/models"
)

const (
	usersCollection   = "users"
	subscriptionField = "subscription"
)

// firestoreSubscriptionRepository implements SubscriptionRepository using Firestore.
type firestoreSubscriptionRepository struct {
	client *firestore.Client
}

// NewFirestoreSubscriptionRepository creates a new instance of firestoreSubscriptionRepository.
func NewFirestoreSubscriptionRepository(client *firestore.Client) (SubscriptionRepository, error) {
	if client == nil {
		return nil, errors.New("firestore client is not initialized for SubscriptionRepository")
	}
	return &firestoreSubscriptionRepository{client: client}, nil
}

// Upsert reads the current record and merges the resolved patch in one transaction.
// Other fields of users/{uid} are left untouched because the write uses MergeAll.
func (r *firestoreSubscriptionRepository) Upsert(ctx context.Context, userID string, patch models.SubscriptionPatch) (bool, error) {
	if userID == "" {
		return false, errors.New("userID cannot be empty for Upsert operation")
	}
	ref := r.client.Collection(usersCollection).Doc(userID)

	applied := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false

		current, err := readSubscription(tx.Get(ref))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if patch.IsStale(current) {
			return nil
		}

		resolved := patch.Resolve(current)
		fields := make(map[string]interface{}, len(resolved.Set)+len(resolved.Stamp)+len(resolved.Clear))
		for key, value := range resolved.Set {
			fields[key] = value
		}
		for _, key := range resolved.Stamp {
			fields[key] = firestore.ServerTimestamp
		}
		for _, key := range resolved.Clear {
			fields[key] = firestore.Delete
		}

		if err := tx.Set(ref, map[string]interface{}{subscriptionField: fields}, firestore.MergeAll); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to upsert subscription for user '%s': %w", userID, err)
	}
	return applied, nil
}

// FindByCustomerID returns the first user whose subscription carries customerID.
func (r *firestoreSubscriptionRepository) FindByCustomerID(ctx context.Context, customerID string) (*models.SubscriptionRecord, error) {
	if customerID == "" {
		return nil, errors.New("customerID cannot be empty for FindByCustomerID operation")
	}
	iter := r.client.Collection(usersCollection).
		Where(subscriptionField+"."+models.FieldProviderCustomerID, "==", customerID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, fmt.Errorf("no subscription for customer '%s': %w", customerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription for customer '%s': %w", customerID, err)
	}
	return readSubscription(snap, nil)
}

// GetByUserID returns the subscription stored on users/{userID}.
// A user document without a subscription map is reported as ErrNotFound.
func (r *firestoreSubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*models.SubscriptionRecord, error) {
	if userID == "" {
		return nil, errors.New("userID cannot be empty for GetByUserID operation")
	}
	record, err := readSubscription(r.client.Collection(usersCollection).Doc(userID).Get(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription for user '%s': %w", userID, err)
	}
	return record, nil
}

func readSubscription(snap *firestore.DocumentSnapshot, err error) (*models.SubscriptionRecord, error) {
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if snap == nil || !snap.Exists() {
		return nil, ErrNotFound
	}

	var doc models.UserDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode user document '%s': %w", snap.Ref.ID, err)
	}
	if doc.Subscription == nil {
		return nil, ErrNotFound
	}
	doc.Subscription.UserID = snap.Ref.ID
	return doc.Subscription, nil
}
