package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/subscription-sync/internal/db"
	"github.com/example/subscription-sync/internal/models"
)

// subscriptionService implements the SubscriptionService interface.
type subscriptionService struct {
	repo    db.SubscriptionRepository
	timeout time.Duration
}

// NewSubscriptionService creates a new SubscriptionService instance.
func NewSubscriptionService(repo db.SubscriptionRepository, timeout time.Duration) SubscriptionService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &subscriptionService{repo: repo, timeout: timeout}
}

// GetForUser returns the user's record, or ErrSubscriptionNotFound when the user never subscribed.
func (s *subscriptionService) GetForUser(ctx context.Context, userID string) (*models.SubscriptionRecord, error) {
	if userID == "" {
		return nil, errors.New("userID cannot be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	record, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: user '%s'", ErrSubscriptionNotFound, userID)
		}
		return nil, fmt.Errorf("%w: reading subscription of user '%s': %v", ErrDownstreamUnavailable, userID, err)
	}
	return record, nil
}

// IsActive reports whether the user currently has access. A missing record is not active.
func (s *subscriptionService) IsActive(ctx context.Context, userID string) (bool, error) {
	record, err := s.GetForUser(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.IsActive(), nil
}
