package models

import "time"

// SubscriptionStatus is the lifecycle state of a user's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusNone      SubscriptionStatus = "none"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Plan is the commercial plan a user paid for.
type Plan string

const (
	PlanMonthly  Plan = "monthly"
	PlanLifetime Plan = "lifetime"
)

// SubscriptionRecord is the `subscription` map stored on users/{uid}.
// Firestore keys match what the companion app and website read.
type SubscriptionRecord struct {
	UserID                 string             `json:"userId" firestore:"-"`
	Status                 SubscriptionStatus `json:"status" firestore:"status"`
	Plan                   Plan               `json:"plan,omitempty" firestore:"plan,omitempty"`
	ProviderCustomerID     string             `json:"stripeCustomerId,omitempty" firestore:"stripeCustomerId,omitempty"`
	ProviderSubscriptionID string             `json:"subscriptionId,omitempty" firestore:"subscriptionId,omitempty"`
	ProviderSessionID      string             `json:"stripeSessionId,omitempty" firestore:"stripeSessionId,omitempty"`
	Amount                 float64            `json:"amount" firestore:"amount"`
	Currency               string             `json:"currency,omitempty" firestore:"currency,omitempty"`
	StartDate              *time.Time         `json:"startDate,omitempty" firestore:"startDate,omitempty"`
	UpdatedAt              *time.Time         `json:"updatedAt,omitempty" firestore:"updatedAt,omitempty"`
	CancelledAt            *time.Time         `json:"cancelledAt,omitempty" firestore:"cancelledAt,omitempty"`
	NextBilling            *time.Time         `json:"nextBilling,omitempty" firestore:"nextBilling,omitempty"`
	LastEventAt            *time.Time         `json:"-" firestore:"lastEventAt,omitempty"`
	LastEventID            string             `json:"-" firestore:"lastEventId,omitempty"`
}

// IsActive reports whether the record grants access.
func (r *SubscriptionRecord) IsActive() bool {
	return r != nil && r.Status == SubscriptionStatusActive
}

// UserDocument is the slice of users/{uid} this service reads.
type UserDocument struct {
	Subscription *SubscriptionRecord `firestore:"subscription"`
}
