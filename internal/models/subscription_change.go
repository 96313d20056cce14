package models

import "time"

// SubscriptionChange is published after a record is written, for downstream consumers
// such as the email notifier.
type SubscriptionChange struct {
	EventID    string             `json:"eventId"`
	EventType  string             `json:"eventType"`
	UserID     string             `json:"userId"`
	Status     SubscriptionStatus `json:"status"`
	Plan       Plan               `json:"plan,omitempty"`
	Amount     float64            `json:"amount,omitempty"`
	Currency   string             `json:"currency,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}
