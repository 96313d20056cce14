package models

import "time"

// WebhookOutcome is how a verified webhook event ended.
type WebhookOutcome string

const (
	OutcomeApplied  WebhookOutcome = "applied"
	OutcomeIgnored  WebhookOutcome = "ignored"
	OutcomeNoMatch  WebhookOutcome = "no_match"
	OutcomeStale    WebhookOutcome = "stale"
	OutcomeRejected WebhookOutcome = "rejected"
	OutcomeFailed   WebhookOutcome = "failed"

	// OutcomeDuplicate is never persisted; the event was already handled.
	OutcomeDuplicate WebhookOutcome = "duplicate"
)

// WebhookEventLog is one entry of the webhookEvents collection, keyed by provider event id.
// Rejected entries are the list to reconcile by hand.
type WebhookEventLog struct {
	ID         string                 `json:"id" firestore:"-"`
	Type       string                 `json:"type" firestore:"type"`
	Outcome    WebhookOutcome         `json:"outcome" firestore:"outcome"`
	UserID     string                 `json:"userId,omitempty" firestore:"userId,omitempty"`
	CustomerID string                 `json:"customerId,omitempty" firestore:"customerId,omitempty"`
	Error      string                 `json:"error,omitempty" firestore:"error,omitempty"`
	RequestID  string                 `json:"requestId,omitempty" firestore:"requestId,omitempty"`
	EventTime  time.Time              `json:"eventTime" firestore:"eventTime"`
	RecordedAt time.Time              `json:"recordedAt" firestore:"recordedAt,serverTimestamp"`
	Details    map[string]interface{} `json:"details,omitempty" firestore:"details,omitempty"`
}
