package core

import (
	"github.com/example/subscription-sync/internal/models"
)

// CheckoutPatch builds the write for a completed checkout with the given total.
// Monthly plans bill again one calendar month after the event; lifetime plans drop the
// recurring fields. Re-activation clears cancelledAt.
func CheckoutPatch(t CheckoutCompleted, amountMinor int64, currency string) models.SubscriptionPatch {
	currency = NormalizeCurrency(currency)
	plan := ClassifyPlan(amountMinor)
	status := models.SubscriptionStatusActive
	amount := MajorUnits(amountMinor, currency)

	patch := models.SubscriptionPatch{
		Status:         &status,
		Plan:           &plan,
		Amount:         &amount,
		Currency:       &currency,
		StampStartDate: true,
		Clear:          []string{models.FieldCancelledAt},
		EventID:        t.EventID,
		EventTime:      t.EventTime,
	}
	if t.CustomerID != "" {
		customerID := t.CustomerID
		patch.ProviderCustomerID = &customerID
	}
	if t.SessionID != "" {
		sessionID := t.SessionID
		patch.ProviderSessionID = &sessionID
	}

	if plan == models.PlanLifetime {
		patch.Clear = append(patch.Clear, models.FieldNextBilling, models.FieldProviderSubscriptionID)
		return patch
	}

	nextBilling := t.EventTime.AddDate(0, 1, 0)
	patch.NextBilling = &nextBilling
	if t.SubscriptionID != "" {
		subscriptionID := t.SubscriptionID
		patch.ProviderSubscriptionID = &subscriptionID
	}
	return patch
}

// CancellationPatch marks the record cancelled. Plan and billing fields are kept so the
// dashboard can still show what was cancelled.
func CancellationPatch(t SubscriptionCancelled) models.SubscriptionPatch {
	status := models.SubscriptionStatusCancelled
	return models.SubscriptionPatch{
		Status:           &status,
		StampCancelledAt: true,
		EventID:          t.EventID,
		EventTime:        t.EventTime,
	}
}
