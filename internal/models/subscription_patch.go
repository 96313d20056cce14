package models

import "time"

// SubscriptionPatch is a merge-patch for SubscriptionRecord. Nil pointers leave the
// stored field untouched; names in Clear are removed from the document.
type SubscriptionPatch struct {
	Status                 *SubscriptionStatus
	Plan                   *Plan
	ProviderCustomerID     *string
	ProviderSubscriptionID *string
	ProviderSessionID      *string
	Amount                 *float64
	Currency               *string
	NextBilling            *time.Time

	// Server-assigned timestamps. The store writes its own clock for these.
	StampStartDate   bool
	StampCancelledAt bool

	// Clear lists Firestore keys to delete, e.g. nextBilling when a plan becomes lifetime.
	Clear []string

	// EventID and EventTime identify the provider event behind the patch.
	// A patch older than the stored lastEventAt is not applied.
	EventID   string
	EventTime time.Time
}

// Firestore keys of the subscription map.
const (
	FieldStatus                 = "status"
	FieldPlan                   = "plan"
	FieldProviderCustomerID     = "stripeCustomerId"
	FieldProviderSubscriptionID = "subscriptionId"
	FieldProviderSessionID      = "stripeSessionId"
	FieldAmount                 = "amount"
	FieldCurrency               = "currency"
	FieldStartDate              = "startDate"
	FieldUpdatedAt              = "updatedAt"
	FieldCancelledAt            = "cancelledAt"
	FieldNextBilling            = "nextBilling"
	FieldLastEventAt            = "lastEventAt"
	FieldLastEventID            = "lastEventId"
)

// IsStale reports whether the patch comes from an event older than the last one applied.
// Equal timestamps are not stale, so a redelivered event is applied again.
func (p SubscriptionPatch) IsStale(current *SubscriptionRecord) bool {
	if current == nil || current.LastEventAt == nil || p.EventTime.IsZero() {
		return false
	}
	return p.EventTime.Before(*current.LastEventAt)
}

// ResolvedPatch is a patch checked against the stored record: plain values to merge,
// keys the store must stamp with its own clock, and keys to delete.
type ResolvedPatch struct {
	Set   map[string]interface{}
	Stamp []string
	Clear []string
}

// Resolve turns the patch into field operations against current, which may be nil.
// startDate is stamped only when the subscription becomes active and cancelledAt only
// when it becomes cancelled, so redelivering an event leaves both untouched.
// updatedAt is always stamped.
func (p SubscriptionPatch) Resolve(current *SubscriptionRecord) ResolvedPatch {
	out := ResolvedPatch{Set: map[string]interface{}{}}
	if p.Status != nil {
		out.Set[FieldStatus] = string(*p.Status)
	}
	if p.Plan != nil {
		out.Set[FieldPlan] = string(*p.Plan)
	}
	if p.ProviderCustomerID != nil {
		out.Set[FieldProviderCustomerID] = *p.ProviderCustomerID
	}
	if p.ProviderSubscriptionID != nil {
		out.Set[FieldProviderSubscriptionID] = *p.ProviderSubscriptionID
	}
	if p.ProviderSessionID != nil {
		out.Set[FieldProviderSessionID] = *p.ProviderSessionID
	}
	if p.Amount != nil {
		out.Set[FieldAmount] = *p.Amount
	}
	if p.Currency != nil {
		out.Set[FieldCurrency] = *p.Currency
	}
	if p.NextBilling != nil {
		out.Set[FieldNextBilling] = p.NextBilling.UTC()
	}
	if !p.EventTime.IsZero() {
		out.Set[FieldLastEventAt] = p.EventTime.UTC()
	}
	if p.EventID != "" {
		out.Set[FieldLastEventID] = p.EventID
	}

	if p.StampStartDate && !(current.IsActive() && current.StartDate != nil) {
		out.Stamp = append(out.Stamp, FieldStartDate)
	}
	alreadyCancelled := current != nil && current.Status == SubscriptionStatusCancelled && current.CancelledAt != nil
	if p.StampCancelledAt && !alreadyCancelled {
		out.Stamp = append(out.Stamp, FieldCancelledAt)
	}
	out.Stamp = append(out.Stamp, FieldUpdatedAt)

	for _, key := range p.Clear {
		if _, set := out.Set[key]; !set {
			out.Clear = append(out.Clear, key)
		}
	}
	return out
}

// ApplyTo merges the patch into record in memory, using now for stamped fields.
// It mirrors what the Firestore store writes.
func (p SubscriptionPatch) ApplyTo(record *SubscriptionRecord, now time.Time) {
	resolved := p.Resolve(record)
	for key, value := range resolved.Set {
		switch key {
		case FieldStatus:
			record.Status = SubscriptionStatus(value.(string))
		case FieldPlan:
			record.Plan = Plan(value.(string))
		case FieldProviderCustomerID:
			record.ProviderCustomerID = value.(string)
		case FieldProviderSubscriptionID:
			record.ProviderSubscriptionID = value.(string)
		case FieldProviderSessionID:
			record.ProviderSessionID = value.(string)
		case FieldAmount:
			record.Amount = value.(float64)
		case FieldCurrency:
			record.Currency = value.(string)
		case FieldNextBilling:
			t := value.(time.Time)
			record.NextBilling = &t
		case FieldLastEventAt:
			t := value.(time.Time)
			record.LastEventAt = &t
		case FieldLastEventID:
			record.LastEventID = value.(string)
		}
	}
	for _, key := range resolved.Stamp {
		t := now
		switch key {
		case FieldStartDate:
			record.StartDate = &t
		case FieldCancelledAt:
			record.CancelledAt = &t
		case FieldUpdatedAt:
			record.UpdatedAt = &t
		}
	}
	for _, key := range resolved.Clear {
		switch key {
		case FieldProviderSubscriptionID:
			record.ProviderSubscriptionID = ""
		case FieldNextBilling:
			record.NextBilling = nil
		case FieldCancelledAt:
			record.CancelledAt = nil
		}
	}
}
