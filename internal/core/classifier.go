package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// Event types that change subscription state.
const (
	EventCheckoutSessionCompleted    = "checkout.session.completed"
	EventCustomerSubscriptionDeleted = "customer.subscription.deleted"
)

// Transition is the subscription change an event asks for. It is one of
// CheckoutCompleted, SubscriptionCancelled or Ignored.
type Transition interface {
	isTransition()
}

// CheckoutCompleted activates the user named by client_reference_id.
type CheckoutCompleted struct {
	UserID             string
	SessionID          string
	CustomerID         string
	SubscriptionID     string
	Currency           string
	SessionAmountTotal int64
	EventID            string
	EventTime          time.Time
}

// SubscriptionCancelled cancels whichever user holds CustomerID.
type SubscriptionCancelled struct {
	CustomerID     string
	SubscriptionID string
	EventID        string
	EventTime      time.Time
}

// Ignored is any event type this service does not act on.
type Ignored struct {
	Type    string
	EventID string
}

func (CheckoutCompleted) isTransition()     {}
func (SubscriptionCancelled) isTransition() {}
func (Ignored) isTransition()               {}

// Classify decodes a verified event into a Transition.
func Classify(event *stripe.Event) (Transition, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	eventTime := time.Unix(event.Created, 0).UTC()

	switch string(event.Type) {
	case EventCheckoutSessionCompleted:
		var cs stripe.CheckoutSession
		if err := decodeObject(event, &cs); err != nil {
			return nil, err
		}
		if cs.ClientReferenceID == "" {
			return nil, fmt.Errorf("%w: session %s", ErrMissingUserCorrelation, cs.ID)
		}
		t := CheckoutCompleted{
			UserID:             cs.ClientReferenceID,
			SessionID:          cs.ID,
			Currency:           NormalizeCurrency(string(cs.Currency)),
			SessionAmountTotal: cs.AmountTotal,
			EventID:            event.ID,
			EventTime:          eventTime,
		}
		if cs.Customer != nil {
			t.CustomerID = cs.Customer.ID
		}
		if cs.Subscription != nil {
			t.SubscriptionID = cs.Subscription.ID
		}
		return t, nil

	case EventCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := decodeObject(event, &sub); err != nil {
			return nil, err
		}
		t := SubscriptionCancelled{
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			EventTime:      eventTime,
		}
		if sub.Customer != nil {
			t.CustomerID = sub.Customer.ID
		}
		return t, nil

	default:
		return Ignored{Type: string(event.Type), EventID: event.ID}, nil
	}
}

func decodeObject(event *stripe.Event, into interface{}) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("%w: %s event %s has no data object", ErrMalformedEvent, event.Type, event.ID)
	}
	// Expandable Stripe types also accept a bare id string; only a full object is valid here.
	if trimmed := bytes.TrimSpace(event.Data.Raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: %s event %s data object is not a JSON object", ErrMalformedEvent, event.Type, event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, into); err != nil {
		return fmt.Errorf("%w: %s event %s: %v", ErrMalformedEvent, event.Type, event.ID, err)
	}
	return nil
}
