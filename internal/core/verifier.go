package core

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// DefaultSignatureTolerance is how old a signed timestamp may be.
const DefaultSignatureTolerance = 300 * time.Second

type stripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier returns a SignatureVerifier for the endpoint signing secret.
func NewStripeVerifier(secret string, tolerance time.Duration) SignatureVerifier {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return &stripeVerifier{secret: secret, tolerance: tolerance}
}

// Verify checks the Stripe-Signature header against the exact bytes received.
// Account API version upgrades do not cause rejections.
func (v *stripeVerifier) Verify(payload []byte, header string) (*stripe.Event, error) {
	if header == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", ErrSignatureInvalid)
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return &event, nil
}
