package core

import "errors"

// Sentinel errors returned by the services in this package. Handlers map them to
// status codes with errors.Is.
var (
	ErrSignatureInvalid       = errors.New("stripe webhook signature verification failed")
	ErrMissingUserCorrelation = errors.New("checkout session has no client_reference_id")
	ErrMalformedEvent         = errors.New("stripe event object could not be decoded")
	ErrDownstreamUnavailable  = errors.New("downstream dependency unavailable")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
)
