package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"go.uber.org/zap"
)

// LineItemTotal is the sum of a Checkout session's line items.
// Count is zero when Stripe returned no items.
type LineItemTotal struct {
	AmountMinor int64
	Currency    string
	Count       int
}

// StripeClientConfig configures the Stripe API client.
type StripeClientConfig struct {
	SecretKey         string
	Timeout           time.Duration
	MaxNetworkRetries int64
	// BaseURL overrides the API host, e.g. for a local test server.
	BaseURL string
}

type stripeLineItemLister struct {
	client  session.Client
	timeout time.Duration
}

// NewStripeLineItemLister returns a LineItemLister with its own backend, so no
// package-level Stripe key is needed.
func NewStripeLineItemLister(cfg StripeClientConfig, logger *zap.Logger) LineItemLister {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     logger.Named("stripe").Sugar(),
	}
	if cfg.BaseURL != "" {
		backendConfig.URL = stripe.String(cfg.BaseURL)
	}

	return &stripeLineItemLister{
		client: session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
			Key: cfg.SecretKey,
		},
		timeout: cfg.Timeout,
	}
}

// SessionTotal sums amount_total over every line item of the session, following pagination.
func (l *stripeLineItemLister) SessionTotal(ctx context.Context, sessionID string) (LineItemTotal, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	params.Context = ctx

	var total LineItemTotal
	iter := l.client.ListLineItems(params)
	for iter.Next() {
		item := iter.LineItem()
		total.AmountMinor += item.AmountTotal
		total.Count++
		if total.Currency == "" {
			total.Currency = NormalizeCurrency(string(item.Currency))
		}
	}
	if err := iter.Err(); err != nil {
		return LineItemTotal{}, fmt.Errorf("%w: listing line items of session %s: %v", ErrDownstreamUnavailable, sessionID, err)
	}
	return total, nil
}
