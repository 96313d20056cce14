package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/subscription-sync/internal/db"
	"github.com/example/subscription-sync/internal/metrics"
	"github.com/example/subscription-sync/internal/models"
)

// WebhookRequest carries one delivery through the pipeline. A new value is built for
// every HTTP request and nothing in it is shared between requests.
type WebhookRequest struct {
	Payload    []byte
	Signature  string
	RequestID  string
	Logger     *zap.Logger
	ReceivedAt time.Time
}

// WebhookResult describes how a delivery ended.
type WebhookResult struct {
	EventID   string
	EventType string
	Outcome   models.WebhookOutcome
	UserID    string
}

// BillingServiceConfig lists the collaborators of the webhook pipeline.
// Processed and Publisher are optional.
type BillingServiceConfig struct {
	Verifier      SignatureVerifier
	LineItems     LineItemLister
	Subscriptions db.SubscriptionRepository
	EventLog      EventLogService
	Processed     ProcessedEventCache
	Publisher     ChangePublisher
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	StoreTimeout  time.Duration
}

// billingService implements the BillingService interface.
type billingService struct {
	verifier     SignatureVerifier
	lineItems    LineItemLister
	subs         db.SubscriptionRepository
	eventLog     EventLogService
	processed    ProcessedEventCache
	publisher    ChangePublisher
	metrics      *metrics.Metrics
	logger       *zap.Logger
	storeTimeout time.Duration
}

// NewBillingService creates a new BillingService instance.
func NewBillingService(cfg BillingServiceConfig) (BillingService, error) {
	switch {
	case cfg.Verifier == nil:
		return nil, errors.New("billing service: verifier is required")
	case cfg.LineItems == nil:
		return nil, errors.New("billing service: line item lister is required")
	case cfg.Subscriptions == nil:
		return nil, errors.New("billing service: subscription repository is required")
	case cfg.EventLog == nil:
		return nil, errors.New("billing service: event log is required")
	case cfg.Metrics == nil:
		return nil, errors.New("billing service: metrics are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	return &billingService{
		verifier:     cfg.Verifier,
		lineItems:    cfg.LineItems,
		subs:         cfg.Subscriptions,
		eventLog:     cfg.EventLog,
		processed:    cfg.Processed,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		storeTimeout: cfg.StoreTimeout,
	}, nil
}

// HandleStripeWebhook verifies, classifies and applies one delivery.
//
// Returned errors wrap ErrSignatureInvalid, ErrMissingUserCorrelation or ErrMalformedEvent
// when the delivery must be rejected, and ErrDownstreamUnavailable when it should be
// retried. Every other path, including ignored types and unmatched customers, returns nil.
func (s *billingService) HandleStripeWebhook(ctx context.Context, req WebhookRequest) (WebhookResult, error) {
	logger := req.Logger
	if logger == nil {
		logger = s.logger
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now()
	}

	event, err := s.verifier.Verify(req.Payload, req.Signature)
	if err != nil {
		logger.Warn("Rejected webhook with invalid signature", zap.Error(err))
		s.observe("unverified", models.OutcomeRejected, req.ReceivedAt)
		return WebhookResult{Outcome: models.OutcomeRejected}, err
	}

	result := WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	logger = logger.With(zap.String("event_id", event.ID), zap.String("event_type", result.EventType))

	if s.alreadyProcessed(ctx, event.ID, logger) {
		logger.Info("Duplicate delivery acknowledged")
		result.Outcome = models.OutcomeDuplicate
		s.observe(result.EventType, result.Outcome, req.ReceivedAt)
		return result, nil
	}

	entry := models.WebhookEventLog{
		ID:        event.ID,
		Type:      result.EventType,
		RequestID: req.RequestID,
		EventTime: time.Unix(event.Created, 0).UTC(),
	}

	transition, err := Classify(event)
	if err != nil {
		// Signature was valid, so redelivery cannot fix this event; it needs manual reconciliation.
		logger.Error("Rejected verified webhook event", zap.Error(err))
		result.Outcome = models.OutcomeRejected
		entry.Outcome = result.Outcome
		entry.Error = err.Error()
		s.record(ctx, entry, logger)
		s.observe(result.EventType, result.Outcome, req.ReceivedAt)
		return result, err
	}

	var change *models.SubscriptionChange
	switch t := transition.(type) {
	case CheckoutCompleted:
		entry.UserID, entry.CustomerID = t.UserID, t.CustomerID
		result.UserID = t.UserID
		result.Outcome, change, err = s.applyCheckout(ctx, t, logger)
	case SubscriptionCancelled:
		entry.CustomerID = t.CustomerID
		result.Outcome, change, err = s.applyCancellation(ctx, t, logger)
		if change != nil {
			result.UserID = change.UserID
			entry.UserID = change.UserID
		}
	case Ignored:
		logger.Debug("Ignoring unhandled event type")
		result.Outcome = models.OutcomeIgnored
	}

	if err != nil {
		logger.Error("Failed to apply webhook event", zap.Error(err))
		result.Outcome = models.OutcomeFailed
		entry.Outcome = result.Outcome
		entry.Error = err.Error()
		s.record(ctx, entry, logger)
		s.observe(result.EventType, result.Outcome, req.ReceivedAt)
		return result, err
	}

	s.markProcessed(ctx, event.ID, logger)
	if change != nil {
		change.EventType = result.EventType
		s.publish(ctx, *change, logger)
	}
	entry.Outcome = result.Outcome
	s.record(ctx, entry, logger)
	s.observe(result.EventType, result.Outcome, req.ReceivedAt)

	logger.Info("Webhook event handled", zap.String("outcome", string(result.Outcome)), zap.String("user_id", result.UserID))
	return result, nil
}

// applyCheckout activates the user, choosing the plan from the line-item total.
func (s *billingService) applyCheckout(ctx context.Context, t CheckoutCompleted, logger *zap.Logger) (models.WebhookOutcome, *models.SubscriptionChange, error) {
	total, err := s.lineItems.SessionTotal(ctx, t.SessionID)
	if err != nil {
		s.metrics.DownstreamFailures.WithLabelValues(metrics.DependencyStripe).Inc()
		return "", nil, err
	}

	amountMinor, currency := total.AmountMinor, total.Currency
	if total.Count == 0 {
		logger.Warn("Checkout session has no line items, using session total", zap.String("session_id", t.SessionID))
		amountMinor = t.SessionAmountTotal
	}
	if currency == "" {
		currency = t.Currency
	}
	if amountMinor < 0 {
		amountMinor = 0
	}

	patch := CheckoutPatch(t, amountMinor, currency)
	applied, err := s.upsert(ctx, t.UserID, patch)
	if err != nil {
		return "", nil, err
	}
	if !applied {
		logger.Warn("Skipped checkout older than the stored record", zap.String("user_id", t.UserID))
		return models.OutcomeStale, nil, nil
	}

	s.metrics.SubscriptionWrites.WithLabelValues(string(*patch.Status), string(*patch.Plan)).Inc()
	return models.OutcomeApplied, &models.SubscriptionChange{
		EventID:    t.EventID,
		UserID:     t.UserID,
		Status:     *patch.Status,
		Plan:       *patch.Plan,
		Amount:     *patch.Amount,
		Currency:   *patch.Currency,
		OccurredAt: t.EventTime,
	}, nil
}

// applyCancellation cancels the user holding the Stripe customer. An unknown customer, or a
// subscription other than the stored one, is not an error.
func (s *billingService) applyCancellation(ctx context.Context, t SubscriptionCancelled, logger *zap.Logger) (models.WebhookOutcome, *models.SubscriptionChange, error) {
	if t.CustomerID == "" {
		logger.Warn("Subscription cancellation without customer")
		return models.OutcomeNoMatch, nil, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	record, err := s.subs.FindByCustomerID(storeCtx, t.CustomerID)
	cancel()
	if errors.Is(err, db.ErrNotFound) {
		logger.Warn("No user for cancelled customer", zap.String("customer_id", t.CustomerID))
		return models.OutcomeNoMatch, nil, nil
	}
	if err != nil {
		s.metrics.DownstreamFailures.WithLabelValues(metrics.DependencyFirestore).Inc()
		return "", nil, fmt.Errorf("%w: finding customer %s: %v", ErrDownstreamUnavailable, t.CustomerID, err)
	}

	// A late deletion of a replaced subscription must not cancel the current one.
	if t.SubscriptionID != "" && record.ProviderSubscriptionID != "" && t.SubscriptionID != record.ProviderSubscriptionID {
		logger.Warn("Cancelled subscription is not the user's current one",
			zap.String("user_id", record.UserID),
			zap.String("subscription_id", t.SubscriptionID),
			zap.String("current_subscription_id", record.ProviderSubscriptionID))
		return models.OutcomeNoMatch, nil, nil
	}

	patch := CancellationPatch(t)
	applied, err := s.upsert(ctx, record.UserID, patch)
	if err != nil {
		return "", nil, err
	}
	if !applied {
		logger.Warn("Skipped cancellation older than the stored record", zap.String("user_id", record.UserID))
		return models.OutcomeStale, nil, nil
	}

	s.metrics.SubscriptionWrites.WithLabelValues(string(models.SubscriptionStatusCancelled), string(record.Plan)).Inc()
	return models.OutcomeApplied, &models.SubscriptionChange{
		EventID:    t.EventID,
		UserID:     record.UserID,
		Status:     models.SubscriptionStatusCancelled,
		Plan:       record.Plan,
		OccurredAt: t.EventTime,
	}, nil
}

func (s *billingService) upsert(ctx context.Context, userID string, patch models.SubscriptionPatch) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	applied, err := s.subs.Upsert(ctx, userID, patch)
	if err != nil {
		s.metrics.DownstreamFailures.WithLabelValues(metrics.DependencyFirestore).Inc()
		return false, fmt.Errorf("%w: writing subscription of user %s: %v", ErrDownstreamUnavailable, userID, err)
	}
	return applied, nil
}

func (s *billingService) alreadyProcessed(ctx context.Context, eventID string, logger *zap.Logger) bool {
	if s.processed == nil {
		return false
	}
	seen, err := s.processed.Seen(ctx, eventID)
	if err != nil {
		// The write is idempotent, so processing continues without the cache.
		logger.Warn("Processed-event lookup failed", zap.Error(err))
		s.metrics.DownstreamFailures.WithLabelValues(metrics.DependencyRedis).Inc()
		return false
	}
	return seen
}

func (s *billingService) markProcessed(ctx context.Context, eventID string, logger *zap.Logger) {
	if s.processed == nil {
		return
	}
	if err := s.processed.MarkProcessed(ctx, eventID); err != nil {
		logger.Warn("Failed to mark event processed", zap.Error(err))
		s.metrics.DownstreamFailures.WithLabelValues(metrics.DependencyRedis).Inc()
	}
}

func (s *billingService) publish(ctx context.Context, change models.SubscriptionChange, logger *zap.Logger) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, change); err != nil {
		logger.Warn("Failed to publish subscription change", zap.Error(err))
		s.metrics.DownstreamFailures.WithLabelValues(metrics.DependencyRabbitMQ).Inc()
	}
}

func (s *billingService) record(ctx context.Context, entry models.WebhookEventLog, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	if err := s.eventLog.Record(ctx, entry); err != nil {
		logger.Warn("Failed to record webhook event", zap.Error(err))
		s.metrics.DownstreamFailures.WithLabelValues(metrics.DependencyFirestore).Inc()
	}
}

func (s *billingService) observe(eventType string, outcome models.WebhookOutcome, receivedAt time.Time) {
	s.metrics.WebhookEvents.WithLabelValues(eventType, string(outcome)).Inc()
	s.metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(receivedAt).Seconds())
}
