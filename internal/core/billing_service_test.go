package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/example/subscription-sync/internal/metrics"
	"github.com/example/subscription-sync/internal/models"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishChange(ctx context.Context, change models.SubscriptionChange) error {
	args := m.Called(ctx, change)
	return args.Error(0)
}

type billingFixture struct {
	svc       BillingService
	repo      *memoryRepo
	log       *memoryEventLog
	processed *memoryProcessed
	publisher *mockPublisher
	stripe    *stripeAPI
	metrics   *metrics.Metrics
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()
	api, url := newStripeAPI(t)
	f := &billingFixture{
		repo:      newMemoryRepo(),
		log:       &memoryEventLog{},
		processed: &memoryProcessed{},
		publisher: &mockPublisher{},
		stripe:    api,
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	logger := zaptest.NewLogger(t)

	svc, err := NewBillingService(BillingServiceConfig{
		Verifier:      NewStripeVerifier(testSecret, DefaultSignatureTolerance),
		LineItems:     NewStripeLineItemLister(StripeClientConfig{SecretKey: "sk_test_123", Timeout: 2 * time.Second, BaseURL: url}, logger),
		Subscriptions: f.repo,
		EventLog:      f.log,
		Processed:     f.processed,
		Publisher:     f.publisher,
		Metrics:       f.metrics,
		Logger:        logger,
		StoreTimeout:  time.Second,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *billingFixture) deliver(t *testing.T, payload []byte, header string) (WebhookResult, error) {
	t.Helper()
	return f.svc.HandleStripeWebhook(context.Background(), WebhookRequest{
		Payload:   payload,
		Signature: header,
		RequestID: "req-1",
	})
}

func TestHandleStripeWebhook_TamperedPayloadRejectedWithoutWrite(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)

	payload, header := signedEvent(t, "evt_1", EventCheckoutSessionCompleted, time.Now(), checkoutObject("user-1", "cus_1", "sub_1", 1000))
	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = ' '

	result, err := f.deliver(t, tampered, header)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Equal(t, models.OutcomeRejected, result.Outcome)
	assert.Zero(t, f.repo.writes)
	assert.Zero(t, f.stripe.calls)

	_, err = f.deliver(t, payload, "")
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Zero(t, f.repo.writes)
}

func TestHandleStripeWebhook_MonthlyCheckout(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)
	f.publisher.On("PublishChange", mock.Anything, mock.MatchedBy(func(c models.SubscriptionChange) bool {
		return c.UserID == "user-1" && c.Plan == models.PlanMonthly && c.EventType == EventCheckoutSessionCompleted
	})).Return(nil).Once()

	created := time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)
	payload, header := signedEvent(t, "evt_monthly", EventCheckoutSessionCompleted, created, checkoutObject("user-1", "cus_1", "sub_1", 1000))

	result, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Equal(t, "user-1", result.UserID)

	record := f.repo.get("user-1")
	require.NotNil(t, record)
	assert.Equal(t, models.SubscriptionStatusActive, record.Status)
	assert.Equal(t, models.PlanMonthly, record.Plan)
	assert.Equal(t, 10.0, record.Amount)
	assert.Equal(t, "USD", record.Currency)
	assert.Equal(t, "cus_1", record.ProviderCustomerID)
	assert.Equal(t, "sub_1", record.ProviderSubscriptionID)
	assert.Equal(t, "cs_test_1", record.ProviderSessionID)
	require.NotNil(t, record.NextBilling)
	assert.Equal(t, created.AddDate(0, 1, 0), *record.NextBilling)
	assert.NotNil(t, record.StartDate)
	assert.Nil(t, record.CancelledAt)

	entry, ok := f.log.get("evt_monthly")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeApplied, entry.Outcome)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.True(t, f.processed.ids["evt_monthly"])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookEvents.WithLabelValues(EventCheckoutSessionCompleted, "applied")))
	f.publisher.AssertExpectations(t)
}

func TestHandleStripeWebhook_LifetimeCheckout(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(10000, 5000)
	f.publisher.On("PublishChange", mock.Anything, mock.Anything).Return(nil)

	payload, header := signedEvent(t, "evt_lifetime", EventCheckoutSessionCompleted, time.Now(), checkoutObject("user-2", "cus_2", "", 15000))

	result, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)

	record := f.repo.get("user-2")
	require.NotNil(t, record)
	assert.Equal(t, models.PlanLifetime, record.Plan)
	assert.Equal(t, 150.0, record.Amount)
	assert.Nil(t, record.NextBilling)
	assert.Empty(t, record.ProviderSubscriptionID)
}

func TestHandleStripeWebhook_MonthlyUpgradedToLifetimeDropsRecurringFields(t *testing.T) {
	f := newBillingFixture(t)
	f.publisher.On("PublishChange", mock.Anything, mock.Anything).Return(nil)
	start := time.Now().Add(-time.Hour)

	f.stripe.setAmounts(1000)
	payload, header := signedEvent(t, "evt_a", EventCheckoutSessionCompleted, start, checkoutObject("user-3", "cus_3", "sub_3", 1000))
	_, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	firstStart := *f.repo.get("user-3").StartDate

	f.stripe.setAmounts(20000)
	payload, header = signedEvent(t, "evt_b", EventCheckoutSessionCompleted, start.Add(time.Minute), checkoutObject("user-3", "cus_3", "", 20000))
	_, err = f.deliver(t, payload, header)
	require.NoError(t, err)

	record := f.repo.get("user-3")
	assert.Equal(t, models.PlanLifetime, record.Plan)
	assert.Nil(t, record.NextBilling)
	assert.Empty(t, record.ProviderSubscriptionID)
	assert.Equal(t, firstStart, *record.StartDate)
}

func TestHandleStripeWebhook_MissingClientReferenceID(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)

	payload, header := signedEvent(t, "evt_nouser", EventCheckoutSessionCompleted, time.Now(), checkoutObject("", "cus_1", "sub_1", 1000))

	result, err := f.deliver(t, payload, header)
	assert.ErrorIs(t, err, ErrMissingUserCorrelation)
	assert.Equal(t, models.OutcomeRejected, result.Outcome)
	assert.Zero(t, f.repo.writes)

	entry, ok := f.log.get("evt_nouser")
	require.True(t, ok, "rejected events are kept for manual reconciliation")
	assert.Equal(t, models.OutcomeRejected, entry.Outcome)
	assert.NotEmpty(t, entry.Error)
	assert.False(t, f.processed.ids["evt_nouser"])
}

func TestHandleStripeWebhook_RedeliveryIsIdempotent(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)
	f.publisher.On("PublishChange", mock.Anything, mock.Anything).Return(nil)
	f.processed.err = errors.New("redis down")

	payload, header := signedEvent(t, "evt_dup", EventCheckoutSessionCompleted, time.Now(), checkoutObject("user-1", "cus_1", "sub_1", 1000))

	_, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	first := *f.repo.get("user-1")

	_, err = f.deliver(t, payload, header)
	require.NoError(t, err)
	second := *f.repo.get("user-1")

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Plan, second.Plan)
	assert.Equal(t, first.Amount, second.Amount)
	assert.Equal(t, *first.StartDate, *second.StartDate)
	assert.Equal(t, *first.NextBilling, *second.NextBilling)
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.DownstreamFailures.WithLabelValues(metrics.DependencyRedis)), "cache lookups and marks both failed on each delivery")
}

func TestHandleStripeWebhook_DuplicateShortCircuits(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)
	f.publisher.On("PublishChange", mock.Anything, mock.Anything).Return(nil).Once()

	payload, header := signedEvent(t, "evt_once", EventCheckoutSessionCompleted, time.Now(), checkoutObject("user-1", "cus_1", "sub_1", 1000))
	_, err := f.deliver(t, payload, header)
	require.NoError(t, err)

	result, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDuplicate, result.Outcome)
	assert.Equal(t, 1, f.repo.writes)
	assert.Equal(t, 1, f.stripe.calls)
	f.publisher.AssertExpectations(t)
}

func TestHandleStripeWebhook_Cancellation(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)
	f.publisher.On("PublishChange", mock.Anything, mock.Anything).Return(nil)
	base := time.Now().Add(-time.Hour)

	payload, header := signedEvent(t, "evt_buy", EventCheckoutSessionCompleted, base, checkoutObject("user-1", "cus_1", "sub_1", 1000))
	_, err := f.deliver(t, payload, header)
	require.NoError(t, err)

	payload, header = signedEvent(t, "evt_cancel", EventCustomerSubscriptionDeleted, base.Add(time.Minute), subscriptionObject("cus_1"))
	result, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Equal(t, "user-1", result.UserID)

	record := f.repo.get("user-1")
	assert.Equal(t, models.SubscriptionStatusCancelled, record.Status)
	require.NotNil(t, record.CancelledAt)
	assert.Equal(t, models.PlanMonthly, record.Plan)

	// A redelivered cancellation keeps the first cancellation time.
	cancelledAt := *record.CancelledAt
	f.processed.ids = nil
	_, err = f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, cancelledAt, *f.repo.get("user-1").CancelledAt)
}

func TestHandleStripeWebhook_CancellationWithoutMatch(t *testing.T) {
	f := newBillingFixture(t)

	payload, header := signedEvent(t, "evt_unknown", EventCustomerSubscriptionDeleted, time.Now(), subscriptionObject("cus_nobody"))
	result, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoMatch, result.Outcome)
	assert.Zero(t, f.repo.writes)

	payload, header = signedEvent(t, "evt_nocustomer", EventCustomerSubscriptionDeleted, time.Now(), subscriptionObject(""))
	result, err = f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoMatch, result.Outcome)
}

func TestHandleStripeWebhook_StaleCheckoutAfterCancellation(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)
	f.publisher.On("PublishChange", mock.Anything, mock.Anything).Return(nil)
	base := time.Now().Add(-time.Hour)

	payload, header := signedEvent(t, "evt_buy", EventCheckoutSessionCompleted, base, checkoutObject("user-1", "cus_1", "sub_1", 1000))
	_, err := f.deliver(t, payload, header)
	require.NoError(t, err)

	cancelPayload, cancelHeader := signedEvent(t, "evt_cancel", EventCustomerSubscriptionDeleted, base.Add(10*time.Minute), subscriptionObject("cus_1"))
	_, err = f.deliver(t, cancelPayload, cancelHeader)
	require.NoError(t, err)

	// An older checkout delivered late must not re-activate the user.
	payload, header = signedEvent(t, "evt_late", EventCheckoutSessionCompleted, base.Add(5*time.Minute), checkoutObject("user-1", "cus_1", "sub_1", 1000))
	result, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeStale, result.Outcome)
	assert.Equal(t, models.SubscriptionStatusCancelled, f.repo.get("user-1").Status)
}

func TestHandleStripeWebhook_IgnoredEventType(t *testing.T) {
	f := newBillingFixture(t)

	payload, header := signedEvent(t, "evt_invoice", "invoice.paid", time.Now(), map[string]interface{}{"id": "in_1", "object": "invoice"})
	result, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeIgnored, result.Outcome)
	assert.Zero(t, f.repo.writes)

	entry, ok := f.log.get("evt_invoice")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeIgnored, entry.Outcome)
}

func TestHandleStripeWebhook_LineItemFailureIsRetryable(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.fail(http.StatusInternalServerError)

	payload, header := signedEvent(t, "evt_fail", EventCheckoutSessionCompleted, time.Now(), checkoutObject("user-1", "cus_1", "sub_1", 1000))
	result, err := f.deliver(t, payload, header)
	assert.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Equal(t, models.OutcomeFailed, result.Outcome)
	assert.Zero(t, f.repo.writes)
	assert.False(t, f.processed.ids["evt_fail"], "failed events must be processed again on redelivery")
}

func TestHandleStripeWebhook_StoreFailureIsRetryable(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)
	f.repo.err = errors.New("firestore unavailable")

	payload, header := signedEvent(t, "evt_store", EventCheckoutSessionCompleted, time.Now(), checkoutObject("user-1", "cus_1", "sub_1", 1000))
	_, err := f.deliver(t, payload, header)
	assert.ErrorIs(t, err, ErrDownstreamUnavailable)

	payload, header = signedEvent(t, "evt_store_cancel", EventCustomerSubscriptionDeleted, time.Now(), subscriptionObject("cus_1"))
	_, err = f.deliver(t, payload, header)
	assert.ErrorIs(t, err, ErrDownstreamUnavailable)
}

func TestHandleStripeWebhook_CancellationOfReplacedSubscription(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)
	f.publisher.On("PublishChange", mock.Anything, mock.Anything).Return(nil)
	base := time.Now().Add(-time.Hour)

	payload, header := signedEvent(t, "evt_resubscribe", EventCheckoutSessionCompleted, base, checkoutObject("user-1", "cus_1", "sub_new", 1000))
	_, err := f.deliver(t, payload, header)
	require.NoError(t, err)

	old := subscriptionObject("cus_1")
	old["id"] = "sub_old"
	payload, header = signedEvent(t, "evt_old_cancel", EventCustomerSubscriptionDeleted, base.Add(time.Minute), old)
	result, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoMatch, result.Outcome)

	record := f.repo.get("user-1")
	assert.Equal(t, models.SubscriptionStatusActive, record.Status)
	assert.Equal(t, "sub_new", record.ProviderSubscriptionID)
	assert.Nil(t, record.CancelledAt)
}

func TestHandleStripeWebhook_HungStoreTimesOut(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)
	f.repo.hang = true

	payload, header := signedEvent(t, "evt_hung_store", EventCheckoutSessionCompleted, time.Now(), checkoutObject("user-1", "cus_1", "sub_1", 1000))
	start := time.Now()
	result, err := f.deliver(t, payload, header)
	assert.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.ErrorContains(t, err, context.DeadlineExceeded.Error())
	assert.Equal(t, models.OutcomeFailed, result.Outcome)
	assert.Less(t, time.Since(start), 3*time.Second)

	payload, header = signedEvent(t, "evt_hung_find", EventCustomerSubscriptionDeleted, time.Now(), subscriptionObject("cus_1"))
	start = time.Now()
	_, err = f.deliver(t, payload, header)
	assert.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.False(t, f.processed.ids["evt_hung_store"])
}

func TestHandleStripeWebhook_HungStripeTimesOut(t *testing.T) {
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(hung.Close)

	repo := newMemoryRepo()
	logger := zaptest.NewLogger(t)
	svc, err := NewBillingService(BillingServiceConfig{
		Verifier: NewStripeVerifier(testSecret, DefaultSignatureTolerance),
		LineItems: NewStripeLineItemLister(StripeClientConfig{
			SecretKey:         "sk_test_123",
			Timeout:           300 * time.Millisecond,
			MaxNetworkRetries: 2,
			BaseURL:           hung.URL,
		}, logger),
		Subscriptions: repo,
		EventLog:      &memoryEventLog{},
		Metrics:       metrics.New(prometheus.NewRegistry()),
		Logger:        logger,
	})
	require.NoError(t, err)

	payload, header := signedEvent(t, "evt_hung_stripe", EventCheckoutSessionCompleted, time.Now(), checkoutObject("user-1", "cus_1", "sub_1", 1000))
	start := time.Now()
	result, err := svc.HandleStripeWebhook(context.Background(), WebhookRequest{Payload: payload, Signature: header})
	assert.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Equal(t, models.OutcomeFailed, result.Outcome)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Zero(t, repo.writes)
}

func TestHandleStripeWebhook_HungQueueDoesNotHoldRequest(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)
	queue := &stuckQueue{}
	svc, err := NewBillingService(BillingServiceConfig{
		Verifier:      NewStripeVerifier(testSecret, DefaultSignatureTolerance),
		LineItems:     fixedLineItems(1000),
		Subscriptions: f.repo,
		EventLog:      f.log,
		Publisher:     NewQueueChangePublisher(queue, "subscription.changes", 100*time.Millisecond),
		Metrics:       f.metrics,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	payload, header := signedEvent(t, "evt_stuck", EventCheckoutSessionCompleted, time.Now(), checkoutObject("user-1", "cus_1", "sub_1", 1000))
	start := time.Now()
	result, err := svc.HandleStripeWebhook(context.Background(), WebhookRequest{Payload: payload, Signature: header})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, queue.attempts())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DownstreamFailures.WithLabelValues(metrics.DependencyRabbitMQ)))
}

func TestHandleStripeWebhook_PublishFailureDoesNotFailDelivery(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts(1000)
	f.publisher.On("PublishChange", mock.Anything, mock.Anything).Return(errors.New("channel closed"))

	payload, header := signedEvent(t, "evt_pub", EventCheckoutSessionCompleted, time.Now(), checkoutObject("user-1", "cus_1", "sub_1", 1000))
	result, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DownstreamFailures.WithLabelValues(metrics.DependencyRabbitMQ)))
}

func TestHandleStripeWebhook_EmptyLineItemsFallBackToSessionTotal(t *testing.T) {
	f := newBillingFixture(t)
	f.stripe.setAmounts()
	f.publisher.On("PublishChange", mock.Anything, mock.Anything).Return(nil)

	payload, header := signedEvent(t, "evt_empty", EventCheckoutSessionCompleted, time.Now(), checkoutObject("user-1", "cus_1", "", 15000))
	_, err := f.deliver(t, payload, header)
	require.NoError(t, err)
	assert.Equal(t, models.PlanLifetime, f.repo.get("user-1").Plan)
}

func TestNewBillingService_RequiresCollaborators(t *testing.T) {
	_, err := NewBillingService(BillingServiceConfig{})
	assert.Error(t, err)
}
