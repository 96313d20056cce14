package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/example/subscription-sync/internal/db"
	"github.com/example/subscription-sync/internal/models"
	"github.com/example/subscription-sync/pkg/messagequeue"
)

const testSecret = "whsec_test_secret"

// signedEvent builds an event body and a valid Stripe-Signature header for it.
func signedEvent(t *testing.T, id, eventType string, created time.Time, object map[string]interface{}) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created.Unix(),
		"api_version": "2025-03-31.basil",
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func checkoutObject(userID, customerID, subscriptionID string, amountTotal int64) map[string]interface{} {
	obj := map[string]interface{}{
		"id":           "cs_test_1",
		"object":       "checkout.session",
		"currency":     "usd",
		"amount_total": amountTotal,
		"customer":     customerID,
	}
	if userID != "" {
		obj["client_reference_id"] = userID
	}
	if subscriptionID != "" {
		obj["subscription"] = subscriptionID
	}
	return obj
}

func subscriptionObject(customerID string) map[string]interface{} {
	obj := map[string]interface{}{
		"id":     "sub_1",
		"object": "subscription",
		"status": "canceled",
	}
	if customerID != "" {
		obj["customer"] = customerID
	}
	return obj
}

// memoryRepo is an in-memory SubscriptionRepository that applies patches the way Firestore does.
type memoryRepo struct {
	mu      sync.Mutex
	records map[string]*models.SubscriptionRecord
	writes  int
	err     error
	now     func() time.Time
	// hang makes store calls wait for ctx to end, like an unresponsive Firestore.
	hang bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: map[string]*models.SubscriptionRecord{}, now: time.Now}
}

func (m *memoryRepo) Upsert(ctx context.Context, userID string, patch models.SubscriptionPatch) (bool, error) {
	if m.hang {
		<-ctx.Done()
		return false, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	current := m.records[userID]
	if patch.IsStale(current) {
		return false, nil
	}
	if current == nil {
		current = &models.SubscriptionRecord{UserID: userID}
		m.records[userID] = current
	}
	patch.ApplyTo(current, m.now())
	m.writes++
	return true, nil
}

func (m *memoryRepo) FindByCustomerID(ctx context.Context, customerID string) (*models.SubscriptionRecord, error) {
	if m.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, r := range m.records {
		if r.ProviderCustomerID == customerID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memoryRepo) GetByUserID(ctx context.Context, userID string) (*models.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.records[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *memoryRepo) get(userID string) *models.SubscriptionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[userID]
}

type memoryEventLog struct {
	mu      sync.Mutex
	entries map[string]models.WebhookEventLog
}

func (m *memoryEventLog) Record(ctx context.Context, entry models.WebhookEventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string]models.WebhookEventLog{}
	}
	m.entries[entry.ID] = entry
	return nil
}

func (m *memoryEventLog) get(id string) (models.WebhookEventLog, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

type memoryProcessed struct {
	mu  sync.Mutex
	ids map[string]bool
	err error
}

func (m *memoryProcessed) Seen(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.ids[eventID], nil
}

func (m *memoryProcessed) MarkProcessed(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.ids == nil {
		m.ids = map[string]bool{}
	}
	m.ids[eventID] = true
	return nil
}

// stripeAPI serves /v1/checkout/sessions/{id}/line_items with the given amounts.
type stripeAPI struct {
	mu      sync.Mutex
	amounts []int64
	status  int
	calls   int
}

func (s *stripeAPI) setAmounts(amounts ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amounts = amounts
	s.status = http.StatusOK
}

func (s *stripeAPI) fail(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *stripeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	w.Header().Set("Content-Type", "application/json")
	if !strings.HasSuffix(r.URL.Path, "/line_items") {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"unknown path"}}`))
		return
	}
	if s.status != http.StatusOK {
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
		return
	}

	items := make([]string, 0, len(s.amounts))
	for i, amount := range s.amounts {
		items = append(items, fmt.Sprintf(`{"id":"li_%d","object":"item","amount_total":%d,"currency":"usd","quantity":1}`, i, amount))
	}
	fmt.Fprintf(w, `{"object":"list","url":"%s","has_more":false,"data":[%s]}`, r.URL.Path, strings.Join(items, ","))
}

func newStripeAPI(t *testing.T) (*stripeAPI, string) {
	t.Helper()
	api := &stripeAPI{status: http.StatusOK}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv.URL
}

// fixedLineItems reports one line item with the given total in USD.
type fixedLineItems int64

func (f fixedLineItems) SessionTotal(ctx context.Context, sessionID string) (LineItemTotal, error) {
	return LineItemTotal{AmountMinor: int64(f), Currency: "USD", Count: 1}, nil
}

// stuckQueue never accepts a message, like a broker that has blocked the connection.
type stuckQueue struct {
	mu    sync.Mutex
	calls int
}

func (q *stuckQueue) Publish(ctx context.Context, queueName string, body []byte) error {
	q.mu.Lock()
	q.calls++
	q.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (q *stuckQueue) Consume(ctx context.Context, queueName string, handler messagequeue.Handler) error {
	<-ctx.Done()
	return nil
}

func (q *stuckQueue) Close() error { return nil }

func (q *stuckQueue) attempts() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}
