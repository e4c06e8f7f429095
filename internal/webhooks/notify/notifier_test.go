package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-webhooks/internal/common/errors"
	"booking-webhooks/internal/common/httpclient"
	"booking-webhooks/internal/common/logger"
	"booking-webhooks/internal/models"
	"booking-webhooks/internal/webhooks/dispatch"
	"booking-webhooks/internal/webhooks/payload"
)

// ==========================
// Test doubles
// ==========================

type fakeResolver struct {
	subs  []models.Subscription
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, userID int64, eventTypeID, teamID *int64, trigger models.TriggerKind) ([]models.Subscription, error) {
	f.calls++
	return f.subs, f.err
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []string
	failFor   map[string]error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, sub models.Subscription, trigger models.TriggerKind, createdAt time.Time, pl payload.Payload) dispatch.Outcome {
	f.mu.Lock()
	f.delivered = append(f.delivered, sub.ID)
	f.mu.Unlock()

	outcome := dispatch.Outcome{
		SubscriptionID: sub.ID,
		Endpoint:       sub.SubscriberURL,
		Trigger:        trigger,
		StatusCode:     http.StatusOK,
	}
	if err, ok := f.failFor[sub.ID]; ok {
		outcome.Err = err
		outcome.StatusCode = http.StatusInternalServerError
	}
	return outcome
}

func (f *fakeDeliverer) deliveredIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.delivered...)
}

type fakeAudit struct {
	mu       sync.Mutex
	outcomes []dispatch.Outcome
}

func (f *fakeAudit) Record(ctx context.Context, outcome dispatch.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeAudit) recorded() []dispatch.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.Outcome(nil), f.outcomes...)
}

// ==========================
// Helpers
// ==========================

func createTestSub(id string, triggers ...models.TriggerKind) models.Subscription {
	if len(triggers) == 0 {
		triggers = models.AllTriggers
	}
	return models.Subscription{
		ID:            id,
		UserID:        1,
		SubscriberURL: "https://hooks.example.com/" + id,
		Secret:        "secret-" + id,
		Active:        true,
		EventTriggers: triggers,
	}
}

func createTestRequest(trigger models.TriggerKind) Request {
	return Request{
		Trigger: trigger,
		UserID:  1,
		Event: models.CalendarEvent{
			Type:      "30 Minute Meeting",
			Title:     "30 Minute Meeting between Alice and Bob",
			StartTime: "2024-03-01T10:00:00Z",
			EndTime:   "2024-03-01T10:30:00Z",
			Organizer: models.Person{Name: "Alice", Email: "alice@example.com"},
			Attendees: []models.Person{{Name: "Bob", Email: "bob@example.com"}},
			UID:       "bk_abc123",
		},
		TriggerFields: map[string]interface{}{
			"bookingId": int64(7),
			"status":    "ACCEPTED",
		},
	}
}

// ==========================
// Fan-out behavior
// ==========================

func TestNotify_DeliversOncePerMatchingSubscriber(t *testing.T) {
	resolver := &fakeResolver{subs: []models.Subscription{
		createTestSub("sub-1"),
		createTestSub("sub-2"),
		createTestSub("sub-3"),
	}}
	deliverer := &fakeDeliverer{}
	n := NewNotifier(resolver, deliverer, nil, nil, logger.NewTestLogger(t))

	err := n.Notify(context.Background(), createTestRequest(models.TriggerBookingCreated))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"sub-1", "sub-2", "sub-3"}, deliverer.deliveredIDs())
}

func TestNotify_SkipsSubscriptionsNotSubscribedToTrigger(t *testing.T) {
	inactive := createTestSub("sub-inactive")
	inactive.Active = false

	resolver := &fakeResolver{subs: []models.Subscription{
		createTestSub("sub-all"),
		createTestSub("sub-cancel-only", models.TriggerBookingCancelled),
		inactive,
	}}
	deliverer := &fakeDeliverer{}
	n := NewNotifier(resolver, deliverer, nil, nil, logger.NewTestLogger(t))

	err := n.Notify(context.Background(), createTestRequest(models.TriggerBookingCreated))
	require.NoError(t, err)

	assert.Equal(t, []string{"sub-all"}, deliverer.deliveredIDs())
}

func TestNotify_OneFailureDoesNotAffectOthers(t *testing.T) {
	resolver := &fakeResolver{subs: []models.Subscription{
		createTestSub("sub-1"),
		createTestSub("sub-2"),
		createTestSub("sub-3"),
	}}
	deliverer := &fakeDeliverer{failFor: map[string]error{"sub-2": assert.AnError}}
	audit := &fakeAudit{}
	n := NewNotifier(resolver, deliverer, audit, nil, logger.NewTestLogger(t))

	err := n.Notify(context.Background(), createTestRequest(models.TriggerBookingCreated))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"sub-1", "sub-2", "sub-3"}, deliverer.deliveredIDs())

	outcomes := audit.recorded()
	require.Len(t, outcomes, 3)
	failed := 0
	for _, o := range outcomes {
		if !o.Ok() {
			failed++
			assert.Equal(t, "sub-2", o.SubscriptionID)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestNotify_ResolverFailureIsSwallowed(t *testing.T) {
	resolver := &fakeResolver{err: errors.NewSubscriberLookupFailedError(assert.AnError)}
	deliverer := &fakeDeliverer{}
	n := NewNotifier(resolver, deliverer, nil, nil, logger.NewTestLogger(t))

	err := n.Notify(context.Background(), createTestRequest(models.TriggerBookingCreated))
	require.NoError(t, err)

	assert.Empty(t, deliverer.deliveredIDs())
}

func TestNotify_PayloadFailureReturnsErrorBeforeResolution(t *testing.T) {
	resolver := &fakeResolver{subs: []models.Subscription{createTestSub("sub-1")}}
	deliverer := &fakeDeliverer{}
	n := NewNotifier(resolver, deliverer, nil, nil, logger.NewTestLogger(t))

	req := createTestRequest(models.TriggerBookingCreated)
	req.Event.Organizer.Email = ""

	err := n.Notify(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodePayloadValidationFailed))
	assert.Zero(t, resolver.calls)
	assert.Empty(t, deliverer.deliveredIDs())
}

func TestNotify_NoDeduplication(t *testing.T) {
	resolver := &fakeResolver{subs: []models.Subscription{createTestSub("sub-1")}}
	deliverer := &fakeDeliverer{}
	n := NewNotifier(resolver, deliverer, nil, nil, logger.NewTestLogger(t))

	req := createTestRequest(models.TriggerBookingCreated)
	require.NoError(t, n.Notify(context.Background(), req))
	require.NoError(t, n.Notify(context.Background(), req))

	assert.Equal(t, []string{"sub-1", "sub-1"}, deliverer.deliveredIDs())
}

func TestNotify_NoSubscribersIsANoOp(t *testing.T) {
	resolver := &fakeResolver{}
	deliverer := &fakeDeliverer{}
	n := NewNotifier(resolver, deliverer, nil, nil, logger.NewTestLogger(t))

	err := n.Notify(context.Background(), createTestRequest(models.TriggerBookingRescheduled))
	require.NoError(t, err)
	assert.Empty(t, deliverer.deliveredIDs())
}

// ==========================
// End-to-end through the real dispatcher
// ==========================

func TestNotify_EndToEndDelivery(t *testing.T) {
	type received struct {
		body      []byte
		signature string
	}
	var (
		mu   sync.Mutex
		hits []received
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		hits = append(hits, received{body: body, signature: r.Header.Get("X-Webhook-Signature-256")})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := createTestSub("sub-1")
	sub.SubscriberURL = server.URL

	resolver := &fakeResolver{subs: []models.Subscription{sub}}
	dispatcher := dispatch.NewDispatcher(
		httpclient.NewClient(5*time.Second),
		"X-Webhook-Signature-256",
		logger.NewTestLogger(t),
	)
	n := NewNotifier(resolver, dispatcher, nil, nil, logger.NewTestLogger(t))

	err := n.Notify(context.Background(), createTestRequest(models.TriggerBookingCancelled))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 1)
	assert.Equal(t, dispatch.Sign(sub.Secret, hits[0].body), hits[0].signature)

	var envelope struct {
		TriggerEvent string                 `json:"triggerEvent"`
		CreatedAt    string                 `json:"createdAt"`
		Payload      map[string]interface{} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(hits[0].body, &envelope))
	assert.Equal(t, "BOOKING_CANCELLED", envelope.TriggerEvent)
	assert.NotEmpty(t, envelope.CreatedAt)
	assert.Equal(t, float64(7), envelope.Payload["bookingId"])
	assert.Equal(t, "ACCEPTED", envelope.Payload["status"])
	assert.Equal(t, "alice@example.com", envelope.Payload["organizer"].(map[string]interface{})["email"])
}
