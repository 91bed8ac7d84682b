package outhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RestDB/outhook"
	"github.com/RestDB/outhook/delivery"
	"github.com/RestDB/outhook/event"
	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/internal/entity"
	"github.com/RestDB/outhook/store/memory"
	"github.com/RestDB/outhook/subscription"
)

func ctx() context.Context { return context.Background() }

func setup(t *testing.T, opts ...outhook.Option) (*outhook.Outhook, *memory.Store) {
	t.Helper()
	s := memory.New()
	o, err := outhook.New(append([]outhook.Option{outhook.WithStore(s)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return o, s
}

func createSubscription(t *testing.T, o *outhook.Outhook, url string, patterns []string) *subscription.Subscription {
	t.Helper()
	sub, err := o.CreateSubscription(ctx(), subscription.Input{
		URL:    url,
		Events: patterns,
	})
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

func TestTriggerHappyPath(t *testing.T) {
	o, s := setup(t)

	createSubscription(t, o, "https://example.com/a", []string{"invoice.*"})
	createSubscription(t, o, "https://example.com/b", []string{"*"})

	evt, err := o.Trigger(ctx(), "invoice.created", map[string]any{"amount": 100})
	if err != nil {
		t.Fatal(err)
	}

	// Event should be persisted with an assigned ID.
	if evt.ID.String() == "" {
		t.Fatal("expected event ID to be assigned")
	}
	got, err := s.GetEvent(ctx(), evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != "invoice.created" {
		t.Fatalf("expected persisted event, got type %q", got.Type)
	}

	// 2 subscriptions matched, so 2 deliveries.
	pending, _ := s.CountPending(ctx())
	if pending != 2 {
		t.Fatalf("expected 2 pending deliveries, got %d", pending)
	}

	deliveries, _ := s.ListByEvent(ctx(), evt.ID)
	if len(deliveries) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(deliveries))
	}
	for _, d := range deliveries {
		if d.State != delivery.StatePending {
			t.Fatalf("expected pending, got %s", d.State)
		}
	}
}

func TestTriggerEmptyEventType(t *testing.T) {
	o, _ := setup(t)

	_, err := o.Trigger(ctx(), "", map[string]any{})
	if !errors.Is(err, outhook.ErrEmptyEventType) {
		t.Fatalf("expected ErrEmptyEventType, got %v", err)
	}
}

func TestTriggerSchemaValidationFailure(t *testing.T) {
	o, _ := setup(t, outhook.WithSchema("validated.event", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"amount": map[string]any{"type": "number"},
		},
		"required": []any{"amount"},
	}))

	// Missing required field.
	_, err := o.Trigger(ctx(), "validated.event", map[string]any{"other": "value"})
	if !errors.Is(err, outhook.ErrPayloadValidationFailed) {
		t.Fatalf("expected ErrPayloadValidationFailed, got %v", err)
	}
}

func TestTriggerSchemaValidationSuccess(t *testing.T) {
	o, _ := setup(t, outhook.WithSchema("validated.event", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"amount": map[string]any{"type": "number"},
		},
		"required": []any{"amount"},
	}))

	createSubscription(t, o, "https://example.com/webhook", []string{"validated.event"})

	if _, err := o.Trigger(ctx(), "validated.event", map[string]any{"amount": 42.5}); err != nil {
		t.Fatal(err)
	}

	// Unregistered types stay opaque.
	if _, err := o.Trigger(ctx(), "other.event", map[string]any{"anything": true}); err != nil {
		t.Fatal(err)
	}
}

func TestTriggerIdempotencyKeyNoOp(t *testing.T) {
	o, s := setup(t)

	createSubscription(t, o, "https://example.com/webhook", []string{"*"})

	if _, err := o.Trigger(ctx(), "invoice.created", map[string]any{"v": 1},
		outhook.WithIdempotencyKey("idem-1")); err != nil {
		t.Fatal(err)
	}

	// First trigger should create 1 delivery.
	count1, _ := s.CountPending(ctx())
	if count1 != 1 {
		t.Fatalf("expected 1, got %d", count1)
	}

	// Second trigger with the same key is a no-op.
	if _, err := o.Trigger(ctx(), "invoice.created", map[string]any{"v": 2},
		outhook.WithIdempotencyKey("idem-1")); err != nil {
		t.Fatal("expected no-op, got:", err)
	}

	count2, _ := s.CountPending(ctx())
	if count2 != 1 {
		t.Fatalf("expected still 1 (idempotent), got %d", count2)
	}
}

func TestTriggerNoMatchingSubscriptions(t *testing.T) {
	o, s := setup(t)

	evt, err := o.Trigger(ctx(), "invoice.created", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}

	// Event should be persisted even with no subscriptions.
	got, err := s.GetEvent(ctx(), evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != "invoice.created" {
		t.Fatal("expected persisted event")
	}

	pending, _ := s.CountPending(ctx())
	if pending != 0 {
		t.Fatalf("expected 0 pending, got %d", pending)
	}
}

func TestTriggerFanout(t *testing.T) {
	o, s := setup(t)

	for i := 0; i < 5; i++ {
		createSubscription(t, o, "https://example.com/webhook", []string{"order.*"})
	}

	if _, err := o.Trigger(ctx(), "order.completed", map[string]any{"order_id": "abc"}); err != nil {
		t.Fatal(err)
	}

	pending, _ := s.CountPending(ctx())
	if pending != 5 {
		t.Fatalf("expected 5 deliveries (fan-out), got %d", pending)
	}
}

func TestTriggerSkipsNonActiveSubscriptions(t *testing.T) {
	o, s := setup(t)

	active := createSubscription(t, o, "https://example.com/active", []string{"*"})
	disabled := createSubscription(t, o, "https://example.com/disabled", []string{"*"})

	if err := s.SetStatus(ctx(), disabled.ID, subscription.StatusDisabled); err != nil {
		t.Fatal(err)
	}

	// A subscription awaiting its handshake is not deliverable either.
	pending, err := o.Subscriptions().Create(ctx(), subscription.Input{
		URL:    "https://example.com/pending",
		Events: []string{"*"},
		Mode:   subscription.ModeStripe,
	})
	if err != nil {
		t.Fatal(err)
	}
	if pending.Status != subscription.StatusPendingVerification {
		t.Fatalf("expected pending_verification, got %s", pending.Status)
	}

	evt, err := o.Trigger(ctx(), "invoice.created", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}

	deliveries, _ := s.ListByEvent(ctx(), evt.ID)
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	if deliveries[0].SubscriptionID != active.ID {
		t.Fatal("expected the delivery to target the active subscription")
	}
}

func TestCreateSubscriptionHandshakeLeavesReturnedRecordUntouched(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o, s := setup(t)

	sub, err := o.CreateSubscription(ctx(), subscription.Input{
		URL:    srv.URL,
		Events: []string{"*"},
		Mode:   subscription.ModeStripe,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusPendingVerification {
		t.Fatalf("expected pending_verification, got %s", sub.Status)
	}

	// Read the returned record while the handshake completes. The handshake
	// goroutine works on its own copy, so these reads are safe.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if _, marshalErr := json.Marshal(sub); marshalErr != nil {
				t.Errorf("marshal returned record: %v", marshalErr)
			}
		}
	}()
	close(release)
	<-done

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, getErr := s.GetSubscription(ctx(), sub.ID)
		if getErr != nil {
			t.Fatal(getErr)
		}
		if got.Status == subscription.StatusActive {
			if sub.Status != subscription.StatusPendingVerification {
				t.Fatal("returned record must not be mutated by the handshake")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("handshake never activated the subscription")
}

func TestVerifySubscriptionReturnsRecordedOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o, s := setup(t)

	sub, err := o.Subscriptions().Create(ctx(), subscription.Input{
		URL:    srv.URL,
		Events: []string{"*"},
		Mode:   subscription.ModeStripe,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := o.VerifySubscription(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != subscription.StatusActive {
		t.Fatalf("expected active, got %s", got.Status)
	}

	stored, _ := s.GetSubscription(ctx(), sub.ID)
	if stored.Status != subscription.StatusActive {
		t.Fatalf("expected active in store, got %s", stored.Status)
	}
}

func TestRetrySubscription(t *testing.T) {
	o, s := setup(t)

	sub := createSubscription(t, o, "https://example.com/webhook", []string{"*"})
	if err := s.SetStatus(ctx(), sub.ID, subscription.StatusFailed); err != nil {
		t.Fatal(err)
	}

	// Leave an exhausted delivery in the DLQ.
	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: sub.ID,
		AttemptCount:   5,
		LastStatusCode: 500,
	}
	evt := &event.Event{
		Entity: entity.New(),
		ID:     d.EventID,
		Type:   "order.created",
		Data:   map[string]any{"n": 1},
	}
	if err := o.DLQ().PushExhausted(ctx(), d, sub, evt, "server error", 500); err != nil {
		t.Fatal(err)
	}

	got, err := o.RetrySubscription(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != subscription.StatusActive {
		t.Fatalf("expected active after retry, got %s", got.Status)
	}
	if got.ConsecutiveFailures != 0 {
		t.Fatalf("expected failure streak reset, got %d", got.ConsecutiveFailures)
	}

	// The latest DLQ entry was re-enqueued.
	pending, _ := s.CountPending(ctx())
	if pending != 1 {
		t.Fatalf("expected 1 replayed delivery, got %d", pending)
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := outhook.New()
	if !errors.Is(err, outhook.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestEndToEndDelivery(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o, s := setup(t,
		outhook.WithConcurrency(2),
		outhook.WithPollInterval(20*time.Millisecond),
		outhook.WithBatchSize(10),
	)

	createSubscription(t, o, srv.URL, []string{"order.*"})

	o.Start(ctx())
	defer o.Stop(ctx())

	evt, err := o.Trigger(ctx(), "order.created", map[string]any{"order_id": "abc"})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		deliveries, _ := s.ListByEvent(ctx(), evt.ID)
		if len(deliveries) == 1 && deliveries[0].State == delivery.StateDelivered {
			if hits.Load() != 1 {
				t.Fatalf("expected 1 request, got %d", hits.Load())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("delivery never completed")
}
