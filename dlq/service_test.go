package dlq_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/RestDB/outhook/delivery"
	"github.com/RestDB/outhook/dlq"
	"github.com/RestDB/outhook/event"
	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/internal/entity"
	"github.com/RestDB/outhook/store/memory"
	"github.com/RestDB/outhook/subscription"
)

func ctx() context.Context { return context.Background() }

func newService() (*dlq.Service, *memory.Store) {
	store := memory.New()
	svc := dlq.NewService(store, nil)
	return svc, store
}

func newExhausted() (*delivery.Delivery, *subscription.Subscription, *event.Event) {
	d := &delivery.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		EventID:        id.NewEventID(),
		SubscriptionID: id.NewSubscriptionID(),
		AttemptCount:   5,
		LastStatusCode: 500,
	}
	sub := &subscription.Subscription{
		Entity: entity.New(),
		ID:     d.SubscriptionID,
		URL:    "https://example.com/webhook",
	}
	evt := &event.Event{
		Entity: entity.New(),
		ID:     d.EventID,
		Type:   "order.created",
		Data:   json.RawMessage(`{"amount":100}`),
	}
	return d, sub, evt
}

func TestPushExhausted(t *testing.T) {
	svc, store := newService()

	d, sub, evt := newExhausted()
	if err := svc.PushExhausted(ctx(), d, sub, evt, "server error", 500); err != nil {
		t.Fatal(err)
	}

	entries, err := store.ListDLQ(ctx(), dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.DeliveryID != d.ID {
		t.Fatalf("delivery ID mismatch: got %v, want %v", entry.DeliveryID, d.ID)
	}
	if entry.EventID != d.EventID {
		t.Fatal("event ID mismatch")
	}
	if entry.SubscriptionID != d.SubscriptionID {
		t.Fatal("subscription ID mismatch")
	}
	if entry.EventType != "order.created" {
		t.Fatalf("event type: got %q, want %q", entry.EventType, "order.created")
	}
	if entry.URL != "https://example.com/webhook" {
		t.Fatal("URL mismatch")
	}
	if entry.Error != "server error" {
		t.Fatalf("error: got %q, want %q", entry.Error, "server error")
	}
	if entry.AttemptCount != 5 {
		t.Fatalf("attempt count: got %d, want 5", entry.AttemptCount)
	}
	if entry.LastStatusCode != 500 {
		t.Fatalf("status code: got %d, want 500", entry.LastStatusCode)
	}
	if entry.FailedAt.IsZero() {
		t.Fatal("expected failed_at to be set")
	}
}

func TestPushMultipleAndList(t *testing.T) {
	svc, _ := newService()

	for range 3 {
		d, sub, evt := newExhausted()
		if err := svc.PushExhausted(ctx(), d, sub, evt, "err", 500); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := svc.List(ctx(), dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestGetDLQEntry(t *testing.T) {
	svc, _ := newService()

	d, sub, evt := newExhausted()
	if err := svc.PushExhausted(ctx(), d, sub, evt, "err", 500); err != nil {
		t.Fatal(err)
	}

	entries, _ := svc.List(ctx(), dlq.ListOpts{Limit: 1})
	if len(entries) == 0 {
		t.Fatal("expected at least 1 entry")
	}

	got, err := svc.Get(ctx(), entries[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != entries[0].ID {
		t.Fatal("ID mismatch on Get")
	}
}

func TestCount(t *testing.T) {
	svc, _ := newService()

	count, err := svc.Count(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}

	for range 5 {
		d, sub, evt := newExhausted()
		svc.PushExhausted(ctx(), d, sub, evt, "err", 500)
	}

	count, err = svc.Count(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Fatalf("expected 5, got %d", count)
	}
}

func TestReplay(t *testing.T) {
	svc, store := newService()

	d, sub, evt := newExhausted()
	svc.PushExhausted(ctx(), d, sub, evt, "err", 500)

	entries, _ := svc.List(ctx(), dlq.ListOpts{Limit: 1})
	if len(entries) == 0 {
		t.Fatal("expected entry")
	}

	if err := svc.Replay(ctx(), entries[0].ID); err != nil {
		t.Fatal(err)
	}

	// The entry stays as an audit record with replayed_at set.
	got, _ := store.GetDLQ(ctx(), entries[0].ID)
	if got.ReplayedAt == nil {
		t.Fatal("expected replayed_at to be set")
	}

	// A fresh pending delivery was queued.
	pending, err := store.CountPending(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending delivery after replay, got %d", pending)
	}
}

func TestReplayLatest(t *testing.T) {
	svc, store := newService()

	d, sub, evt := newExhausted()
	svc.PushExhausted(ctx(), d, sub, evt, "err", 500)

	replayed, err := svc.ReplayLatest(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !replayed {
		t.Fatal("expected a replay to happen")
	}

	// Replaying again finds nothing unreplayed.
	replayed, err = svc.ReplayLatest(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if replayed {
		t.Fatal("expected no second replay")
	}

	// No entry for an unrelated subscription.
	replayed, err = svc.ReplayLatest(ctx(), id.NewSubscriptionID())
	if err != nil {
		t.Fatal(err)
	}
	if replayed {
		t.Fatal("expected no replay for unknown subscription")
	}

	pending, _ := store.CountPending(ctx())
	if pending != 1 {
		t.Fatalf("expected exactly 1 pending delivery, got %d", pending)
	}
}

func TestReplayBulk(t *testing.T) {
	svc, _ := newService()

	for range 3 {
		d, sub, evt := newExhausted()
		svc.PushExhausted(ctx(), d, sub, evt, "err", 500)
	}

	count, err := svc.ReplayBulk(ctx(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("expected 3 replayed, got %d", count)
	}

	// Already-replayed entries are skipped on a second pass.
	count, err = svc.ReplayBulk(ctx(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0 on second pass, got %d", count)
	}
}

func TestPurge(t *testing.T) {
	svc, _ := newService()

	for range 3 {
		d, sub, evt := newExhausted()
		svc.PushExhausted(ctx(), d, sub, evt, "err", 500)
	}

	// Purge entries before "now + 1 second" should remove all.
	purged, err := svc.Purge(ctx(), time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 3 {
		t.Fatalf("expected 3 purged, got %d", purged)
	}

	count, _ := svc.Count(ctx())
	if count != 0 {
		t.Fatalf("expected 0 after purge, got %d", count)
	}
}
