package subscription_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	outhook "github.com/RestDB/outhook"
	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/store/memory"
	"github.com/RestDB/outhook/subscription"
)

func ctx() context.Context { return context.Background() }

func newRegistry() (*subscription.Registry, *memory.Store) {
	s := memory.New()
	return subscription.NewRegistry(s, subscription.Config{}, nil), s
}

func TestRegistryCreate(t *testing.T) {
	reg, _ := newRegistry()

	sub, err := reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"order.*"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if sub.ID.String() == "" {
		t.Fatal("expected non-empty ID")
	}
	if !strings.HasPrefix(sub.Secret, "whsec_") {
		t.Fatalf("expected auto-generated secret, got %q", sub.Secret)
	}
	if sub.Status != subscription.StatusActive {
		t.Fatalf("expected active without verification mode, got %q", sub.Status)
	}
}

func TestRegistryCreatePendingVerification(t *testing.T) {
	reg, _ := newRegistry()

	sub, err := reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"*"},
		Mode:   subscription.ModeStripe,
	})
	if err != nil {
		t.Fatal(err)
	}

	if sub.Status != subscription.StatusPendingVerification {
		t.Fatalf("expected pending_verification, got %q", sub.Status)
	}
}

func TestRegistryCreateValidation(t *testing.T) {
	reg, _ := newRegistry()

	// Missing URL
	_, err := reg.Create(ctx(), subscription.Input{
		Events: []string{"*"},
	})
	if err == nil {
		t.Fatal("expected error for missing URL")
	}

	// Relative URL
	_, err = reg.Create(ctx(), subscription.Input{
		URL:    "/webhook",
		Events: []string{"*"},
	})
	if err == nil {
		t.Fatal("expected error for relative URL")
	}

	// Unsupported scheme
	_, err = reg.Create(ctx(), subscription.Input{
		URL:    "ftp://example.com/webhook",
		Events: []string{"*"},
	})
	if err == nil {
		t.Fatal("expected error for non-http scheme")
	}

	// Missing events
	_, err = reg.Create(ctx(), subscription.Input{
		URL: "https://example.com/webhook",
	})
	if err == nil {
		t.Fatal("expected error for missing events")
	}

	// Unknown verification mode
	_, err = reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"*"},
		Mode:   subscription.Mode("carrier-pigeon"),
	})
	var verr *subscription.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for unknown mode, got %v", err)
	}
}

func TestRegistryGetUpdateDelete(t *testing.T) {
	reg, _ := newRegistry()

	sub, _ := reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"*"},
	})

	// Get
	got, err := reg.Get(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "https://example.com/webhook" {
		t.Fatalf("got URL %q", got.URL)
	}

	// Update
	newURL := "https://example.com/hooks/v2"
	updated, err := reg.Update(ctx(), sub.ID, subscription.Patch{
		URL:    &newURL,
		Events: []string{"order.created", "order.paid"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.URL != newURL {
		t.Fatalf("expected updated URL, got %q", updated.URL)
	}
	if len(updated.Events) != 2 {
		t.Fatalf("expected 2 event patterns, got %d", len(updated.Events))
	}

	// Delete
	if err := reg.Delete(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}

	_, err = reg.Get(ctx(), sub.ID)
	if !errors.Is(err, outhook.ErrSubscriptionNotFound) {
		t.Fatalf("expected deleted, got %v", err)
	}
}

func TestRegistryUpdateStatusRestrictions(t *testing.T) {
	reg, _ := newRegistry()

	sub, _ := reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"*"},
	})

	// Operators may toggle active and disabled.
	disabled := subscription.StatusDisabled
	updated, err := reg.Update(ctx(), sub.ID, subscription.Patch{Status: &disabled})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != subscription.StatusDisabled {
		t.Fatalf("expected disabled, got %q", updated.Status)
	}

	// Failed cannot be set directly.
	failed := subscription.StatusFailed
	_, err = reg.Update(ctx(), sub.ID, subscription.Patch{Status: &failed})
	var verr *subscription.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for direct failed status, got %v", err)
	}
}

func TestRegistryUpdateDropsVerification(t *testing.T) {
	reg, _ := newRegistry()

	sub, _ := reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"*"},
		Mode:   subscription.ModeSlack,
	})
	if sub.Status != subscription.StatusPendingVerification {
		t.Fatalf("precondition: expected pending, got %q", sub.Status)
	}

	// Switching to no verification while unverified activates immediately.
	none := subscription.ModeNone
	updated, err := reg.Update(ctx(), sub.ID, subscription.Patch{Mode: &none})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != subscription.StatusActive {
		t.Fatalf("expected active after dropping verification, got %q", updated.Status)
	}
}

func TestRegistryList(t *testing.T) {
	reg, _ := newRegistry()

	for i := 0; i < 3; i++ {
		_, _ = reg.Create(ctx(), subscription.Input{
			URL:    "https://example.com/webhook",
			Events: []string{"order.*"},
		})
	}
	_, _ = reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"invoice.paid"},
	})

	list, err := reg.List(ctx(), subscription.ListOpts{Event: "order.created"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3, got %d", len(list))
	}
}

func TestRegistryRecordOutcomeConcurrent(t *testing.T) {
	s := memory.New()
	reg := subscription.NewRegistry(s, subscription.Config{FailureCeiling: 5}, nil)

	sub, _ := reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"*"},
	})

	// Concurrent deliveries racing on one subscription. The store applies
	// each outcome atomically, so the delivery count is exact.
	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.RecordOutcome(ctx(), sub.ID, subscription.Outcome{Success: true}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := reg.Get(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DeliveryCount != n {
		t.Fatalf("expected exactly %d delivered, got %d", n, got.DeliveryCount)
	}
	if got.ConsecutiveFailures != 0 {
		t.Fatalf("expected no failure streak, got %d", got.ConsecutiveFailures)
	}
	if got.Status != subscription.StatusActive {
		t.Fatalf("expected active, got %q", got.Status)
	}
}

func TestRegistryRecordOutcomeCeiling(t *testing.T) {
	s := memory.New()
	reg := subscription.NewRegistry(s, subscription.Config{FailureCeiling: 3}, nil)

	sub, _ := reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"*"},
	})

	for i := 0; i < 3; i++ {
		got, err := reg.RecordOutcome(ctx(), sub.ID, subscription.Outcome{
			Success: false,
			Error:   "unexpected status 500",
		})
		if err != nil {
			t.Fatal(err)
		}
		if i < 2 && got.Status != subscription.StatusActive {
			t.Fatalf("failure %d: expected still active, got %q", i+1, got.Status)
		}
	}

	got, err := reg.Get(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != subscription.StatusFailed {
		t.Fatalf("expected failed after ceiling, got %q", got.Status)
	}
	if got.ConsecutiveFailures != 3 {
		t.Fatalf("expected 3 consecutive failures, got %d", got.ConsecutiveFailures)
	}
}

func TestRegistryRecordOutcomeSuccessResets(t *testing.T) {
	reg, _ := newRegistry()

	sub, _ := reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"*"},
	})

	_, _ = reg.RecordOutcome(ctx(), sub.ID, subscription.Outcome{Success: false, Error: "timeout"})
	_, _ = reg.RecordOutcome(ctx(), sub.ID, subscription.Outcome{Success: false, Error: "timeout"})

	got, err := reg.RecordOutcome(ctx(), sub.ID, subscription.Outcome{Success: true, StatusCode: 200})
	if err != nil {
		t.Fatal(err)
	}
	if got.ConsecutiveFailures != 0 {
		t.Fatalf("expected streak reset, got %d", got.ConsecutiveFailures)
	}
	if got.DeliveryCount != 1 {
		t.Fatalf("expected delivery count 1, got %d", got.DeliveryCount)
	}
	if got.LastDeliveryStatus != subscription.DeliverySuccess {
		t.Fatalf("expected success status, got %q", got.LastDeliveryStatus)
	}
}

func TestRegistryRetry(t *testing.T) {
	s := memory.New()
	reg := subscription.NewRegistry(s, subscription.Config{FailureCeiling: 2}, nil)

	sub, _ := reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"*"},
	})

	_, _ = reg.RecordOutcome(ctx(), sub.ID, subscription.Outcome{Success: false, Error: "boom"})
	_, _ = reg.RecordOutcome(ctx(), sub.ID, subscription.Outcome{Success: false, Error: "boom"})

	got, _ := reg.Get(ctx(), sub.ID)
	if got.Status != subscription.StatusFailed {
		t.Fatalf("precondition: expected failed, got %q", got.Status)
	}

	retried, err := reg.Retry(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if retried.Status != subscription.StatusActive {
		t.Fatalf("expected active after retry, got %q", retried.Status)
	}
	if retried.ConsecutiveFailures != 0 {
		t.Fatalf("expected streak cleared, got %d", retried.ConsecutiveFailures)
	}

	// Retry on a non-failed subscription is a no-op.
	again, err := reg.Retry(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != subscription.StatusActive {
		t.Fatalf("expected no-op retry to keep active, got %q", again.Status)
	}
}

func TestRegistryRotateSecret(t *testing.T) {
	reg, _ := newRegistry()

	sub, _ := reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"*"},
	})

	oldSecret := sub.Secret
	newSecret, err := reg.RotateSecret(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}

	if newSecret == oldSecret {
		t.Fatal("expected different secret after rotation")
	}
	if !strings.HasPrefix(newSecret, "whsec_") {
		t.Fatalf("expected whsec_ prefix, got %q", newSecret)
	}

	got, _ := reg.Get(ctx(), sub.ID)
	if got.Secret != newSecret {
		t.Fatal("secret not persisted after rotation")
	}
}

func TestRegistryRotateSecretNotFound(t *testing.T) {
	reg, _ := newRegistry()

	_, err := reg.RotateSecret(ctx(), id.NewSubscriptionID())
	if !errors.Is(err, outhook.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestRegistryStats(t *testing.T) {
	reg, _ := newRegistry()

	sub, _ := reg.Create(ctx(), subscription.Input{
		URL:    "https://example.com/webhook",
		Events: []string{"*"},
	})

	_, _ = reg.RecordOutcome(ctx(), sub.ID, subscription.Outcome{Success: true, StatusCode: 200})
	_, _ = reg.RecordOutcome(ctx(), sub.ID, subscription.Outcome{Success: false, Error: "timeout"})

	stats, err := reg.Stats(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.DeliveryCount != 1 {
		t.Fatalf("expected 1 delivery, got %d", stats.DeliveryCount)
	}
	if stats.ConsecutiveFailures != 1 {
		t.Fatalf("expected 1 consecutive failure, got %d", stats.ConsecutiveFailures)
	}
	if stats.LastDeliveryStatus != subscription.DeliveryFailure {
		t.Fatalf("expected failure status, got %q", stats.LastDeliveryStatus)
	}
	if stats.LastDeliveryAt == nil {
		t.Fatal("expected last delivery time to be set")
	}
}
