package subscription

import (
	"context"

	"github.com/RestDB/outhook/id"
)

// Store defines the persistence contract for subscriptions. The store owns
// subscription records exclusively; statistics are mutated only through
// RecordDeliveryOutcome so that concurrent deliveries cannot race.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription modifies an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns subscriptions matching the given options,
	// ordered by creation time.
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)

	// Resolve returns all active subscriptions whose event patterns match
	// the given event type.
	Resolve(ctx context.Context, eventType string) ([]*Subscription, error)

	// RecordDeliveryOutcome atomically applies a delivery outcome to a
	// subscription's statistics and returns the updated record. On success
	// the delivery count increments and the consecutive-failure counter
	// resets; on failure the counter increments and, once it reaches the
	// outcome's ceiling while the subscription is active, the status
	// transitions to StatusFailed.
	RecordDeliveryOutcome(ctx context.Context, subID id.ID, out Outcome) (*Subscription, error)

	// SetStatus updates only the lifecycle status of a subscription.
	SetStatus(ctx context.Context, subID id.ID, status Status) error
}
