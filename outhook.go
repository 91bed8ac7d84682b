package outhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RestDB/outhook/delivery"
	"github.com/RestDB/outhook/dlq"
	"github.com/RestDB/outhook/event"
	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/internal/entity"
	"github.com/RestDB/outhook/ratelimit"
	"github.com/RestDB/outhook/store"
	"github.com/RestDB/outhook/subscription"
	"github.com/RestDB/outhook/verification"
)

// wireServices initializes the internal services after options have been applied.
func (o *Outhook) wireServices() {
	o.registry = subscription.NewRegistry(o.store, subscription.Config{
		FailureCeiling: o.config.FailureCeiling,
	}, o.logger)

	o.dlqSvc = dlq.NewService(o.store, o.logger)

	o.verifier = verification.NewCoordinator(o.store, o.config.HandshakeTimeout, o.logger)

	o.limiter = ratelimit.New()

	o.engine = delivery.NewEngine(o.store, o.registry, o.dlqSvc, o.limiter, delivery.EngineConfig{
		Concurrency:    o.config.Concurrency,
		PollInterval:   o.config.PollInterval,
		BatchSize:      o.config.BatchSize,
		RequestTimeout: o.config.RequestTimeout,
		Backoff:        o.config.Backoff,
		Metrics:        o.metrics,
		Tracer:         o.tracer,
	}, o.logger)
}

// Start begins the delivery engine.
func (o *Outhook) Start(ctx context.Context) {
	o.engine.Start(ctx)
}

// Stop gracefully shuts down the delivery engine.
func (o *Outhook) Stop(ctx context.Context) {
	o.engine.Stop(ctx)
}

// TriggerOption configures a single Trigger call.
type TriggerOption func(*event.Event)

// WithIdempotencyKey makes the triggered event idempotent: a second trigger
// carrying the same key is accepted as a no-op.
func WithIdempotencyKey(key string) TriggerOption {
	return func(evt *event.Event) { evt.IdempotencyKey = key }
}

// Trigger accepts an application event, persists it, and fans out one
// delivery task per matching active subscription.
//
// The critical path:
//  1. Validate the event type (any non-empty string is a valid type).
//  2. Validate the payload against a registered JSON Schema, if one exists.
//  3. Assign identity and timestamps, persist the event.
//  4. Resolve active subscriptions matching the type (including "*").
//  5. Enqueue one delivery per match.
//
// The event is returned immediately; delivery is asynchronous relative to
// the caller, and delivery failures are only observable through subsequent
// reads of subscription state and statistics.
func (o *Outhook) Trigger(ctx context.Context, eventType string, data any, opts ...TriggerOption) (*event.Event, error) {
	evt := &event.Event{
		Type: eventType,
		Data: data,
	}
	for _, opt := range opts {
		opt(evt)
	}

	if err := o.TriggerEvent(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// TriggerEvent accepts a caller-built event. Identity and timestamps are
// assigned here when missing, so callers normally set only Type, Data, and
// optionally IdempotencyKey.
func (o *Outhook) TriggerEvent(ctx context.Context, evt *event.Event) error {
	if evt.Type == "" {
		return ErrEmptyEventType
	}

	if o.schemas != nil {
		if err := o.schemas.ValidatePayload(evt.Type, evt.Data); err != nil {
			return fmt.Errorf("%w: %s", ErrPayloadValidationFailed, err.Error())
		}
	}

	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	if evt.CreatedAt.IsZero() {
		evt.Entity = entity.New()
	}

	// Persist the event. Idempotency key conflicts return a no-op success.
	if createErr := o.store.CreateEvent(ctx, evt); createErr != nil {
		if errors.Is(createErr, ErrDuplicateIdempotencyKey) {
			return nil // idempotent: already processed
		}
		return fmt.Errorf("outhook: persist event: %w", createErr)
	}

	subs, err := o.store.Resolve(ctx, evt.Type)
	if err != nil {
		return fmt.Errorf("outhook: resolve subscriptions: %w", err)
	}

	if len(subs) == 0 {
		return nil // no matching subscriptions, nothing to deliver
	}

	now := time.Now().UTC()
	deliveries := make([]*delivery.Delivery, 0, len(subs))
	for _, sub := range subs {
		d := &delivery.Delivery{
			Entity:         entity.New(),
			ID:             id.NewDeliveryID(),
			EventID:        evt.ID,
			SubscriptionID: sub.ID,
			State:          delivery.StatePending,
			AttemptCount:   0,
			MaxAttempts:    o.config.MaxAttempts,
			NextAttemptAt:  now,
		}
		deliveries = append(deliveries, d)
	}

	if err := o.store.EnqueueBatch(ctx, deliveries); err != nil {
		return fmt.Errorf("outhook: enqueue deliveries: %w", err)
	}

	if o.metrics != nil {
		o.metrics.EventsTriggeredTotal.Inc()
		o.metrics.PendingDeliveries.Add(float64(len(deliveries)))
	}

	o.logger.DebugContext(ctx, "event triggered",
		"event_id", evt.ID,
		"type", evt.Type,
		"subscriptions", len(subs),
	)

	return nil
}

// CreateSubscription registers a new webhook subscription and, when its
// verification mode requires a handshake, kicks the handshake off in the
// background. The returned record carries the signing secret exactly once.
func (o *Outhook) CreateSubscription(ctx context.Context, in subscription.Input) (*subscription.Subscription, error) {
	sub, err := o.registry.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	if sub.Mode != subscription.ModeNone {
		// Handshake outcome is surfaced via subscription status, never
		// raised back to this caller. The goroutine loads its own record so
		// the returned one stays untouched.
		go func() {
			vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.HandshakeTimeout)
			defer cancel()
			rec, getErr := o.registry.Get(vctx, sub.ID)
			if getErr != nil {
				o.logger.ErrorContext(vctx, "load subscription for handshake failed",
					"subscription_id", sub.ID, "error", getErr)
				return
			}
			_ = o.verifier.Run(vctx, rec)
		}()
	}

	return sub, nil
}

// VerifySubscription re-runs the verification handshake for a subscription.
// The returned record reflects the recorded outcome.
func (o *Outhook) VerifySubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	sub, err := o.registry.Get(ctx, subID)
	if err != nil {
		return nil, err
	}

	runErr := o.verifier.Run(ctx, sub)

	updated, getErr := o.registry.Get(ctx, subID)
	if getErr != nil {
		return sub, runErr
	}
	return updated, runErr
}

// RetrySubscription forces a failed subscription back to active and replays
// its most recent exhausted delivery, if one exists. Tasks belonging to
// other subscriptions are unaffected.
func (o *Outhook) RetrySubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	sub, err := o.registry.Retry(ctx, subID)
	if err != nil {
		return nil, err
	}

	if _, replayErr := o.dlqSvc.ReplayLatest(ctx, subID); replayErr != nil {
		return nil, replayErr
	}

	return sub, nil
}

// Subscriptions returns the subscription registry.
func (o *Outhook) Subscriptions() *subscription.Registry {
	return o.registry
}

// Verifier returns the verification handshake coordinator.
func (o *Outhook) Verifier() *verification.Coordinator {
	return o.verifier
}

// Store returns the underlying store.
func (o *Outhook) Store() store.Store {
	return o.store
}

// DLQ returns the dead letter queue service.
func (o *Outhook) DLQ() *dlq.Service {
	return o.dlqSvc
}
