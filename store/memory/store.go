// Package memory provides an in-memory Store implementation for unit
// testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RestDB/outhook"
	"github.com/RestDB/outhook/delivery"
	"github.com/RestDB/outhook/dlq"
	"github.com/RestDB/outhook/event"
	"github.com/RestDB/outhook/id"
	outhookstore "github.com/RestDB/outhook/store"
	"github.com/RestDB/outhook/subscription"
)

// compile-time interface check.
var _ outhookstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	subscriptions   map[string]*subscription.Subscription // keyed by ID string
	events          map[string]*event.Event               // keyed by ID string
	eventsByIdemKey map[string]*event.Event               // keyed by idempotency key
	deliveries      map[string]*delivery.Delivery         // keyed by ID string
	locked          map[string]bool                       // simulates SKIP LOCKED
	dlqEntries      map[string]*dlq.Entry                 // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		subscriptions:   make(map[string]*subscription.Subscription),
		events:          make(map[string]*event.Event),
		eventsByIdemKey: make(map[string]*event.Event),
		deliveries:      make(map[string]*delivery.Delivery),
		locked:          make(map[string]bool),
		dlqEntries:      make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return outhook.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription. The stored record is a
// copy, so the caller's pointer never aliases store state.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = copySubscription(sub)
	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, outhook.ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// UpdateSubscription modifies an existing subscription. Statistics counters
// are owned by RecordDeliveryOutcome and are not overwritten here, so a
// stale read cannot roll back concurrent outcome accounting.
func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.ID.String()]
	if !ok {
		return outhook.ErrSubscriptionNotFound
	}

	cp := *sub
	cp.DeliveryCount = existing.DeliveryCount
	cp.LastDeliveryAt = existing.LastDeliveryAt
	cp.LastDeliveryStatus = existing.LastDeliveryStatus
	cp.LastDeliveryError = existing.LastDeliveryError
	if sub.Status != subscription.StatusActive {
		cp.ConsecutiveFailures = existing.ConsecutiveFailures
	}
	cp.UpdatedAt = time.Now().UTC()

	s.subscriptions[sub.ID.String()] = &cp
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subID.String()]; !ok {
		return outhook.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, subID.String())
	return nil
}

// ListSubscriptions returns subscriptions matching the given options.
func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if opts.Status != "" && sub.Status != opts.Status {
			continue
		}
		if opts.Event != "" && !sub.Matches(opts.Event) {
			continue
		}
		result = append(result, copySubscription(sub))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// Resolve finds all active subscriptions matching an event type.
func (s *Store) Resolve(_ context.Context, eventType string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if !sub.Deliverable() {
			continue
		}
		if sub.Matches(eventType) {
			result = append(result, copySubscription(sub))
		}
	}
	return result, nil
}

// RecordDeliveryOutcome atomically applies a delivery outcome to a
// subscription's statistics.
func (s *Store) RecordDeliveryOutcome(_ context.Context, subID id.ID, out subscription.Outcome) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, outhook.ErrSubscriptionNotFound
	}

	at := out.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	sub.LastDeliveryAt = &at

	if out.Success {
		sub.DeliveryCount++
		sub.ConsecutiveFailures = 0
		sub.LastDeliveryStatus = subscription.DeliverySuccess
		sub.LastDeliveryError = ""
	} else {
		sub.ConsecutiveFailures++
		sub.LastDeliveryStatus = subscription.DeliveryFailure
		sub.LastDeliveryError = out.Error
		if out.FailureCeiling > 0 &&
			sub.ConsecutiveFailures >= out.FailureCeiling &&
			sub.Status == subscription.StatusActive {
			sub.Status = subscription.StatusFailed
		}
	}
	sub.UpdatedAt = time.Now().UTC()

	return copySubscription(sub), nil
}

// SetStatus updates only the lifecycle status of a subscription.
func (s *Store) SetStatus(_ context.Context, subID id.ID, status subscription.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return outhook.ErrSubscriptionNotFound
	}
	sub.Status = status
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// copySubscription returns a shallow copy of the subscription.
func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	return &cp
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event. Returns ErrDuplicateIdempotencyKey on conflict.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.IdempotencyKey != "" {
		if _, ok := s.eventsByIdemKey[evt.IdempotencyKey]; ok {
			return outhook.ErrDuplicateIdempotencyKey
		}
		s.eventsByIdemKey[evt.IdempotencyKey] = evt
	}

	s.events[evt.ID.String()] = evt
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, outhook.ErrEventNotFound
	}
	return evt, nil
}

// ListEvents returns events, optionally filtered.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if !matchEventOpts(evt, opts) {
			continue
		}
		result = append(result, evt)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

func matchEventOpts(evt *event.Event, opts event.ListOpts) bool {
	if opts.Type != "" && evt.Type != opts.Type {
		return false
	}
	if opts.From != nil && evt.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && evt.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// Enqueue creates a pending delivery.
func (s *Store) Enqueue(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries[d.ID.String()] = d
	return nil
}

// EnqueueBatch creates multiple deliveries atomically.
func (s *Store) EnqueueBatch(_ context.Context, ds []*delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range ds {
		s.deliveries[d.ID.String()] = d
	}
	return nil
}

// copyDelivery returns a shallow copy of the delivery.
func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	return &cp
}

// Dequeue fetches pending deliveries ready for attempt (concurrent-safe).
// Dequeued deliveries stay locked until UpdateDelivery releases them, so a
// retry never runs concurrently with a prior in-flight attempt.
// Returns copies so callers can mutate without holding a lock.
func (s *Store) Dequeue(_ context.Context, limit int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	candidates := make([]*delivery.Delivery, 0, len(s.deliveries))

	for _, d := range s.deliveries {
		if d.State != delivery.StatePending {
			continue
		}
		if d.NextAttemptAt.After(now) {
			continue
		}
		if s.locked[d.ID.String()] {
			continue
		}
		candidates = append(candidates, d)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextAttemptAt.Before(candidates[j].NextAttemptAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.Delivery, 0, len(candidates))
	for _, d := range candidates {
		s.locked[d.ID.String()] = true
		result = append(result, copyDelivery(d))
	}

	return result, nil
}

// UpdateDelivery modifies a delivery and releases its lock.
func (s *Store) UpdateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deliveries[d.ID.String()]; !ok {
		return outhook.ErrDeliveryNotFound
	}
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[d.ID.String()] = d
	delete(s.locked, d.ID.String())
	return nil
}

// GetDelivery returns a copy of the delivery by ID.
func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, outhook.ErrDeliveryNotFound
	}
	return copyDelivery(d), nil
}

// ListBySubscription returns delivery history for a subscription.
func (s *Store) ListBySubscription(_ context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.State != nil && d.State != *opts.State {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListByEvent returns all deliveries for a specific event.
func (s *Store) ListByEvent(_ context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.EventID.String() != evtID.String() {
			continue
		}
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// CountPending returns the number of deliveries awaiting attempt.
func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, d := range s.deliveries {
		if d.State == delivery.StatePending {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Push moves a permanently exhausted delivery into the DLQ.
func (s *Store) Push(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlqEntries[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries, optionally filtered.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(s.dlqEntries))
	for _, e := range s.dlqEntries {
		if opts.SubscriptionID != nil && e.SubscriptionID.String() != opts.SubscriptionID.String() {
			continue
		}
		if opts.From != nil && e.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && e.FailedAt.After(*opts.To) {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FailedAt.After(result[j].FailedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, outhook.ErrDLQNotFound
	}
	return e, nil
}

// Replay marks a DLQ entry for redelivery and re-enqueues the delivery.
func (s *Store) Replay(_ context.Context, dlqID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return outhook.ErrDLQNotFound
	}

	now := time.Now().UTC()
	e.ReplayedAt = &now

	s.enqueueReplayLocked(e, now)
	return nil
}

// ReplayBulk replays all DLQ entries in a time window.
func (s *Store) ReplayBulk(_ context.Context, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var count int64

	for _, e := range s.dlqEntries {
		if e.FailedAt.Before(from) || e.FailedAt.After(to) {
			continue
		}
		if e.ReplayedAt != nil {
			continue
		}

		e.ReplayedAt = &now
		s.enqueueReplayLocked(e, now)
		count++
	}
	return count, nil
}

// enqueueReplayLocked creates a fresh pending delivery for a DLQ entry.
// Attempt accounting restarts; the original exhausted delivery is untouched.
func (s *Store) enqueueReplayLocked(e *dlq.Entry, now time.Time) {
	d := &delivery.Delivery{
		Entity:         outhook.NewEntity(),
		ID:             id.NewDeliveryID(),
		EventID:        e.EventID,
		SubscriptionID: e.SubscriptionID,
		State:          delivery.StatePending,
		AttemptCount:   0,
		MaxAttempts:    e.AttemptCount,
		NextAttemptAt:  now,
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 5
	}
	s.deliveries[d.ID.String()] = d
}

// Purge deletes DLQ entries older than a threshold.
func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.dlqEntries {
		if e.CreatedAt.Before(before) {
			delete(s.dlqEntries, k)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of DLQ entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.dlqEntries)), nil
}

// applyPagination slices a result set by offset and limit.
func applyPagination[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
