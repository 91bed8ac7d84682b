package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/RestDB/outhook/delivery"
	"github.com/RestDB/outhook/event"
	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/internal/entity"
	"github.com/RestDB/outhook/subscription"
)

// Service manages the dead letter queue.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new DLQ service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// PushExhausted creates a DLQ entry from an exhausted delivery. Implements
// delivery.DLQPusher. No attempt is dropped silently: the final error detail
// stays inspectable here even after the delivery record is pruned.
func (svc *Service) PushExhausted(ctx context.Context, d *delivery.Delivery, sub *subscription.Subscription, evt *event.Event, lastError string, lastStatusCode int) error {
	payload, marshalErr := json.Marshal(evt.Data)
	if marshalErr != nil {
		return fmt.Errorf("dlq: marshal payload: %w", marshalErr)
	}

	entry := &Entry{
		Entity:         entity.New(),
		ID:             id.NewDLQID(),
		DeliveryID:     d.ID,
		EventID:        d.EventID,
		SubscriptionID: d.SubscriptionID,
		EventType:      evt.Type,
		URL:            sub.URL,
		Payload:        payload,
		Error:          lastError,
		AttemptCount:   d.AttemptCount,
		LastStatusCode: lastStatusCode,
		FailedAt:       time.Now().UTC(),
	}

	return svc.store.Push(ctx, entry)
}

// List returns DLQ entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Replay re-enqueues a single DLQ entry for redelivery.
func (svc *Service) Replay(ctx context.Context, dlqID id.ID) error {
	return svc.store.Replay(ctx, dlqID)
}

// ReplayLatest re-enqueues the most recent unreplayed entry for a
// subscription, if one exists. Returns false when the subscription has no
// replayable entry. This backs the manual-retry operation.
func (svc *Service) ReplayLatest(ctx context.Context, subID id.ID) (bool, error) {
	entries, err := svc.store.ListDLQ(ctx, ListOpts{
		SubscriptionID: &subID,
		Limit:          10,
	})
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if entry.ReplayedAt != nil {
			continue
		}
		if replayErr := svc.store.Replay(ctx, entry.ID); replayErr != nil {
			return false, replayErr
		}
		svc.logger.InfoContext(ctx, "replayed latest DLQ entry",
			"subscription_id", subID, "dlq_id", entry.ID)
		return true, nil
	}

	return false, nil
}

// ReplayBulk re-enqueues all DLQ entries within a time range.
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	return svc.store.ReplayBulk(ctx, from, to)
}

// Purge removes old DLQ entries.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.Purge(ctx, before)
}

// Count returns the total number of DLQ entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}
