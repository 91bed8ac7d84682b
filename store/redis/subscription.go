package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	outhook "github.com/RestDB/outhook"
	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/internal/entity"
	"github.com/RestDB/outhook/subscription"
)

// subscriptionModel is the JSON representation stored in Redis.
type subscriptionModel struct {
	ID                  string            `json:"id"`
	URL                 string            `json:"url"`
	Events              []string          `json:"events"`
	Mode                string            `json:"verification_mode"`
	Secret              string            `json:"secret"`
	Status              string            `json:"status"`
	Headers             map[string]string `json:"headers,omitempty"`
	RateLimit           int               `json:"rate_limit"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	DeliveryCount       int64             `json:"delivery_count"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastDeliveryAt      *time.Time        `json:"last_delivery_at,omitempty"`
	LastDeliveryStatus  string            `json:"last_delivery_status,omitempty"`
	LastDeliveryError   string            `json:"last_delivery_error,omitempty"`
	VerificationError   string            `json:"verification_error,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                  sub.ID.String(),
		URL:                 sub.URL,
		Events:              sub.Events,
		Mode:                string(sub.Mode),
		Secret:              sub.Secret,
		Status:              string(sub.Status),
		Headers:             sub.Headers,
		RateLimit:           sub.RateLimit,
		Metadata:            sub.Metadata,
		DeliveryCount:       sub.DeliveryCount,
		ConsecutiveFailures: sub.ConsecutiveFailures,
		LastDeliveryAt:      sub.LastDeliveryAt,
		LastDeliveryStatus:  string(sub.LastDeliveryStatus),
		LastDeliveryError:   sub.LastDeliveryError,
		VerificationError:   sub.VerificationError,
		CreatedAt:           sub.CreatedAt,
		UpdatedAt:           sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                  subID,
		URL:                 m.URL,
		Events:              m.Events,
		Mode:                subscription.Mode(m.Mode),
		Secret:              m.Secret,
		Status:              subscription.Status(m.Status),
		Headers:             m.Headers,
		RateLimit:           m.RateLimit,
		Metadata:            m.Metadata,
		DeliveryCount:       m.DeliveryCount,
		ConsecutiveFailures: m.ConsecutiveFailures,
		LastDeliveryAt:      m.LastDeliveryAt,
		LastDeliveryStatus:  subscription.DeliveryStatus(m.LastDeliveryStatus),
		LastDeliveryError:   m.LastDeliveryError,
		VerificationError:   m.VerificationError,
	}, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	key := entityKey(prefixSubscription, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("outhook/redis: create subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zSubscriptionAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if m.Status == string(subscription.StatusActive) {
		pipe.SAdd(ctx, sSubscriptionActive, m.ID)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("outhook/redis: create subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, outhook.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("outhook/redis: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

// UpdateSubscription writes the mutable configuration fields. Statistics
// counters are carried over from the stored record; they are owned by
// RecordDeliveryOutcome.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := entityKey(prefixSubscription, sub.ID.String())

	var existing subscriptionModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return outhook.ErrSubscriptionNotFound
		}
		return fmt.Errorf("outhook/redis: update subscription get: %w", err)
	}

	m := toSubscriptionModel(sub)
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = now()
	m.DeliveryCount = existing.DeliveryCount
	m.LastDeliveryAt = existing.LastDeliveryAt
	m.LastDeliveryStatus = existing.LastDeliveryStatus
	m.LastDeliveryError = existing.LastDeliveryError
	if m.Status != string(subscription.StatusActive) {
		m.ConsecutiveFailures = existing.ConsecutiveFailures
	}

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("outhook/redis: update subscription: %w", err)
	}

	if m.Status == string(subscription.StatusActive) {
		s.rdb.SAdd(ctx, sSubscriptionActive, m.ID)
	} else {
		s.rdb.SRem(ctx, sSubscriptionActive, m.ID)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	key := entityKey(prefixSubscription, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return outhook.ErrSubscriptionNotFound
		}
		return fmt.Errorf("outhook/redis: delete subscription get: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("outhook/redis: delete subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zSubscriptionAll, m.ID)
	pipe.SRem(ctx, sSubscriptionActive, m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("outhook/redis: delete subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubscriptionAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("outhook/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != "" && m.Status != string(opts.Status) {
			continue
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		if opts.Event != "" && !sub.Matches(opts.Event) {
			continue
		}
		result = append(result, sub)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) Resolve(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.SMembers(ctx, sSubscriptionActive).Result()
	if err != nil {
		return nil, fmt.Errorf("outhook/redis: resolve: %w", err)
	}

	var result []*subscription.Subscription
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		if sub.Deliverable() && sub.Matches(eventType) {
			result = append(result, sub)
		}
	}
	return result, nil
}

// RecordDeliveryOutcome applies a delivery outcome under an optimistic
// transaction. The counters are read and rewritten inside a WATCH so that
// concurrent workers cannot lose increments; the transaction retries on
// contention.
func (s *Store) RecordDeliveryOutcome(ctx context.Context, subID id.ID, out subscription.Outcome) (*subscription.Subscription, error) {
	key := entityKey(prefixSubscription, subID.String())
	at := out.At
	if at.IsZero() {
		at = now()
	}

	var updated subscriptionModel
	const maxRetries = 10
	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if isRedisNil(err) {
					return outhook.ErrSubscriptionNotFound
				}
				return err
			}

			var m subscriptionModel
			if err := json.Unmarshal(raw, &m); err != nil {
				return err
			}

			if out.Success {
				m.DeliveryCount++
				m.ConsecutiveFailures = 0
				m.LastDeliveryStatus = string(subscription.DeliverySuccess)
				m.LastDeliveryError = ""
			} else {
				m.ConsecutiveFailures++
				m.LastDeliveryStatus = string(subscription.DeliveryFailure)
				m.LastDeliveryError = out.Error
				if out.FailureCeiling > 0 &&
					m.ConsecutiveFailures >= out.FailureCeiling &&
					m.Status == string(subscription.StatusActive) {
					m.Status = string(subscription.StatusFailed)
				}
			}
			m.LastDeliveryAt = &at
			m.UpdatedAt = now()

			next, err := json.Marshal(&m)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				if m.Status == string(subscription.StatusActive) {
					pipe.SAdd(ctx, sSubscriptionActive, m.ID)
				} else {
					pipe.SRem(ctx, sSubscriptionActive, m.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}

			updated = m
			return nil
		}, key)

		if err == nil {
			return fromSubscriptionModel(&updated)
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("outhook/redis: record delivery outcome: transaction retries exhausted")
}

func (s *Store) SetStatus(ctx context.Context, subID id.ID, status subscription.Status) error {
	key := entityKey(prefixSubscription, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return outhook.ErrSubscriptionNotFound
		}
		return fmt.Errorf("outhook/redis: set status get: %w", err)
	}

	m.Status = string(status)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("outhook/redis: set status: %w", err)
	}

	if status == subscription.StatusActive {
		s.rdb.SAdd(ctx, sSubscriptionActive, m.ID)
	} else {
		s.rdb.SRem(ctx, sSubscriptionActive, m.ID)
	}
	return nil
}
