package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/RestDB/outhook/delivery"
	"github.com/RestDB/outhook/dlq"
	"github.com/RestDB/outhook/event"
	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/internal/entity"
	"github.com/RestDB/outhook/subscription"
)

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:outhook_subscriptions"`

	ID                  string     `grove:"id,pk"`
	URL                 string     `grove:"url"`
	Events              string     `grove:"events"` // JSON array
	Mode                string     `grove:"verification_mode"`
	Secret              string     `grove:"secret"`
	Status              string     `grove:"status"`
	Headers             string     `grove:"headers"` // JSON object
	RateLimit           int        `grove:"rate_limit"`
	Metadata            string     `grove:"metadata"` // JSON object
	DeliveryCount       int64      `grove:"delivery_count"`
	ConsecutiveFailures int        `grove:"consecutive_failures"`
	LastDeliveryAt      *time.Time `grove:"last_delivery_at"`
	LastDeliveryStatus  string     `grove:"last_delivery_status"`
	LastDeliveryError   string     `grove:"last_delivery_error"`
	VerificationError   string     `grove:"verification_error"`
	CreatedAt           time.Time  `grove:"created_at"`
	UpdatedAt           time.Time  `grove:"updated_at"`
}

// events unmarshals the JSON patterns string into a string slice.
func (m *subscriptionModel) events() []string {
	var patterns []string
	if m.Events != "" {
		_ = json.Unmarshal([]byte(m.Events), &patterns) //nolint:errcheck // best-effort
	}
	return patterns
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	events, _ := json.Marshal(sub.Events)     //nolint:errcheck // best-effort
	headers, _ := json.Marshal(sub.Headers)   //nolint:errcheck // best-effort
	metadata, _ := json.Marshal(sub.Metadata) //nolint:errcheck // best-effort

	return &subscriptionModel{
		ID:                  sub.ID.String(),
		URL:                 sub.URL,
		Events:              string(events),
		Mode:                string(sub.Mode),
		Secret:              sub.Secret,
		Status:              string(sub.Status),
		Headers:             string(headers),
		RateLimit:           sub.RateLimit,
		Metadata:            string(metadata),
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

	var headers map[string]string
	if m.Headers != "" {
		_ = json.Unmarshal([]byte(m.Headers), &headers) //nolint:errcheck // best-effort
	}

	var metadata map[string]string
	if m.Metadata != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &metadata) //nolint:errcheck // best-effort
	}

	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                  subID,
		URL:                 m.URL,
		Events:              m.events(),
		Mode:                subscription.Mode(m.Mode),
		Secret:              m.Secret,
		Status:              subscription.Status(m.Status),
		Headers:             headers,
		RateLimit:           m.RateLimit,
		Metadata:            metadata,
		DeliveryCount:       m.DeliveryCount,
		ConsecutiveFailures: m.ConsecutiveFailures,
		LastDeliveryAt:      m.LastDeliveryAt,
		LastDeliveryStatus:  subscription.DeliveryStatus(m.LastDeliveryStatus),
		LastDeliveryError:   m.LastDeliveryError,
		VerificationError:   m.VerificationError,
	}, nil
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:outhook_events"`

	ID             string    `grove:"id,pk"`
	Type           string    `grove:"type"`
	Data           string    `grove:"data"` // JSON text
	IdempotencyKey string    `grove:"idempotency_key"`
	CreatedAt      time.Time `grove:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	data, _ := json.Marshal(evt.Data) //nolint:errcheck // best-effort
	return &eventModel{
		ID:             evt.ID.String(),
		Type:           evt.Type,
		Data:           string(data),
		IdempotencyKey: evt.IdempotencyKey,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	var data any = json.RawMessage(m.Data)
	return &event.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             evtID,
		Type:           m.Type,
		Data:           data,
		IdempotencyKey: m.IdempotencyKey,
	}, nil
}

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:outhook_deliveries"`

	ID             string     `grove:"id,pk"`
	EventID        string     `grove:"event_id"`
	SubscriptionID string     `grove:"subscription_id"`
	State          string     `grove:"state"`
	AttemptCount   int        `grove:"attempt_count"`
	MaxAttempts    int        `grove:"max_attempts"`
	NextAttemptAt  time.Time  `grove:"next_attempt_at"`
	LastError      string     `grove:"last_error"`
	LastStatusCode int        `grove:"last_status_code"`
	LastResponse   string     `grove:"last_response"`
	LastLatencyMs  int        `grove:"last_latency_ms"`
	CompletedAt    *time.Time `grove:"completed_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		EventID:        d.EventID.String(),
		SubscriptionID: d.SubscriptionID.String(),
		State:          string(d.State),
		AttemptCount:   d.AttemptCount,
		MaxAttempts:    d.MaxAttempts,
		NextAttemptAt:  d.NextAttemptAt,
		LastError:      d.LastError,
		LastStatusCode: d.LastStatusCode,
		LastResponse:   d.LastResponse,
		LastLatencyMs:  d.LastLatencyMs,
		CompletedAt:    d.CompletedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             delID,
		EventID:        evtID,
		SubscriptionID: subID,
		State:          delivery.State(m.State),
		AttemptCount:   m.AttemptCount,
		MaxAttempts:    m.MaxAttempts,
		NextAttemptAt:  m.NextAttemptAt,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		LastResponse:   m.LastResponse,
		LastLatencyMs:  m.LastLatencyMs,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// --- DLQ models ---

type dlqEntryModel struct {
	grove.BaseModel `grove:"table:outhook_dlq"`

	ID             string     `grove:"id,pk"`
	DeliveryID     string     `grove:"delivery_id"`
	EventID        string     `grove:"event_id"`
	SubscriptionID string     `grove:"subscription_id"`
	EventType      string     `grove:"event_type"`
	URL            string     `grove:"url"`
	Payload        string     `grove:"payload"` // JSON text
	Error          string     `grove:"error"`
	AttemptCount   int        `grove:"attempt_count"`
	LastStatusCode int        `grove:"last_status_code"`
	ReplayedAt     *time.Time `grove:"replayed_at"`
	FailedAt       time.Time  `grove:"failed_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	payload, _ := json.Marshal(e.Payload) //nolint:errcheck // best-effort
	return &dlqEntryModel{
		ID:             e.ID.String(),
		DeliveryID:     e.DeliveryID.String(),
		EventID:        e.EventID.String(),
		SubscriptionID: e.SubscriptionID.String(),
		EventType:      e.EventType,
		URL:            e.URL,
		Payload:        string(payload),
		Error:          e.Error,
		AttemptCount:   e.AttemptCount,
		LastStatusCode: e.LastStatusCode,
		ReplayedAt:     e.ReplayedAt,
		FailedAt:       e.FailedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse DLQ ID %q: %w", m.ID, err)
	}
	delID, err := id.ParseDeliveryID(m.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.DeliveryID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	var payload any = json.RawMessage(m.Payload)
	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             dlqID,
		DeliveryID:     delID,
		EventID:        evtID,
		SubscriptionID: subID,
		EventType:      m.EventType,
		URL:            m.URL,
		Payload:        payload,
		Error:          m.Error,
		AttemptCount:   m.AttemptCount,
		LastStatusCode: m.LastStatusCode,
		ReplayedAt:     m.ReplayedAt,
		FailedAt:       m.FailedAt,
	}, nil
}
