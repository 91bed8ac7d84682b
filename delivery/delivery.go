package delivery

import (
	"time"

	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/internal/entity"
)

// State represents the current state of a delivery.
type State string

const (
	// StatePending indicates the delivery is queued or awaiting its next
	// scheduled attempt.
	StatePending State = "pending"

	// StateDelivered indicates the delivery was successfully sent.
	StateDelivered State = "delivered"

	// StateFailed indicates the delivery exhausted its attempts and was
	// moved to the dead letter queue.
	StateFailed State = "failed"
)

// Delivery represents the delivery of one event to one subscription.
// Attempts for the same delivery are serialized by the dequeue contract;
// deliveries for different subscriptions run independently.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery.
	ID id.ID `json:"id"`

	// EventID references the event being delivered.
	EventID id.ID `json:"event_id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// State is the current delivery state.
	State State `json:"state"`

	// AttemptCount is the number of delivery attempts made so far.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts is the maximum number of attempts before exhaustion.
	MaxAttempts int `json:"max_attempts"`

	// NextAttemptAt is when the next delivery attempt should occur.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// LastStatusCode is the HTTP status code from the most recent attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// LastResponse is the response body from the most recent attempt (capped at 1KB).
	LastResponse string `json:"last_response,omitempty"`

	// LastLatencyMs is the latency in milliseconds of the most recent attempt.
	LastLatencyMs int `json:"last_latency_ms,omitempty"`

	// CompletedAt is when the delivery was completed (delivered or failed).
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int
	State  *State
}
