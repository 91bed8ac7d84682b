package event

import (
	"encoding/json"
	"time"

	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/internal/entity"
)

// Event represents an application event submitted for delivery. Events are
// immutable once created; they form the write-once log that drives and
// audits fan-out.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// Type is the dot-separated event type name (e.g. "order.created").
	// Any non-empty string is a valid type; there is no fixed vocabulary.
	Type string `json:"type"`

	// Data is the caller-supplied payload, opaque to the delivery system.
	Data any `json:"data"`

	// IdempotencyKey prevents duplicate event processing when supplied.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Envelope is the wire format delivered to receivers. The serialized bytes
// are the exact payload both the signature and the receiver verify against,
// so the envelope is marshalled once per delivery and never re-encoded.
type Envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Data    any    `json:"data"`
	Created int64  `json:"created"`
}

// Envelope builds the wire representation of this event. Created is the
// intake time in unix seconds, as embedded in the delivered payload.
func (e *Event) Envelope() Envelope {
	return Envelope{
		ID:      e.ID.String(),
		Type:    e.Type,
		Data:    e.Data,
		Created: e.CreatedAt.Unix(),
	}
}

// MarshalEnvelope serializes the wire payload for delivery and signing.
func (e *Event) MarshalEnvelope() ([]byte, error) {
	return json.Marshal(e.Envelope())
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset int
	Limit  int
	Type   string
	From   *time.Time
	To     *time.Time
}
