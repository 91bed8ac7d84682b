package outhook

import "errors"

// Sentinel errors returned by outhook operations.
var (
	// ErrNoStore is returned when an Outhook is created without a store.
	ErrNoStore = errors.New("outhook: store is required")

	// ErrSubscriptionNotFound is returned when a subscription cannot be found.
	ErrSubscriptionNotFound = errors.New("outhook: subscription not found")

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = errors.New("outhook: event not found")

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = errors.New("outhook: delivery not found")

	// ErrDLQNotFound is returned when a DLQ entry cannot be found.
	ErrDLQNotFound = errors.New("outhook: dlq entry not found")

	// ErrEmptyEventType is returned when triggering an event without a type.
	ErrEmptyEventType = errors.New("outhook: event type must not be empty")

	// ErrPayloadValidationFailed is returned when event data fails the
	// JSON Schema registered for its type.
	ErrPayloadValidationFailed = errors.New("outhook: payload validation failed")

	// ErrDuplicateIdempotencyKey is returned when an event with the same
	// idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("outhook: duplicate idempotency key")

	// ErrStoreClosed is returned when a store operation is attempted after
	// the store is closed.
	ErrStoreClosed = errors.New("outhook: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("outhook: migration failed")
)
