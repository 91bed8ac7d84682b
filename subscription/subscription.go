package subscription

import (
	"time"

	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/internal/entity"
)

// Status represents the lifecycle state of a subscription.
type Status string

const (
	// StatusPendingVerification indicates the endpoint has not yet completed
	// its verification handshake. The subscription is excluded from fan-out.
	StatusPendingVerification Status = "pending_verification"

	// StatusActive indicates the subscription is a live delivery target.
	StatusActive Status = "active"

	// StatusDisabled indicates the subscription was switched off by an
	// operator (or by a 410 Gone response) and is excluded from fan-out.
	StatusDisabled Status = "disabled"

	// StatusFailed indicates the subscription crossed the consecutive-failure
	// ceiling and is excluded from fan-out until explicitly retried.
	StatusFailed Status = "failed"
)

// DeliveryStatus is the outcome label of the most recent delivery attempt.
type DeliveryStatus string

const (
	// DeliverySuccess indicates the last delivery attempt got a 2xx response.
	DeliverySuccess DeliveryStatus = "success"

	// DeliveryFailure indicates the last delivery attempt failed.
	DeliveryFailure DeliveryStatus = "failure"
)

// Subscription represents a registered webhook delivery target.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// URL is the webhook delivery URL. Must be a well-formed absolute URL.
	URL string `json:"url"`

	// Events are the subscribed event type patterns. The literal "*" matches
	// every event type; "order.*" matches a single trailing segment.
	Events []string `json:"events"`

	// Mode selects the verification handshake protocol for this subscription.
	Mode Mode `json:"verification_mode"`

	// Secret is the HMAC signing secret. Generated server-side at creation
	// and never serialized; the API returns it exactly once on create.
	Secret string `json:"-"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit,omitempty"`

	// Metadata holds caller-defined key-value pairs, not interpreted here.
	Metadata map[string]string `json:"metadata,omitempty"`

	// DeliveryCount is the total number of successful deliveries.
	DeliveryCount int64 `json:"delivery_count"`

	// ConsecutiveFailures counts failed deliveries since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastDeliveryAt is when the most recent delivery attempt completed.
	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`

	// LastDeliveryStatus is the outcome of the most recent delivery attempt.
	LastDeliveryStatus DeliveryStatus `json:"last_delivery_status,omitempty"`

	// LastDeliveryError is the error detail from the most recent failure.
	LastDeliveryError string `json:"last_delivery_error,omitempty"`

	// VerificationError is the failure detail from the most recent handshake.
	VerificationError string `json:"verification_error,omitempty"`
}

// Matches reports whether this subscription's event patterns match the
// given event type.
func (s *Subscription) Matches(eventType string) bool {
	for _, pattern := range s.Events {
		if Match(pattern, eventType) {
			return true
		}
	}
	return false
}

// Deliverable reports whether this subscription is a live fan-out target.
func (s *Subscription) Deliverable() bool {
	return s.Status == StatusActive
}

// Stats is the operational health snapshot for a subscription.
type Stats struct {
	DeliveryCount       int64          `json:"delivery_count"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastDeliveryAt      *time.Time     `json:"last_delivery_at,omitempty"`
	LastDeliveryStatus  DeliveryStatus `json:"last_delivery_status,omitempty"`
	LastDeliveryError   string         `json:"last_delivery_error,omitempty"`
	Status              Status         `json:"status"`
}

// StatsOf extracts the health snapshot from a subscription.
func StatsOf(s *Subscription) Stats {
	return Stats{
		DeliveryCount:       s.DeliveryCount,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastDeliveryAt:      s.LastDeliveryAt,
		LastDeliveryStatus:  s.LastDeliveryStatus,
		LastDeliveryError:   s.LastDeliveryError,
		Status:              s.Status,
	}
}
