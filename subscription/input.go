package subscription

import "time"

// Input is the creation payload for subscriptions.
type Input struct {
	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Events are the subscribed event type patterns.
	Events []string `json:"events"`

	// Mode selects the verification handshake protocol.
	Mode Mode `json:"verification_mode"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit,omitempty"`

	// Metadata holds caller-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Patch is the partial-update payload for subscriptions. Nil fields are
// left unchanged.
type Patch struct {
	URL       *string           `json:"url,omitempty"`
	Events    []string          `json:"events,omitempty"`
	Status    *Status           `json:"status,omitempty"`
	Mode      *Mode             `json:"verification_mode,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	RateLimit *int              `json:"rate_limit,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int

	// Status filters by lifecycle state when non-empty.
	Status Status

	// Event filters to subscriptions whose patterns match this event type.
	Event string
}

// Outcome is a delivery result reported into the registry. The registry is
// the sole mutator of subscription statistics; the dispatcher only reports.
type Outcome struct {
	// Success indicates the delivery got a 2xx response.
	Success bool

	// Error is the failure detail (non-2xx status, timeout, network error).
	Error string

	// StatusCode is the HTTP status of the attempt, 0 for transport errors.
	StatusCode int

	// At is when the attempt completed.
	At time.Time

	// FailureCeiling is the consecutive-failure count at which the
	// subscription transitions to StatusFailed. 0 disables the transition.
	FailureCeiling int
}
