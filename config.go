package outhook

import (
	"time"

	"github.com/RestDB/outhook/delivery"
)

// Config holds the configuration for an Outhook instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery engine checks for pending deliveries.
	PollInterval time.Duration

	// BatchSize is the maximum number of deliveries dequeued per poll cycle.
	BatchSize int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// MaxAttempts is the maximum number of delivery attempts per task.
	MaxAttempts int

	// Backoff controls the exponential retry schedule between attempts.
	Backoff delivery.BackoffConfig

	// FailureCeiling is the consecutive-failure count at which a
	// subscription transitions to failed and leaves the fan-out set.
	FailureCeiling int

	// HandshakeTimeout is the HTTP timeout for verification handshakes.
	HandshakeTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      10,
		PollInterval:     1 * time.Second,
		BatchSize:        50,
		RequestTimeout:   10 * time.Second,
		MaxAttempts:      5,
		Backoff:          delivery.DefaultBackoff(),
		FailureCeiling:   10,
		HandshakeTimeout: 10 * time.Second,
		ShutdownTimeout:  30 * time.Second,
	}
}
