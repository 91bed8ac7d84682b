package delivery

import (
	"math/rand/v2"
	"time"
)

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Delivered means the delivery was successful (2xx).
	Delivered Decision = iota

	// Retry means the delivery should be retried later.
	Retry

	// Exhaust means the delivery has permanently failed and should move to
	// the dead letter queue.
	Exhaust

	// DisableSubscription means the subscription should be disabled
	// (e.g., 410 Gone).
	DisableSubscription
)

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int
}

// Success reports whether the attempt got a 2xx response.
func (r Result) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// BackoffConfig controls the exponential retry schedule.
type BackoffConfig struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Jitter is the random spread applied to each delay as a fraction of
	// the computed value (0.25 means ±25%).
	Jitter float64
}

// DefaultBackoff returns the default backoff configuration: exponential
// from 5s, capped at 2h, with ±25% jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Base:   5 * time.Second,
		Max:    2 * time.Hour,
		Jitter: 0.25,
	}
}

// Retrier decides what to do after a delivery attempt and computes the
// retry schedule. Delays are derived from the attempt number alone, so the
// schedule does not drift with wall-clock time.
type Retrier struct {
	backoff BackoffConfig
}

// NewRetrier creates a retrier with the given backoff configuration.
func NewRetrier(cfg BackoffConfig) *Retrier {
	if cfg.Base <= 0 {
		cfg = DefaultBackoff()
	}
	return &Retrier{backoff: cfg}
}

// Decide determines what to do with a delivery after an attempt.
//
// Decision matrix:
//   - 2xx → Delivered
//   - 410 → DisableSubscription (endpoint says it is gone for good)
//   - 408, 429 → Retry (timeout / rate limited)
//   - 400–499 (other client errors) → Exhaust immediately (won't self-correct)
//   - 500–599 → Retry if attempts < max, else Exhaust
//   - 0 (connection/timeout error) → Retry if attempts < max, else Exhaust
func (r *Retrier) Decide(res Result, d *Delivery) Decision {
	code := res.StatusCode

	if res.Success() {
		return Delivered
	}

	if code == 410 {
		return DisableSubscription
	}

	if code == 408 || code == 429 {
		return r.retryOrExhaust(d)
	}

	if code >= 400 && code < 500 {
		return Exhaust
	}

	return r.retryOrExhaust(d)
}

// retryOrExhaust returns Retry if the delivery has attempts remaining,
// otherwise Exhaust.
func (r *Retrier) retryOrExhaust(d *Delivery) Decision {
	if d.AttemptCount < d.MaxAttempts {
		return Retry
	}
	return Exhaust
}

// ComputeNextAttempt returns the time at which the next attempt should be
// made, given how many attempts have already completed.
func (r *Retrier) ComputeNextAttempt(attemptCount int) time.Time {
	return time.Now().UTC().Add(r.Delay(attemptCount))
}

// Delay computes the backoff delay for the given attempt number (1-based):
// base doubled per prior attempt, capped, with jitter applied.
func (r *Retrier) Delay(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}

	delay := r.backoff.Base
	for i := 1; i < attemptCount && delay < r.backoff.Max; i++ {
		delay *= 2
	}
	if delay > r.backoff.Max {
		delay = r.backoff.Max
	}

	if r.backoff.Jitter > 0 {
		spread := float64(delay) * r.backoff.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}
