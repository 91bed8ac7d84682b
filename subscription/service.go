package subscription

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/internal/entity"
	"github.com/RestDB/outhook/signature"
)

// DefaultFailureCeiling is the consecutive-failure count at which a
// subscription transitions to StatusFailed.
const DefaultFailureCeiling = 10

// Registry provides subscription management operations. It is the single
// owner of subscription records and their delivery statistics.
type Registry struct {
	store          Store
	failureCeiling int
	logger         *slog.Logger
}

// Config holds registry configuration.
type Config struct {
	// FailureCeiling is the consecutive-failure count at which a
	// subscription transitions to StatusFailed. Defaults to
	// DefaultFailureCeiling when zero.
	FailureCeiling int
}

// NewRegistry creates a new subscription registry.
func NewRegistry(store Store, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ceiling := cfg.FailureCeiling
	if ceiling <= 0 {
		ceiling = DefaultFailureCeiling
	}
	return &Registry{
		store:          store,
		failureCeiling: ceiling,
		logger:         logger,
	}
}

// Create registers a new webhook subscription. The signing secret is
// generated server-side; callers see it exactly once, in the returned
// record. Unless the verification mode is ModeNone, the subscription starts
// in StatusPendingVerification and must pass its handshake before fan-out.
func (r *Registry) Create(ctx context.Context, in Input) (*Subscription, error) {
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}
	if len(in.Events) == 0 {
		return nil, &ValidationError{Field: "events", Message: "at least one event type pattern required"}
	}

	mode, err := ParseMode(string(in.Mode))
	if err != nil {
		return nil, &ValidationError{Field: "verification_mode", Message: err.Error()}
	}

	status := StatusPendingVerification
	if mode == ModeNone {
		status = StatusActive
	}

	sub := &Subscription{
		Entity:    entity.New(),
		ID:        id.NewSubscriptionID(),
		URL:       in.URL,
		Events:    in.Events,
		Mode:      mode,
		Secret:    signature.GenerateSecret(),
		Status:    status,
		Headers:   in.Headers,
		RateLimit: in.RateLimit,
		Metadata:  in.Metadata,
	}

	if err := r.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "subscription created",
		"subscription_id", sub.ID,
		"status", sub.Status,
		"mode", sub.Mode,
	)

	return sub, nil
}

// Get returns a subscription by ID.
func (r *Registry) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return r.store.GetSubscription(ctx, subID)
}

// Update applies a partial update. Changing the URL or event patterns of an
// already-active subscription does not re-trigger verification.
func (r *Registry) Update(ctx context.Context, subID id.ID, patch Patch) (*Subscription, error) {
	sub, err := r.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if patch.URL != nil {
		if err := validateURL(*patch.URL); err != nil {
			return nil, err
		}
		sub.URL = *patch.URL
	}
	if len(patch.Events) > 0 {
		sub.Events = patch.Events
	}
	if patch.Status != nil {
		switch *patch.Status {
		case StatusActive, StatusDisabled:
			sub.Status = *patch.Status
		default:
			return nil, &ValidationError{Field: "status", Message: "only active and disabled may be set directly"}
		}
	}
	if patch.Mode != nil {
		mode, err := ParseMode(string(*patch.Mode))
		if err != nil {
			return nil, &ValidationError{Field: "verification_mode", Message: err.Error()}
		}
		sub.Mode = mode
		// Dropping verification while still unverified activates immediately.
		if mode == ModeNone && sub.Status == StatusPendingVerification {
			sub.Status = StatusActive
			sub.VerificationError = ""
		}
	}
	if patch.Headers != nil {
		sub.Headers = patch.Headers
	}
	if patch.RateLimit != nil && *patch.RateLimit >= 0 {
		sub.RateLimit = *patch.RateLimit
	}
	if patch.Metadata != nil {
		sub.Metadata = patch.Metadata
	}

	sub.Touch()
	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// Delete removes a subscription.
func (r *Registry) Delete(ctx context.Context, subID id.ID) error {
	return r.store.DeleteSubscription(ctx, subID)
}

// List returns subscriptions matching the given options.
func (r *Registry) List(ctx context.Context, opts ListOpts) ([]*Subscription, error) {
	return r.store.ListSubscriptions(ctx, opts)
}

// Resolve returns the active subscriptions matching an event type. This is
// the fan-out set for event intake.
func (r *Registry) Resolve(ctx context.Context, eventType string) ([]*Subscription, error) {
	return r.store.Resolve(ctx, eventType)
}

// RecordOutcome applies a delivery outcome to a subscription's statistics.
// The configured failure ceiling is injected so the store can apply the
// failed-status transition in the same atomic update.
func (r *Registry) RecordOutcome(ctx context.Context, subID id.ID, out Outcome) (*Subscription, error) {
	if out.At.IsZero() {
		out.At = time.Now().UTC()
	}
	out.FailureCeiling = r.failureCeiling

	sub, err := r.store.RecordDeliveryOutcome(ctx, subID, out)
	if err != nil {
		return nil, err
	}

	if sub.Status == StatusFailed && !out.Success {
		r.logger.WarnContext(ctx, "subscription crossed failure ceiling",
			"subscription_id", subID,
			"consecutive_failures", sub.ConsecutiveFailures,
		)
	}

	return sub, nil
}

// Retry forces a failed subscription back to active, clearing its
// consecutive-failure counter. It is a no-op on subscriptions that are not
// in StatusFailed.
func (r *Registry) Retry(ctx context.Context, subID id.ID) (*Subscription, error) {
	sub, err := r.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if sub.Status != StatusFailed {
		return sub, nil
	}

	sub.Status = StatusActive
	sub.ConsecutiveFailures = 0
	sub.Touch()

	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "subscription reactivated",
		"subscription_id", subID,
	)

	return sub, nil
}

// SetStatus updates only the lifecycle status of a subscription.
func (r *Registry) SetStatus(ctx context.Context, subID id.ID, status Status) error {
	return r.store.SetStatus(ctx, subID, status)
}

// RotateSecret generates a new signing secret for a subscription and
// returns it. Like the creation secret, it is only exposed in this response.
func (r *Registry) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	sub, err := r.store.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	sub.Secret = signature.GenerateSecret()
	sub.Touch()
	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		return "", err
	}

	return sub.Secret, nil
}

// Stats returns the delivery statistics snapshot for a subscription.
func (r *Registry) Stats(ctx context.Context, subID id.ID) (Stats, error) {
	sub, err := r.store.GetSubscription(ctx, subID)
	if err != nil {
		return Stats{}, err
	}
	return StatsOf(sub), nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &ValidationError{Field: "url", Message: "must be a well-formed absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "scheme must be http or https"}
	}
	return nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "subscription validation: " + e.Field + ": " + e.Message
}
