package outhook

import (
	"log/slog"
	"time"

	"github.com/RestDB/outhook/delivery"
	"github.com/RestDB/outhook/dlq"
	"github.com/RestDB/outhook/observability"
	"github.com/RestDB/outhook/ratelimit"
	"github.com/RestDB/outhook/schema"
	"github.com/RestDB/outhook/store"
	"github.com/RestDB/outhook/subscription"
	"github.com/RestDB/outhook/verification"
)

// Outhook is the root webhook delivery engine.
type Outhook struct {
	config   Config
	store    store.Store
	registry *subscription.Registry
	engine   *delivery.Engine
	verifier *verification.Coordinator
	dlqSvc   *dlq.Service
	schemas  *schema.Registry
	limiter  *ratelimit.Limiter
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *slog.Logger
}

// Option configures an Outhook instance.
type Option func(*Outhook) error

// New creates a new Outhook with the given options.
func New(opts ...Option) (*Outhook, error) {
	o := &Outhook{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.store == nil {
		return nil, ErrNoStore
	}
	o.wireServices()
	return o, nil
}

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(o *Outhook) error {
		o.store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Outhook) error {
		o.logger = logger
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(o *Outhook) error {
		o.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the delivery engine checks for pending deliveries.
func WithPollInterval(d time.Duration) Option {
	return func(o *Outhook) error {
		o.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of deliveries dequeued per poll cycle.
func WithBatchSize(n int) Option {
	return func(o *Outhook) error {
		o.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Outhook) error {
		o.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the maximum number of delivery attempts per task.
func WithMaxAttempts(n int) Option {
	return func(o *Outhook) error {
		o.config.MaxAttempts = n
		return nil
	}
}

// WithBackoff sets the retry backoff configuration.
func WithBackoff(cfg delivery.BackoffConfig) Option {
	return func(o *Outhook) error {
		o.config.Backoff = cfg
		return nil
	}
}

// WithFailureCeiling sets the consecutive-failure count at which a
// subscription transitions to failed.
func WithFailureCeiling(n int) Option {
	return func(o *Outhook) error {
		o.config.FailureCeiling = n
		return nil
	}
}

// WithHandshakeTimeout sets the HTTP timeout for verification handshakes.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Outhook) error {
		o.config.HandshakeTimeout = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Outhook) error {
		o.config.ShutdownTimeout = d
		return nil
	}
}

// WithMetrics attaches metric instruments to the delivery engine.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Outhook) error {
		o.metrics = m
		return nil
	}
}

// WithTracer attaches an OpenTelemetry tracer to the delivery engine.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Outhook) error {
		o.tracer = t
		return nil
	}
}

// WithSchema registers a JSON Schema for an event type. Payloads of that
// type are validated at intake; all other types remain opaque.
func WithSchema(eventType string, schemaDoc any) Option {
	return func(o *Outhook) error {
		if o.schemas == nil {
			o.schemas = schema.NewRegistry()
		}
		o.schemas.Register(eventType, schemaDoc)
		return nil
	}
}
