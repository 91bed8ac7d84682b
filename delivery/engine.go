package delivery

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/RestDB/outhook/event"
	"github.com/RestDB/outhook/id"
	"github.com/RestDB/outhook/observability"
	"github.com/RestDB/outhook/subscription"
)

// EngineStore is the interface the engine needs for delivery operations.
type EngineStore interface {
	Dequeue(ctx context.Context, limit int) ([]*Delivery, error)
	UpdateDelivery(ctx context.Context, d *Delivery) error
	GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
}

// Recorder reports delivery outcomes back into the subscription registry.
// The engine never mutates subscription statistics directly.
type Recorder interface {
	RecordOutcome(ctx context.Context, subID id.ID, out subscription.Outcome) (*subscription.Subscription, error)
	SetStatus(ctx context.Context, subID id.ID, status subscription.Status) error
}

// DLQPusher records permanently exhausted deliveries in the dead letter queue.
type DLQPusher interface {
	PushExhausted(ctx context.Context, d *Delivery, sub *subscription.Subscription, evt *event.Event, lastError string, lastStatusCode int) error
}

// RateLimiter throttles deliveries per subscription.
type RateLimiter interface {
	Wait(ctx context.Context, key string, rateLimit int) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	Backoff        BackoffConfig
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
}

// Engine is the delivery worker pool that dequeues and processes deliveries.
// Concurrency is bounded by a semaphore so queue depth provides backpressure
// instead of unbounded goroutine growth.
type Engine struct {
	store    EngineStore
	recorder Recorder
	sender   *Sender
	retrier  *Retrier
	dlq      DLQPusher
	limiter  RateLimiter
	config   EngineConfig
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, recorder Recorder, dlq DLQPusher, limiter RateLimiter, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		recorder: recorder,
		sender:   NewSender(cfg.RequestTimeout),
		retrier:  NewRetrier(cfg.Backoff),
		dlq:      dlq,
		limiter:  limiter,
		config:   cfg,
		logger:   logger,
	}
}

// Start begins the delivery workers and poll loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight deliveries to complete.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// pollLoop periodically dequeues pending deliveries and dispatches them to workers.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.Dequeue(ctx, e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, d := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(del *Delivery) {
					defer e.wg.Done()
					defer func() { <-sem }()
					e.process(ctx, del)
				}(d)
			}
		}
	}
}

// process handles a single delivery: fetch subscription + event, send,
// decide, report the outcome into the registry, update the task.
func (e *Engine) process(ctx context.Context, d *Delivery) {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, d.ID.String(), d.EventID.String(), d.SubscriptionID.String())
	}

	sub, err := e.store.GetSubscription(ctx, d.SubscriptionID)
	if err != nil {
		e.logger.ErrorContext(ctx, "get subscription failed",
			"delivery_id", d.ID, "subscription_id", d.SubscriptionID, "error", err)
		if span != nil {
			e.config.Tracer.EndDeliverySpan(span, 0, 0, err.Error())
		}
		return
	}

	// A subscription that left active between enqueue and attempt (failed
	// ceiling, disabled, pending re-verification) stops receiving attempts.
	if !sub.Deliverable() {
		now := time.Now().UTC()
		d.State = StateFailed
		d.LastError = "subscription is not active"
		d.CompletedAt = &now
		if updateErr := e.store.UpdateDelivery(ctx, d); updateErr != nil {
			e.logger.ErrorContext(ctx, "update delivery failed",
				"delivery_id", d.ID, "error", updateErr)
		}
		if span != nil {
			e.config.Tracer.EndDeliverySpan(span, 0, 0, d.LastError)
		}
		return
	}

	evt, err := e.store.GetEvent(ctx, d.EventID)
	if err != nil {
		e.logger.ErrorContext(ctx, "get event failed",
			"delivery_id", d.ID, "event_id", d.EventID, "error", err)
		if span != nil {
			e.config.Tracer.EndDeliverySpan(span, 0, 0, err.Error())
		}
		return
	}

	if e.limiter != nil {
		if waitErr := e.limiter.Wait(ctx, sub.ID.String(), sub.RateLimit); waitErr != nil {
			// Context cancelled while throttled; leave the delivery pending.
			if span != nil {
				e.config.Tracer.EndDeliverySpan(span, 0, 0, waitErr.Error())
			}
			return
		}
	}

	// Perform the HTTP delivery.
	d.AttemptCount++
	result := e.sender.Send(ctx, sub, evt, d)

	// Record result on the delivery task.
	d.LastError = result.Error
	d.LastStatusCode = result.StatusCode
	d.LastResponse = result.Response
	d.LastLatencyMs = result.LatencyMs

	latencySeconds := float64(result.LatencyMs) / 1000.0

	decision := e.retrier.Decide(result, d)

	switch decision {
	case Delivered:
		now := time.Now().UTC()
		d.State = StateDelivered
		d.CompletedAt = &now
		e.record(ctx, d, result)
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("delivered", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
		}
		e.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID, "status", result.StatusCode, "latency_ms", result.LatencyMs)

	case Retry:
		d.NextAttemptAt = e.retrier.ComputeNextAttempt(d.AttemptCount)
		e.record(ctx, d, result)
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("retried", latencySeconds)
		}
		e.logger.DebugContext(ctx, "retry scheduled",
			"delivery_id", d.ID, "attempt", d.AttemptCount, "next_at", d.NextAttemptAt)

	case Exhaust:
		now := time.Now().UTC()
		d.State = StateFailed
		d.CompletedAt = &now
		e.record(ctx, d, result)
		if e.dlq != nil {
			if dlqErr := e.dlq.PushExhausted(ctx, d, sub, evt, result.Error, result.StatusCode); dlqErr != nil {
				e.logger.ErrorContext(ctx, "push to DLQ failed",
					"delivery_id", d.ID, "error", dlqErr)
			}
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("failed", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
			e.config.Metrics.DLQSize.Inc()
		}
		e.logger.WarnContext(ctx, "delivery exhausted",
			"delivery_id", d.ID, "status", result.StatusCode, "error", result.Error)

	case DisableSubscription:
		now := time.Now().UTC()
		d.State = StateFailed
		d.CompletedAt = &now
		e.record(ctx, d, result)
		if disableErr := e.recorder.SetStatus(ctx, d.SubscriptionID, subscription.StatusDisabled); disableErr != nil {
			e.logger.ErrorContext(ctx, "disable subscription failed",
				"subscription_id", d.SubscriptionID, "error", disableErr)
		}
		if e.dlq != nil {
			if dlqErr := e.dlq.PushExhausted(ctx, d, sub, evt, result.Error, result.StatusCode); dlqErr != nil {
				e.logger.ErrorContext(ctx, "push to DLQ failed",
					"delivery_id", d.ID, "error", dlqErr)
			}
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("failed", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
			e.config.Metrics.DLQSize.Inc()
		}
		e.logger.WarnContext(ctx, "subscription disabled (410 Gone)",
			"subscription_id", d.SubscriptionID, "delivery_id", d.ID)
	}

	if span != nil {
		e.config.Tracer.EndDeliverySpan(span, d.LastStatusCode, d.LastLatencyMs, d.LastError)
	}

	if updateErr := e.store.UpdateDelivery(ctx, d); updateErr != nil {
		e.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID, "error", updateErr)
	}
}

// record reports the attempt outcome into the subscription registry. Every
// attempt counts: successes reset the consecutive-failure counter, failures
// advance it toward the failure ceiling.
func (e *Engine) record(ctx context.Context, d *Delivery, result Result) {
	out := subscription.Outcome{
		Success:    result.Success(),
		Error:      result.Error,
		StatusCode: result.StatusCode,
		At:         time.Now().UTC(),
	}
	if !out.Success && out.Error == "" {
		out.Error = "unexpected status " + strconv.Itoa(result.StatusCode)
	}

	if _, err := e.recorder.RecordOutcome(ctx, d.SubscriptionID, out); err != nil {
		e.logger.ErrorContext(ctx, "record outcome failed",
			"subscription_id", d.SubscriptionID, "error", err)
	}
}
