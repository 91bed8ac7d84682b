// Package outhook provides a composable outgoing webhook delivery engine for Go.
//
// Outhook is a library — not a service. Import it into your application to
// register webhook subscriptions, trigger named events, and fan them out as
// signed HTTP deliveries with retries, failure tracking, and endpoint
// verification handshakes.
//
// Key features:
//   - Subscription registry with event-pattern matching ("order.created", "order.*", "*")
//   - HMAC-SHA256 "v1=" signatures over "{timestamp}.{body}" on every delivery
//   - Exponential backoff retries with jitter and a dead letter queue
//   - Token-ping and challenge-echo verification handshakes before activation
//   - Consecutive-failure ceiling that parks unhealthy subscriptions
//   - Composable store pattern with multiple backends (Postgres, SQLite, Redis, Memory)
//   - Per-subscription rate limiting
//
// Quick start:
//
//	o, err := outhook.New(
//	    outhook.WithStore(memoryStore),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	o.Start(ctx)
//
//	sub, _ := o.CreateSubscription(ctx, subscription.Input{
//	    URL:    "https://example.com/webhook",
//	    Events: []string{"order.created"},
//	})
//	_ = sub.Secret // shown exactly once
//
//	o.Trigger(ctx, "order.created", map[string]any{"order_id": "o_01h..."})
package outhook
