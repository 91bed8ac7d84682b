package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/RestDB/outhook/event"
	"github.com/RestDB/outhook/signature"
	"github.com/RestDB/outhook/subscription"
)

const maxResponseBody = 1024 // 1KB cap on response body storage

// Sender performs HTTP webhook delivery.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send delivers an event to a subscription's endpoint and returns the result.
//
// The wire payload is the event envelope {id, type, data, created},
// serialized exactly once; the signature covers "{timestamp}.{body}" over
// those same bytes so receivers can verify byte-for-byte.
func (s *Sender) Send(ctx context.Context, sub *subscription.Subscription, evt *event.Event, d *Delivery) Result {
	body, err := evt.MarshalEnvelope()
	if err != nil {
		return Result{Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	// Standard headers.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Outhook/1.0")
	req.Header.Set("X-Webhook-Id", sub.ID.String())
	req.Header.Set("X-Webhook-Event-Id", evt.ID.String())

	// HMAC signature.
	ts := time.Now().Unix()
	sig := signature.Sign(body, sub.Secret, ts)
	req.Header.Set("X-Webhook-Signature", sig)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(ts, 10))

	// Custom subscription headers.
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a user-configured webhook destination; SSRF is by design.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: int(latency),
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("read response: %v", readErr),
			LatencyMs:  int(latency),
		}
	}

	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(respBody),
		LatencyMs:  int(latency),
	}
}
