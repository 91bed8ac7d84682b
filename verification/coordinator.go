// Package verification implements the endpoint ownership handshakes that
// gate a subscription's activation.
//
// Two protocol flavors are supported: a token ping where any 2xx response
// proves liveness (ModeStripe), and a challenge echo where the receiver
// must return the exact challenge value (ModeSlack). A handshake runs once
// per subscription; failures are never retried automatically and are
// surfaced through the subscription's status and verification_error fields.
package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/RestDB/outhook/signature"
	"github.com/RestDB/outhook/subscription"
)

// DefaultTimeout is the default HTTP timeout for a handshake request.
const DefaultTimeout = 10 * time.Second

const maxChallengeBody = 4096 // handshake responses are tiny; cap reads

// tokenPing is the stripe-flavor handshake request body.
type tokenPing struct {
	Type              string `json:"type"`
	VerificationToken string `json:"verification_token"`
	Created           int64  `json:"created"`
}

// challengeRequest is the slack-flavor handshake request body.
type challengeRequest struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
}

// challengeResponse is the expected slack-flavor echo body.
type challengeResponse struct {
	Challenge string `json:"challenge"`
}

// Coordinator runs verification handshakes and records their outcome on
// the subscription.
type Coordinator struct {
	store  subscription.Store
	client *http.Client
	logger *slog.Logger
}

// NewCoordinator creates a handshake coordinator with the given HTTP timeout.
func NewCoordinator(store subscription.Store, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  store,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Run performs the handshake for the subscription's verification mode and
// persists the result. On success the subscription becomes active; on
// failure it stays pending with the failure detail recorded. The given
// record is never mutated, so a caller may hold it across a concurrent Run;
// the outcome is observed by re-reading the subscription. The returned
// error is the handshake failure, for callers that invoke Run directly.
func (c *Coordinator) Run(ctx context.Context, sub *subscription.Subscription) error {
	if sub.Mode == subscription.ModeNone {
		return nil
	}

	var err error
	switch sub.Mode {
	case subscription.ModeStripe:
		err = c.tokenHandshake(ctx, sub)
	case subscription.ModeSlack:
		err = c.challengeHandshake(ctx, sub)
	default:
		err = fmt.Errorf("unsupported verification mode %q", sub.Mode)
	}

	rec := *sub
	if err != nil {
		rec.Status = subscription.StatusPendingVerification
		rec.VerificationError = err.Error()
		rec.Touch()
		if updateErr := c.store.UpdateSubscription(ctx, &rec); updateErr != nil {
			c.logger.ErrorContext(ctx, "record handshake failure failed",
				"subscription_id", sub.ID, "error", updateErr)
		}
		c.logger.WarnContext(ctx, "verification handshake failed",
			"subscription_id", sub.ID, "mode", sub.Mode, "error", err)
		return err
	}

	rec.Status = subscription.StatusActive
	rec.VerificationError = ""
	rec.Touch()
	if updateErr := c.store.UpdateSubscription(ctx, &rec); updateErr != nil {
		c.logger.ErrorContext(ctx, "activate subscription failed",
			"subscription_id", sub.ID, "error", updateErr)
		return updateErr
	}

	c.logger.InfoContext(ctx, "subscription verified",
		"subscription_id", sub.ID, "mode", sub.Mode)
	return nil
}

// tokenHandshake sends a verification token and accepts any 2xx response.
func (c *Coordinator) tokenHandshake(ctx context.Context, sub *subscription.Subscription) error {
	body := tokenPing{
		Type:              "webhook.verification",
		VerificationToken: signature.NewToken(),
		Created:           time.Now().Unix(),
	}

	resp, err := c.post(ctx, sub.URL, body)
	if err != nil {
		return fmt.Errorf("handshake request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxChallengeBody)) //nolint:errcheck // drain for keep-alive

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("handshake rejected with status %d", resp.StatusCode)
	}
	return nil
}

// challengeHandshake sends a random challenge and requires the response body
// to echo it exactly.
func (c *Coordinator) challengeHandshake(ctx context.Context, sub *subscription.Subscription) error {
	challenge := signature.NewChallenge()
	body := challengeRequest{
		Type:      "url_verification",
		Challenge: challenge,
		Token:     signature.NewToken(),
	}

	resp, err := c.post(ctx, sub.URL, body)
	if err != nil {
		return fmt.Errorf("handshake request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("handshake rejected with status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}

	var echo challengeResponse
	if err := json.Unmarshal(raw, &echo); err != nil {
		return fmt.Errorf("handshake response is not valid JSON: %w", err)
	}
	if echo.Challenge != challenge {
		return fmt.Errorf("handshake challenge mismatch")
	}
	return nil
}

func (c *Coordinator) post(ctx context.Context, url string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Outhook/1.0")

	return c.client.Do(req) //nolint:gosec // G704: URL is a user-configured webhook destination; SSRF is by design.
}
