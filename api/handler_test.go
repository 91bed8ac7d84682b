package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RestDB/outhook"
	"github.com/RestDB/outhook/api"
	"github.com/RestDB/outhook/store/memory"
	"github.com/RestDB/outhook/subscription"
)

// testServer creates a Handler backed by a memory store and returns the test server.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	hook, err := outhook.New(outhook.WithStore(memory.New()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	h := api.NewHandler(hook, slog.Default())
	return httptest.NewServer(h)
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

// --- Subscriptions ---

func TestSubscriptions_CRUD(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	// Create
	resp := doJSON(t, "POST", srv.URL+"/webhooks", map[string]any{
		"url":    "https://example.com/webhook",
		"events": []string{"order.*"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	var sub map[string]any
	decodeBody(t, resp, &sub)
	subID, ok := sub["id"].(string)
	if !ok || subID == "" {
		t.Fatal("expected non-empty subscription ID")
	}
	// Secret is returned exactly once, at creation.
	if secret, _ := sub["secret"].(string); secret == "" {
		t.Fatal("expected secret in create response")
	}
	// No verification mode → active immediately.
	if sub["status"] != "active" {
		t.Fatalf("expected active, got %v", sub["status"])
	}

	// Get: secret must not appear.
	resp = doJSON(t, "GET", srv.URL+"/webhooks/"+subID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var got map[string]any
	decodeBody(t, resp, &got)
	if _, leaked := got["secret"]; leaked {
		t.Fatal("secret must not be present in get response")
	}

	// List: array plus a count field.
	resp = doJSON(t, "GET", srv.URL+"/webhooks", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var list struct {
		Data  []map[string]any `json:"data"`
		Count int              `json:"count"`
	}
	decodeBody(t, resp, &list)
	if len(list.Data) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(list.Data))
	}
	if list.Count != 1 {
		t.Fatalf("expected count 1, got %d", list.Count)
	}

	// Update
	resp = doJSON(t, "PATCH", srv.URL+"/webhooks/"+subID, map[string]any{
		"url":    "https://example.com/updated",
		"events": []string{"order.*", "invoice.*"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	var updated map[string]any
	decodeBody(t, resp, &updated)
	if updated["url"] != "https://example.com/updated" {
		t.Fatalf("expected updated URL, got %v", updated["url"])
	}

	// Disable via status patch
	resp = doJSON(t, "PATCH", srv.URL+"/webhooks/"+subID, map[string]any{
		"status": "disabled",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable: expected 200, got %d", resp.StatusCode)
	}
	var disabled map[string]any
	decodeBody(t, resp, &disabled)
	if disabled["status"] != "disabled" {
		t.Fatalf("expected disabled, got %v", disabled["status"])
	}

	// Rotate secret
	resp = doJSON(t, "POST", srv.URL+"/webhooks/"+subID+"/rotate-secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate: expected 200, got %d", resp.StatusCode)
	}
	var secretResp map[string]string
	decodeBody(t, resp, &secretResp)
	if secretResp["secret"] == "" {
		t.Fatal("expected non-empty secret")
	}

	// Stats
	resp = doJSON(t, "GET", srv.URL+"/webhooks/"+subID+"/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
	}
	var stats map[string]any
	decodeBody(t, resp, &stats)
	if _, ok := stats["delivery_count"]; !ok {
		t.Fatal("expected delivery_count in stats response")
	}

	// Delete
	resp = doJSON(t, "DELETE", srv.URL+"/webhooks/"+subID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Get deleted → 404
	resp = doJSON(t, "GET", srv.URL+"/webhooks/"+subID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSubscriptions_CreateMissingFields(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	// Missing events
	resp := doJSON(t, "POST", srv.URL+"/webhooks", map[string]any{
		"url": "https://example.com/webhook",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing events, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Relative URL
	resp = doJSON(t, "POST", srv.URL+"/webhooks", map[string]any{
		"url":    "/relative/path",
		"events": []string{"*"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for relative URL, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// brokenStore fails subscription writes to exercise the 500 path.
type brokenStore struct {
	*memory.Store
}

func (b *brokenStore) CreateSubscription(context.Context, *subscription.Subscription) error {
	return errors.New("backend unavailable")
}

func TestSubscriptions_CreateStoreFailure(t *testing.T) {
	hook, err := outhook.New(outhook.WithStore(&brokenStore{memory.New()}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	srv := httptest.NewServer(api.NewHandler(hook, slog.Default()))
	defer srv.Close()

	// A valid request hitting a broken backend is a server error, not a 400.
	resp := doJSON(t, "POST", srv.URL+"/webhooks", map[string]any{
		"url":    "https://example.com/webhook",
		"events": []string{"*"},
	})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 for store failure, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSubscriptions_ListFilters(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	for _, events := range [][]string{{"order.*"}, {"user.*"}} {
		resp := doJSON(t, "POST", srv.URL+"/webhooks", map[string]any{
			"url":    "https://example.com/webhook",
			"events": events,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create: expected 201, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := doJSON(t, "GET", srv.URL+"/webhooks?event=order.created", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var list struct {
		Data  []map[string]any `json:"data"`
		Count int              `json:"count"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 1 {
		t.Fatalf("expected 1 matching subscription, got %d", list.Count)
	}
}

// --- Events ---

func TestEvents_TriggerAndGet(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	// A matching subscription so the trigger fans out.
	resp := doJSON(t, "POST", srv.URL+"/webhooks", map[string]any{
		"url":    "https://example.com/webhook",
		"events": []string{"order.*"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create subscription: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Trigger
	resp = doJSON(t, "POST", srv.URL+"/events/trigger/order.created", map[string]any{
		"data": map[string]any{"order_id": "123"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("trigger: expected 201, got %d", resp.StatusCode)
	}
	var evt map[string]any
	decodeBody(t, resp, &evt)
	evtID, ok := evt["id"].(string)
	if !ok || evtID == "" {
		t.Fatal("expected non-empty event ID")
	}
	if evt["deliveries"] != float64(1) {
		t.Fatalf("expected 1 delivery, got %v", evt["deliveries"])
	}

	// Get
	resp = doJSON(t, "GET", srv.URL+"/events/"+evtID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// List
	resp = doJSON(t, "GET", srv.URL+"/events", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var events []map[string]any
	decodeBody(t, resp, &events)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
}

func TestEvents_TriggerNoSubscribers(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	// Triggering with zero matching subscriptions still records the event.
	resp := doJSON(t, "POST", srv.URL+"/events/trigger/order.created", map[string]any{
		"data": map[string]any{"order_id": "123"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("trigger: expected 201, got %d", resp.StatusCode)
	}
	var evt map[string]any
	decodeBody(t, resp, &evt)
	if evt["deliveries"] != float64(0) {
		t.Fatalf("expected 0 deliveries, got %v", evt["deliveries"])
	}
}

// --- Stats ---

func TestStats(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
	}
	var stats map[string]any
	decodeBody(t, resp, &stats)

	if _, ok := stats["pending_deliveries"]; !ok {
		t.Fatal("expected pending_deliveries in response")
	}
	if _, ok := stats["dlq_size"]; !ok {
		t.Fatal("expected dlq_size in response")
	}
}

// --- DLQ ---

func TestDLQ_ListEmpty(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/dlq", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list dlq: expected 200, got %d", resp.StatusCode)
	}
	var entries []map[string]any
	decodeBody(t, resp, &entries)
	if len(entries) != 0 {
		t.Fatalf("expected 0 entries, got %d", len(entries))
	}
}

func TestDLQ_ReplayNotFound(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "POST", srv.URL+"/dlq/dlq_nonexistent/replay", nil)
	// The ID will fail parsing since it's not a valid DLQ ID format.
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		t.Fatalf("replay nonexistent: expected 400 or 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDLQ_BulkReplayBadBody(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "POST", srv.URL+"/dlq/replay", map[string]any{
		"from": "not-a-date",
		"to":   "2025-01-01T00:00:00Z",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Deliveries ---

func TestDeliveries_ListEmpty(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "POST", srv.URL+"/webhooks", map[string]any{
		"url":    "https://example.com/webhook",
		"events": []string{"*"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create subscription: expected 201, got %d", resp.StatusCode)
	}
	var sub map[string]any
	decodeBody(t, resp, &sub)
	subID := sub["id"].(string)

	resp = doJSON(t, "GET", srv.URL+"/webhooks/"+subID+"/deliveries", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list deliveries: expected 200, got %d", resp.StatusCode)
	}
	var deliveries []map[string]any
	decodeBody(t, resp, &deliveries)
	if len(deliveries) != 0 {
		t.Fatalf("expected 0 deliveries, got %d", len(deliveries))
	}
}

// --- Invalid IDs ---

func TestSubscription_InvalidID(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/webhooks/not-a-valid-id", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEvent_InvalidID(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/events/not-a-valid-id", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
