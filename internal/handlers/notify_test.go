package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"driftmirror/internal/database"
	"driftmirror/internal/gateway"
	"driftmirror/internal/subscriptions"
)

func futureExpiry() time.Time {
	return time.Now().Add(70 * time.Hour)
}

func newTestNotifyHandler(t *testing.T) (*NotifyHandler, *subscriptions.Manager, string) {
	t.Helper()
	db := setupTestDB(t)
	client := gateway.NewClient("http://unused.invalid", "bearer", nil)
	subs := subscriptions.New(client, db, 32, nil)

	sub, err := db.UpsertSubscription("prov-1", "drive-1", "a-very-long-shared-secret-value!", futureExpiry())
	if err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}
	return NewNotifyHandler(db, subs), subs, sub.SharedSecret
}

func TestNotifyHandshakeEchoesToken(t *testing.T) {
	h, _, _ := newTestNotifyHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/notify?validationToken=abc123", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "abc123" {
		t.Errorf("expected body to echo challenge token, got %q", got)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain content type, got %q", ct)
	}
}

func TestNotifyAuthenticatedPayloadEnqueuesJob(t *testing.T) {
	h, _, secret := newTestNotifyHandler(t)

	payload := notificationPayload{Value: []notification{
		{SubscriptionID: "prov-1", Resource: "drive-1/item-1", ChangeType: "updated", ClientState: secret},
	}}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["enqueued"].(float64) != 1 {
		t.Errorf("expected 1 job enqueued, got %v", resp["enqueued"])
	}

	depth, err := h.db.QueueDepth()
	if err != nil {
		t.Fatalf("failed to get queue depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("expected queue depth 1, got %d", depth)
	}
}

func TestNotifyMismatchedSecretDropsWithoutEnqueue(t *testing.T) {
	h, _, _ := newTestNotifyHandler(t)

	payload := notificationPayload{Value: []notification{
		{SubscriptionID: "prov-1", Resource: "drive-1/item-1", ChangeType: "updated", ClientState: "wrong-secret"},
	}}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["enqueued"].(float64) != 0 {
		t.Errorf("expected 0 jobs enqueued for mismatched secret, got %v", resp["enqueued"])
	}

	depth, err := h.db.QueueDepth()
	if err != nil {
		t.Fatalf("failed to get queue depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("expected queue depth 0, got %d", depth)
	}
}

func TestNotifyReturnsRetryableErrorWhenQueueFull(t *testing.T) {
	h, _, secret := newTestNotifyHandler(t)

	original := database.MaxQueueDepth
	database.MaxQueueDepth = 1
	t.Cleanup(func() { database.MaxQueueDepth = original })

	if _, err := h.db.EnqueueJob("drive-1", "drive-1/filler", "updated", "trace-filler"); err != nil {
		t.Fatalf("failed to pre-fill queue: %v", err)
	}

	payload := notificationPayload{Value: []notification{
		{SubscriptionID: "prov-1", Resource: "drive-1/item-1", ChangeType: "updated", ClientState: secret},
	}}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when queue is full, got %d", w.Code)
	}

	depth, err := h.db.QueueDepth()
	if err != nil {
		t.Fatalf("failed to get queue depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("expected queue depth to remain 1 (notification rejected, not enqueued), got %d", depth)
	}
}

func TestNotifyMalformedBodyReturns400(t *testing.T) {
	h, _, _ := newTestNotifyHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
