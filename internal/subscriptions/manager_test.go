package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"driftmirror/internal/database"
	"driftmirror/internal/gateway"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Init(); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnsureLiveCreatesWhenAbsent(t *testing.T) {
	var createdResource string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/subscriptions" {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			createdResource = body["resource"].(string)
			json.NewEncoder(w).Encode(map[string]any{
				"id":                 "prov-1",
				"resource":           createdResource,
				"expirationDateTime": time.Now().Add(TSub),
			})
			return
		}
		t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	db := setupTestDB(t)
	client := gateway.NewClient(server.URL, "bearer", nil)
	mgr := New(client, db, 32, nil)

	sub, err := mgr.EnsureLive(context.Background(), "drive-1/root", "https://example.com/notify")
	if err != nil {
		t.Fatalf("Failed to ensure live subscription: %v", err)
	}
	if sub.ProviderSubscriptionID != "prov-1" {
		t.Errorf("Expected provider subscription id prov-1, got %s", sub.ProviderSubscriptionID)
	}
	if len(sub.SharedSecret) < defaultSharedSecretLen {
		t.Errorf("Expected shared secret of at least %d chars, got %d", defaultSharedSecretLen, len(sub.SharedSecret))
	}
	if createdResource != "drive-1/root" {
		t.Errorf("Expected create call for drive-1/root, got %s", createdResource)
	}
}

func TestEnsureLiveHonorsRaisedSharedSecretFloor(t *testing.T) {
	var createdSecretLen int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		createdSecretLen = len(body["clientState"].(string))
		json.NewEncoder(w).Encode(map[string]any{
			"id":                 "prov-1",
			"resource":           "drive-1/root",
			"expirationDateTime": time.Now().Add(TSub),
		})
	}))
	defer server.Close()

	db := setupTestDB(t)
	client := gateway.NewClient(server.URL, "bearer", nil)
	mgr := New(client, db, 64, nil)

	if _, err := mgr.EnsureLive(context.Background(), "drive-1/root", "https://example.com/notify"); err != nil {
		t.Fatalf("Failed to ensure live subscription: %v", err)
	}
	if createdSecretLen <= defaultSharedSecretLen {
		t.Errorf("Expected a secret longer than the default floor when configured with 64, got length %d", createdSecretLen)
	}
}

func TestEnsureLiveLeavesFreshSubscriptionUnchanged(t *testing.T) {
	calls := map[string]int{}
	expiry := time.Now().Add(TSub)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls[r.Method]++
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]any{
				"id":                 "prov-1",
				"resource":           "drive-1/root",
				"expirationDateTime": expiry,
			})
			return
		}
		t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	db := setupTestDB(t)
	if _, err := db.UpsertSubscription("prov-1", "drive-1/root", "s3cr3t-at-least-32-characters-long", expiry); err != nil {
		t.Fatalf("Failed to seed subscription: %v", err)
	}

	client := gateway.NewClient(server.URL, "bearer", nil)
	mgr := New(client, db, 32, nil)

	sub, err := mgr.EnsureLive(context.Background(), "drive-1/root", "https://example.com/notify")
	if err != nil {
		t.Fatalf("Failed to ensure live subscription: %v", err)
	}
	if sub.ProviderSubscriptionID != "prov-1" {
		t.Errorf("Expected existing subscription to be returned unchanged, got %+v", sub)
	}
	if calls[http.MethodPost] != 0 {
		t.Error("Expected no create call for a fresh subscription")
	}
}

func TestEnsureLiveRenewsNearExpiry(t *testing.T) {
	nearExpiry := time.Now().Add(1 * time.Hour)
	var renewedTo time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"id":                 "prov-1",
				"resource":           "drive-1/root",
				"expirationDateTime": nearExpiry,
			})
		case http.MethodPatch:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			renewedTo, _ = time.Parse(time.RFC3339, body["expirationDateTime"].(string))
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	db := setupTestDB(t)
	if _, err := db.UpsertSubscription("prov-1", "drive-1/root", "s3cr3t-at-least-32-characters-long", nearExpiry); err != nil {
		t.Fatalf("Failed to seed subscription: %v", err)
	}

	client := gateway.NewClient(server.URL, "bearer", nil)
	mgr := New(client, db, 32, nil)

	sub, err := mgr.EnsureLive(context.Background(), "drive-1/root", "https://example.com/notify")
	if err != nil {
		t.Fatalf("Failed to ensure live subscription: %v", err)
	}
	if renewedTo.IsZero() {
		t.Fatal("Expected a renew call to the provider")
	}
	if sub.Expiry.Unix() != renewedTo.Unix() {
		t.Errorf("Expected local expiry %v, got %v", renewedTo, sub.Expiry)
	}
}

func TestEnsureLiveRecreatesWhenProviderRecordGone(t *testing.T) {
	var postCalled bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			http.Error(w, "not found", http.StatusNotFound)
		case http.MethodPost:
			postCalled = true
			json.NewEncoder(w).Encode(map[string]any{
				"id":                 "prov-2",
				"resource":           "drive-1/root",
				"expirationDateTime": time.Now().Add(TSub),
			})
		default:
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	db := setupTestDB(t)
	if _, err := db.UpsertSubscription("prov-1", "drive-1/root", "s3cr3t-at-least-32-characters-long", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Failed to seed subscription: %v", err)
	}

	client := gateway.NewClient(server.URL, "bearer", nil)
	mgr := New(client, db, 32, nil)

	sub, err := mgr.EnsureLive(context.Background(), "drive-1/root", "https://example.com/notify")
	if err != nil {
		t.Fatalf("Failed to ensure live subscription: %v", err)
	}
	if !postCalled {
		t.Error("Expected a create call after the provider record was found gone")
	}
	if sub.ProviderSubscriptionID != "prov-2" {
		t.Errorf("Expected new provider subscription id prov-2, got %s", sub.ProviderSubscriptionID)
	}
}

func TestAuthenticateNotification(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.UpsertSubscription("prov-1", "drive-1/root", "s3cr3t-at-least-32-characters-long", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Failed to seed subscription: %v", err)
	}

	client := gateway.NewClient("http://unused", "bearer", nil)
	mgr := New(client, db, 32, nil)

	ok, err := mgr.AuthenticateNotification("prov-1", "s3cr3t-at-least-32-characters-long")
	if err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}
	if !ok {
		t.Error("Expected matching secret to authenticate")
	}

	ok, err = mgr.AuthenticateNotification("prov-1", "wrong-secret")
	if err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}
	if ok {
		t.Error("Expected mismatched secret to fail authentication")
	}

	ok, err = mgr.AuthenticateNotification("unknown", "whatever")
	if err != nil {
		t.Fatalf("Failed to authenticate: %v", err)
	}
	if ok {
		t.Error("Expected unknown subscription id to fail authentication")
	}
}

func TestSweepExpiredRemovesOnlyWhenProviderGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/subscriptions/prov-gone" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":                 "prov-still-live",
			"resource":           "drive-2/root",
			"expirationDateTime": time.Now().Add(TSub),
		})
	}))
	defer server.Close()

	db := setupTestDB(t)
	if _, err := db.UpsertSubscription("prov-gone", "drive-1/root", "s3cr3t-at-least-32-characters-long", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Failed to seed expired subscription: %v", err)
	}
	if _, err := db.UpsertSubscription("prov-still-live", "drive-2/root", "s3cr3t-at-least-32-characters-long", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Failed to seed expired-but-live subscription: %v", err)
	}

	client := gateway.NewClient(server.URL, "bearer", nil)
	mgr := New(client, db, 32, nil)

	removed, err := mgr.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("Failed to sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected exactly 1 subscription removed, got %d", removed)
	}

	remaining, err := db.FindSubscriptionByProviderID("prov-still-live")
	if err != nil {
		t.Fatalf("Failed to look up remaining subscription: %v", err)
	}
	if remaining == nil {
		t.Error("Expected provider-live subscription to remain despite local expiry")
	}
}
