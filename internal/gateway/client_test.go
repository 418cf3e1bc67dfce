package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbeIdentitySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			t.Errorf("Expected path /me, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-bearer" {
			t.Errorf("Expected bearer auth header, got %s", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "user-1", "userPrincipalName": "alice@example.com"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-bearer", nil)
	result, err := client.ProbeIdentity(context.Background())
	if err != nil {
		t.Fatalf("Failed to probe identity: %v", err)
	}
	if !result.Valid {
		t.Fatal("Expected probe result to be valid")
	}
	if result.UserID != "user-1" || result.PrincipalName != "alice@example.com" {
		t.Errorf("Unexpected probe result: %+v", result)
	}
}

func TestProbeIdentityExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "stale-bearer", nil)
	result, err := client.ProbeIdentity(context.Background())
	if err != nil {
		t.Fatalf("ProbeIdentity should never return an error, got %v", err)
	}
	if result.Valid {
		t.Fatal("Expected probe result to be invalid")
	}
	if result.Reason != ProbeReasonExpired {
		t.Errorf("Expected reason EXPIRED, got %s", result.Reason)
	}
}

func TestProbeIdentityForbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, "bearer", nil)
	result, err := client.ProbeIdentity(context.Background())
	if err != nil {
		t.Fatalf("ProbeIdentity should never return an error, got %v", err)
	}
	if result.Reason != ProbeReasonForbidden {
		t.Errorf("Expected reason FORBIDDEN, got %s", result.Reason)
	}
}

func TestProbeIdentityUnknownStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer server.Close()

	client := NewClient(server.URL, "bearer", nil)
	result, err := client.ProbeIdentity(context.Background())
	if err != nil {
		t.Fatalf("ProbeIdentity should never return an error, got %v", err)
	}
	if result.Reason != ProbeReasonUnknown {
		t.Errorf("Expected reason UNKNOWN, got %s", result.Reason)
	}
}

func TestResolveDefaultDrive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/drive" {
			t.Errorf("Expected path /drive, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "drive-123"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "bearer", nil)
	driveID, err := client.ResolveDefaultDrive(context.Background())
	if err != nil {
		t.Fatalf("Failed to resolve default drive: %v", err)
	}
	if driveID != "drive-123" {
		t.Errorf("Expected drive-123, got %s", driveID)
	}
}

func TestFatalErrorNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, "bearer", nil)
	_, err := client.ResolveDefaultDrive(context.Background())
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}
	var ge *Error
	if !asError(err, &ge) || ge.Reason != Fatal {
		t.Errorf("Expected FATAL reason, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected exactly 1 call for a fatal error, got %d", calls)
	}
}
