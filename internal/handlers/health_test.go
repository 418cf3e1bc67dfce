package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthReturnsOKWhenStoreReachable(t *testing.T) {
	db := setupTestDB(t)
	h := NewHealthHandler(db)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHealthReturnsUnavailableAfterClose(t *testing.T) {
	db := setupTestDB(t)
	h := NewHealthHandler(db)
	db.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
