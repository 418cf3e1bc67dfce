package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"driftmirror/internal/database"
	"driftmirror/internal/subscriptions"
)

// NotifyHandler is the Notification Sink: it answers the provider's
// validation handshake and, for ordinary payloads, authenticates each
// notification's shared secret before enqueueing a reconciliation job. A
// dropped or malformed notification is never fatal — the cursor, not the
// notification body, is the source of replay truth.
type NotifyHandler struct {
	db     *database.DB
	subs   *subscriptions.Manager
	logger *slog.Logger
}

func NewNotifyHandler(db *database.DB, subs *subscriptions.Manager) *NotifyHandler {
	return &NotifyHandler{db: db, subs: subs, logger: slog.Default().With("component", "handlers.notify")}
}

// notification mirrors one entry of the provider's push payload.
type notification struct {
	SubscriptionID string `json:"subscriptionId"`
	Resource       string `json:"resource"`
	ChangeType     string `json:"changeType"`
	ClientState    string `json:"clientState"`
}

type notificationPayload struct {
	Value []notification `json:"value"`
}

func (h *NotifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(token))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read notification body", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var payload notificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Error("malformed notification payload", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	depth, err := h.db.QueueDepth()
	if err != nil {
		h.logger.Error("failed to read queue depth", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check queue capacity")
		return
	}
	if depth >= database.MaxQueueDepth {
		h.logger.Warn("notification queue full, returning retryable error", "depth", depth)
		writeError(w, http.StatusServiceUnavailable, "queue full, retry later")
		return
	}

	enqueued := 0
	traceID := uuid.NewString()
	for _, n := range payload.Value {
		ok, err := h.subs.AuthenticateNotification(n.SubscriptionID, n.ClientState)
		if err != nil {
			h.logger.Error("failed to authenticate notification", "error", err, "subscription_id", n.SubscriptionID)
			continue
		}
		if !ok {
			h.logger.Warn("dropping notification with invalid shared secret", "subscription_id", n.SubscriptionID)
			continue
		}

		driveID, err := h.subs.ResourceForProviderSubscription(n.SubscriptionID)
		if err != nil || driveID == "" {
			h.logger.Warn("dropping notification for unknown subscription", "subscription_id", n.SubscriptionID)
			continue
		}

		if _, err := h.db.EnqueueJob(driveID, n.Resource, n.ChangeType, traceID); err != nil {
			h.logger.Error("failed to enqueue reconciliation job", "error", err)
			continue
		}
		enqueued++
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"received": len(payload.Value),
		"enqueued": enqueued,
		"ts":       time.Now().UTC().Format(time.RFC3339),
	})
}
