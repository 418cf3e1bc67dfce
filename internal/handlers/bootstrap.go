// Package handlers implements the inbound HTTP surface: bootstrap, the
// notification sink, and a health check.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"driftmirror/internal/config"
	"driftmirror/internal/database"
	"driftmirror/internal/gate"
	"driftmirror/internal/gateway"
	"driftmirror/internal/reconcile"
	"driftmirror/internal/subscriptions"
)

// BootstrapHandler runs gate validation, ensures the drive's subscription is
// live, clears the cursor, enables the gate, and then forces a full initial
// sync — the one sequence an external actor invokes to bring the system from
// cold to serving. If the initial sync fails, the gate stays enabled.
type BootstrapHandler struct {
	db     *database.DB
	client *gateway.Client
	gate   *gate.Gate
	subs   *subscriptions.Manager
	engine *reconcile.Engine
	cfg    *config.Config
	logger *slog.Logger
}

func NewBootstrapHandler(db *database.DB, client *gateway.Client, g *gate.Gate, subs *subscriptions.Manager, engine *reconcile.Engine, cfg *config.Config) *BootstrapHandler {
	return &BootstrapHandler{
		db:     db,
		client: client,
		gate:   g,
		subs:   subs,
		engine: engine,
		cfg:    cfg,
		logger: slog.Default().With("component", "handlers.bootstrap"),
	}
}

type bootstrapResponse struct {
	Principal      string `json:"principal"`
	DriveID        string `json:"drive_id"`
	SubscriptionID string `json:"subscription_id"`
	ItemsProcessed int    `json:"items_processed"`
}

func (h *BootstrapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	result, err := h.gate.Validate(ctx)
	if err != nil {
		h.logger.Error("gate validation transport failure", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to validate credential")
		return
	}
	if !result.Valid {
		h.logger.Warn("bootstrap gate validation failed", "reason", result.Reason)
		writeError(w, http.StatusUnauthorized, "credential invalid")
		return
	}

	driveID, err := h.client.ResolveDefaultDrive(ctx)
	if err != nil {
		h.logger.Error("failed to resolve default drive", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve drive")
		return
	}

	sub, err := h.subs.EnsureLive(ctx, driveID, h.cfg.NotifyURL)
	if err != nil {
		h.logger.Error("failed to ensure subscription live", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to ensure subscription")
		return
	}

	if err := h.db.ClearCursor(driveID); err != nil {
		h.logger.Error("failed to clear cursor for initial sync", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear cursor")
		return
	}

	// The gate must be enabled before ReconcileDrive, which is a no-op while
	// the gate is off.
	h.gate.Enable(result.Principal)

	recResult, err := h.engine.ReconcileDrive(ctx, driveID, "")
	if err != nil {
		h.logger.Error("initial sync failed", "error", err, "drive_id", driveID)
		writeError(w, http.StatusInternalServerError, "initial sync failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(bootstrapResponse{
		Principal:      result.Principal,
		DriveID:        driveID,
		SubscriptionID: sub.ProviderSubscriptionID,
		ItemsProcessed: recResult.ItemsProcessed,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
