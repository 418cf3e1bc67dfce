// Package gate implements the process-wide Credential Gate: a single atomic
// flag that every worker consults before touching the cursor, the store, or
// the provider. Enable and Disable mirror the flag to the store's gate_state
// row, and New restores it from that row, so a restart resumes in the state
// last recorded; a process with no recorded enabled state begins disabled.
package gate

import (
	"context"
	"log/slog"
	"sync/atomic"

	"driftmirror/internal/database"
	"driftmirror/internal/gateway"
	"driftmirror/internal/metrics"
)

// Gate holds the process-wide enabled flag plus the principal that last
// validated it, for observability.
type Gate struct {
	enabled   atomic.Bool
	client    *gateway.Client
	db        *database.DB
	logger    *slog.Logger
	principal atomic.Value // string
}

func New(client *gateway.Client, db *database.DB, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{client: client, db: db, logger: logger.With("component", "gate")}
	g.principal.Store("")
	metrics.GateEnabled.Set(0)

	if db != nil {
		if state, err := db.GetGateState(); err == nil && state.Enabled {
			g.enabled.Store(true)
			g.principal.Store(state.Principal)
			metrics.GateEnabled.Set(1)
		}
	}
	return g
}

// ValidationResult is the Ok{principal} | Err{reason} union validate returns.
type ValidationResult struct {
	Valid     bool
	Principal string
	Reason    gateway.ProbeReason
}

// Validate delegates to the gateway's identity probe and does not itself
// mutate the gate's enabled state; callers decide whether to Enable/Disable
// based on the result.
func (g *Gate) Validate(ctx context.Context) (*ValidationResult, error) {
	result, err := g.client.ProbeIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if result.Valid {
		return &ValidationResult{Valid: true, Principal: result.PrincipalName}, nil
	}
	return &ValidationResult{Valid: false, Reason: result.Reason}, nil
}

// Enable flips the gate on, visible to every worker on its next poll.
func (g *Gate) Enable(principal string) {
	g.enabled.Store(true)
	g.principal.Store(principal)
	metrics.GateEnabled.Set(1)
	g.logger.Info("gate enabled", "principal", principal)

	if g.db != nil {
		if err := g.db.SetGateState(true, principal); err != nil {
			g.logger.Warn("failed to persist gate state", "error", err)
		}
	}
}

// Disable flips the gate off. Called by any worker that observes
// AUTH_INVALID from the gateway; recovery requires an external bootstrap.
func (g *Gate) Disable() {
	g.enabled.Store(false)
	g.principal.Store("")
	metrics.GateEnabled.Set(0)
	g.logger.Warn("gate disabled")

	if g.db != nil {
		if err := g.db.SetGateState(false, ""); err != nil {
			g.logger.Warn("failed to persist gate state", "error", err)
		}
	}
}

func (g *Gate) IsEnabled() bool {
	return g.enabled.Load()
}

func (g *Gate) Principal() string {
	v, _ := g.principal.Load().(string)
	return v
}

// DisableOnAuthInvalid inspects err and disables the gate if it signals an
// invalid credential, per the contract that every worker observing
// AUTH_INVALID must disable before returning.
func (g *Gate) DisableOnAuthInvalid(err error) {
	if gateway.IsAuthInvalid(err) {
		g.Disable()
	}
}

