package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"driftmirror/internal/metrics"
)

// GateState is the optional durable mirror of the in-process Credential Gate
// flag described in §4.3. An operator can inspect gate status here without
// re-bootstrapping, and gate.New reads this row at startup to restore the
// flag.
type GateState struct {
	Enabled   bool
	Principal string
	UpdatedAt time.Time
}

// GetGateState reads the persisted gate mirror. Returns a disabled zero-value
// state (not an error) if no row has ever been written.
func (db *DB) GetGateState() (*GateState, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetGateState))
	defer timer.ObserveDuration()

	var s GateState
	var principal sql.NullString
	var updatedAt int64

	err := db.conn.QueryRow(`SELECT enabled, principal, updated_at FROM gate_state WHERE id = 1`).
		Scan(&s.Enabled, &principal, &updatedAt)
	if err == sql.ErrNoRows {
		return &GateState{}, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetGateState).Inc()
		return nil, fmt.Errorf("failed to get gate state: %w", err)
	}
	s.Principal = principal.String
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

// SetGateState persists the current gate flag and the principal identity
// last validated against the provider, if any.
func (db *DB) SetGateState(enabled bool, principal string) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSetGateState))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`
		INSERT INTO gate_state (id, enabled, principal, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET enabled = excluded.enabled, principal = excluded.principal, updated_at = excluded.updated_at
	`, enabled, principal, time.Now().Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSetGateState).Inc()
		return fmt.Errorf("failed to set gate state: %w", err)
	}
	return nil
}
