package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"driftmirror/internal/metrics"
)

// GetCursor returns the stored cursor for a drive, or nil if the drive has
// never completed a sync (meaning the next pass is a full sync).
func (db *DB) GetCursor(driveID string) (*string, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetCursor))
	defer timer.ObserveDuration()

	var cursor sql.NullString
	err := db.conn.QueryRow(`SELECT cursor FROM drive_cursors WHERE drive_id = ?`, driveID).Scan(&cursor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetCursor).Inc()
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if !cursor.Valid || cursor.String == "" {
		return nil, nil
	}
	return &cursor.String, nil
}

// SetCursor upserts the drive's cursor, called after a reconciliation pass
// commits every item in its page.
func (db *DB) SetCursor(driveID, cursor string) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSetCursor))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`
		INSERT INTO drive_cursors (drive_id, cursor, last_sync_at)
		VALUES (?, ?, ?)
		ON CONFLICT(drive_id) DO UPDATE SET cursor = excluded.cursor, last_sync_at = excluded.last_sync_at
	`, driveID, cursor, time.Now().Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSetCursor).Inc()
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	return nil
}

// ClearCursor forces the next sync for a drive to be a full sync, used by
// perform_initial_sync.
func (db *DB) ClearCursor(driveID string) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpClearCursor))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`
		INSERT INTO drive_cursors (drive_id, cursor, last_sync_at)
		VALUES (?, NULL, NULL)
		ON CONFLICT(drive_id) DO UPDATE SET cursor = NULL
	`, driveID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpClearCursor).Inc()
		return fmt.Errorf("failed to clear cursor: %w", err)
	}
	return nil
}
