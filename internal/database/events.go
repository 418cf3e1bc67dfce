package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"driftmirror/internal/metrics"
)

// AppendEvent inserts one ChangeEvent. Callers that must keep the Item
// mutation and the event insert atomic should use AppendEventTx within their
// own transaction instead.
func (db *DB) AppendEvent(e *ChangeEvent) (int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpAppendEvent))
	defer timer.ObserveDuration()

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := AppendEventTx(tx, e)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpAppendEvent).Inc()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit event append: %w", err)
	}

	metrics.ChangeEventsTotal.WithLabelValues(string(e.Kind)).Inc()
	return id, nil
}

// AppendEventTx inserts a ChangeEvent as part of an already-open transaction,
// the shape required by the reconciliation engine's apply-one-item step so
// that the Item mutation and the event commit or roll back together.
func AppendEventTx(tx *sql.Tx, e *ChangeEvent) (int64, error) {
	now := time.Now().Unix()
	result, err := tx.Exec(`
		INSERT INTO change_events (item_internal_id, kind, old_name, new_name, old_parent_internal_id, new_parent_internal_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ItemInternalID, e.Kind, e.OldName, e.NewName, e.OldParentInternalID, e.NewParentInternalID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to append change event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get change event id: %w", err)
	}
	return id, nil
}

// AppendManyEvents inserts a batch of events in a single transaction.
func (db *DB) AppendManyEvents(events []*ChangeEvent) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpAppendMany))
	defer timer.ObserveDuration()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		if _, err := AppendEventTx(tx, e); err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpAppendMany).Inc()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event batch: %w", err)
	}
	for _, e := range events {
		metrics.ChangeEventsTotal.WithLabelValues(string(e.Kind)).Inc()
	}
	return nil
}

// HistoryOf returns the ChangeEvents for an item ordered by timestamp
// descending, ties broken by insertion id descending (§5's total-order rule).
func (db *DB) HistoryOf(itemInternalID int64) ([]*ChangeEvent, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpHistoryOf))
	defer timer.ObserveDuration()

	rows, err := db.conn.Query(`
		SELECT id, item_internal_id, kind, old_name, new_name, old_parent_internal_id, new_parent_internal_id, timestamp
		FROM change_events
		WHERE item_internal_id = ?
		ORDER BY timestamp DESC, id DESC
	`, itemInternalID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpHistoryOf).Inc()
		return nil, fmt.Errorf("failed to query change event history: %w", err)
	}
	defer rows.Close()

	var events []*ChangeEvent
	for rows.Next() {
		var e ChangeEvent
		var kind string
		var oldParent, newParent sql.NullInt64
		var ts int64

		err := rows.Scan(&e.ID, &e.ItemInternalID, &kind, &e.OldName, &e.NewName, &oldParent, &newParent, &ts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change event: %w", err)
		}
		e.Kind = EventKind(kind)
		if oldParent.Valid {
			e.OldParentInternalID = &oldParent.Int64
		}
		if newParent.Valid {
			e.NewParentInternalID = &newParent.Int64
		}
		e.Timestamp = time.Unix(ts, 0)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change events: %w", err)
	}
	return events, nil
}
