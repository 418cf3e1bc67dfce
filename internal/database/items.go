package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"driftmirror/internal/metrics"
)

// LookupItemByExternalID looks up an item by its provider-assigned external
// id. External ids are unique across the whole store (a unique index on
// external_id), including tombstoned items, so no drive_id filter is needed.
func (db *DB) LookupItemByExternalID(externalID string) (*Item, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpLookupByExternalID))
	defer timer.ObserveDuration()

	item, err := scanItem(db.conn.QueryRow(`
		SELECT internal_id, drive_id, external_id, name, kind, path, parent_internal_id,
		       created_at, modified_at, deleted
		FROM items WHERE external_id = ?
	`, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpLookupByExternalID).Inc()
		return nil, fmt.Errorf("failed to lookup item by external id: %w", err)
	}
	return item, nil
}

// LookupItemByInternalID looks up an item by its locally assigned primary key.
func (db *DB) LookupItemByInternalID(internalID int64) (*Item, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpLookupByInternalID))
	defer timer.ObserveDuration()

	item, err := scanItem(db.conn.QueryRow(`
		SELECT internal_id, drive_id, external_id, name, kind, path, parent_internal_id,
		       created_at, modified_at, deleted
		FROM items WHERE internal_id = ?
	`, internalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpLookupByInternalID).Inc()
		return nil, fmt.Errorf("failed to lookup item by internal id: %w", err)
	}
	return item, nil
}

// UpsertItem inserts a new item keyed on external_id, or updates the existing
// row's mutable fields (name, kind, path, parent, modified-at, deleted) if one
// already exists. The returned Item always carries the assigned internal id.
func (db *DB) UpsertItem(externalID, driveID, name string, kind Kind, path string, parentInternalID *int64) (*Item, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertItem))
	defer timer.ObserveDuration()

	now := time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO items (drive_id, external_id, name, kind, path, parent_internal_id, created_at, modified_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			path = excluded.path,
			parent_internal_id = excluded.parent_internal_id,
			modified_at = excluded.modified_at,
			deleted = 0
	`, driveID, externalID, name, kind, path, parentInternalID, now, now)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertItem).Inc()
		return nil, fmt.Errorf("failed to upsert item: %w", err)
	}

	return db.LookupItemByExternalID(externalID)
}

// UpsertItemTx is UpsertItem run against an existing transaction, so the
// Reconciliation Engine can commit an item mutation and its ChangeEvent
// atomically per the apply-one-item contract.
func UpsertItemTx(tx *sql.Tx, externalID, driveID, name string, kind Kind, path string, parentInternalID *int64) (*Item, error) {
	now := time.Now().Unix()
	_, err := tx.Exec(`
		INSERT INTO items (drive_id, external_id, name, kind, path, parent_internal_id, created_at, modified_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			path = excluded.path,
			parent_internal_id = excluded.parent_internal_id,
			modified_at = excluded.modified_at,
			deleted = 0
	`, driveID, externalID, name, kind, path, parentInternalID, now, now)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertItem).Inc()
		return nil, fmt.Errorf("failed to upsert item: %w", err)
	}

	item, err := scanItem(tx.QueryRow(`
		SELECT internal_id, drive_id, external_id, name, kind, path, parent_internal_id,
		       created_at, modified_at, deleted
		FROM items WHERE external_id = ?
	`, externalID))
	if err != nil {
		return nil, fmt.Errorf("failed to reread upserted item: %w", err)
	}
	return item, nil
}

// MarkItemDeletedTx is MarkItemDeleted run against an existing transaction.
func MarkItemDeletedTx(tx *sql.Tx, internalID int64) error {
	_, err := tx.Exec(`UPDATE items SET deleted = 1 WHERE internal_id = ?`, internalID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkDeleted).Inc()
		return fmt.Errorf("failed to mark item deleted: %w", err)
	}
	return nil
}

// MarkItemDeleted soft-deletes an item by internal id. The core never hard
// deletes an Item so historical ChangeEvents keep a valid foreign key.
func (db *DB) MarkItemDeleted(internalID int64) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpMarkDeleted))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`UPDATE items SET deleted = 1 WHERE internal_id = ?`, internalID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkDeleted).Inc()
		return fmt.Errorf("failed to mark item deleted: %w", err)
	}
	return nil
}

// ChildrenOf returns the non-deleted direct children of an item.
func (db *DB) ChildrenOf(internalID int64) ([]*Item, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpChildrenOf))
	defer timer.ObserveDuration()

	rows, err := db.conn.Query(`
		SELECT internal_id, drive_id, external_id, name, kind, path, parent_internal_id,
		       created_at, modified_at, deleted
		FROM items WHERE parent_internal_id = ? AND deleted = 0
	`, internalID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpChildrenOf).Inc()
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItemRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating children: %w", err)
	}
	return items, nil
}

// itemUpsertBatch is one entry of a bulk_upsert call.
type itemUpsertBatch struct {
	ExternalID       string
	DriveID          string
	Name             string
	Kind             Kind
	Path             string
	ParentInternalID *int64
}

// BulkUpsertItems applies a batch of item upserts in a single transaction.
func (db *DB) BulkUpsertItems(batch []itemUpsertBatch) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpBulkUpsertItems))
	defer timer.ObserveDuration()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	stmt, err := tx.Prepare(`
		INSERT INTO items (drive_id, external_id, name, kind, path, parent_internal_id, created_at, modified_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			path = excluded.path,
			parent_internal_id = excluded.parent_internal_id,
			modified_at = excluded.modified_at,
			deleted = 0
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare bulk upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range batch {
		if _, err := stmt.Exec(b.DriveID, b.ExternalID, b.Name, b.Kind, b.Path, b.ParentInternalID, now, now); err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpBulkUpsertItems).Inc()
			return fmt.Errorf("failed to upsert item %s: %w", b.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk upsert: %w", err)
	}
	return nil
}

func scanItem(row *sql.Row) (*Item, error) {
	var item Item
	var parentInternalID sql.NullInt64
	var createdAt, modifiedAt int64
	var kind string

	err := row.Scan(
		&item.InternalID, &item.DriveID, &item.ExternalID, &item.Name, &kind, &item.Path,
		&parentInternalID, &createdAt, &modifiedAt, &item.Deleted,
	)
	if err != nil {
		return nil, err
	}
	item.Kind = Kind(kind)
	if parentInternalID.Valid {
		item.ParentInternalID = &parentInternalID.Int64
	}
	item.CreatedAt = time.Unix(createdAt, 0)
	item.ModifiedAt = time.Unix(modifiedAt, 0)
	return &item, nil
}

func scanItemRow(rows *sql.Rows) (*Item, error) {
	var item Item
	var parentInternalID sql.NullInt64
	var createdAt, modifiedAt int64
	var kind string

	err := rows.Scan(
		&item.InternalID, &item.DriveID, &item.ExternalID, &item.Name, &kind, &item.Path,
		&parentInternalID, &createdAt, &modifiedAt, &item.Deleted,
	)
	if err != nil {
		return nil, err
	}
	item.Kind = Kind(kind)
	if parentInternalID.Valid {
		item.ParentInternalID = &parentInternalID.Int64
	}
	item.CreatedAt = time.Unix(createdAt, 0)
	item.ModifiedAt = time.Unix(modifiedAt, 0)
	return &item, nil
}
