package reconcile

import (
	"fmt"

	"driftmirror/internal/database"
	"driftmirror/internal/gateway"
	"driftmirror/internal/metrics"
)

// applyItem runs the classify-and-apply step for one observed item, with its
// parent already resolved (or nil if it should be upserted as an orphan).
// The Item mutation and its ChangeEvent, if any, commit in one transaction.
func (e *Engine) applyItem(driveID string, obs gateway.DeltaItem, parentInternalID *int64) (bool, error) {
	prev, err := e.db.LookupItemByExternalID(obs.ExternalID)
	if err != nil {
		return false, fmt.Errorf("look up item %s: %w", obs.ExternalID, err)
	}

	if obs.Tombstone {
		return e.applyTombstone(prev)
	}
	return e.applyLive(driveID, obs, prev, parentInternalID)
}

func (e *Engine) applyTombstone(prev *database.Item) (bool, error) {
	if prev == nil || prev.Deleted {
		return false, nil
	}

	tx, err := e.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tombstone transaction: %w", err)
	}
	defer tx.Rollback()

	if err := database.MarkItemDeletedTx(tx, prev.InternalID); err != nil {
		return false, err
	}
	oldName := prev.Name
	if _, err := database.AppendEventTx(tx, &database.ChangeEvent{
		ItemInternalID: prev.InternalID,
		Kind:           database.EventKindDelete,
		OldName:        &oldName,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tombstone: %w", err)
	}

	e.paths.invalidate(prev.InternalID)
	metrics.ChangeEventsTotal.WithLabelValues(string(database.EventKindDelete)).Inc()
	return true, nil
}

func (e *Engine) applyLive(driveID string, obs gateway.DeltaItem, prev *database.Item, parentInternalID *int64) (bool, error) {
	kind := database.KindFile
	if obs.KindFlag == "folder" {
		kind = database.KindFolder
	}

	path, err := e.paths.resolve(parentInternalID, obs.Name)
	if err != nil {
		return false, fmt.Errorf("resolve path: %w", err)
	}

	if prev == nil {
		return e.applyCreate(driveID, obs, kind, path, parentInternalID)
	}
	return e.applyMutation(obs, prev, kind, path, parentInternalID)
}

func (e *Engine) applyCreate(driveID string, obs gateway.DeltaItem, kind database.Kind, path string, parentInternalID *int64) (bool, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin create transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := database.UpsertItemTx(tx, obs.ExternalID, driveID, obs.Name, kind, path, parentInternalID)
	if err != nil {
		return false, err
	}
	newName := obs.Name
	if _, err := database.AppendEventTx(tx, &database.ChangeEvent{
		ItemInternalID:      item.InternalID,
		Kind:                database.EventKindCreate,
		NewName:             &newName,
		NewParentInternalID: parentInternalID,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit create: %w", err)
	}

	metrics.ChangeEventsTotal.WithLabelValues(string(database.EventKindCreate)).Inc()
	return true, nil
}

func (e *Engine) applyMutation(obs gateway.DeltaItem, prev *database.Item, kind database.Kind, path string, parentInternalID *int64) (bool, error) {
	nameChanged := obs.Name != prev.Name
	parentChanged := !parentEqual(parentInternalID, prev.ParentInternalID)
	undelete := prev.Deleted

	eventKind, emit := decideEventKind(nameChanged, parentChanged, undelete)

	tx, err := e.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin mutation transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := database.UpsertItemTx(tx, obs.ExternalID, prev.DriveID, obs.Name, kind, path, parentInternalID)
	if err != nil {
		return false, err
	}

	if emit {
		event := &database.ChangeEvent{ItemInternalID: item.InternalID, Kind: eventKind}
		if nameChanged {
			oldName, newName := prev.Name, obs.Name
			event.OldName, event.NewName = &oldName, &newName
		}
		if parentChanged {
			event.OldParentInternalID, event.NewParentInternalID = prev.ParentInternalID, parentInternalID
		}
		if _, err := database.AppendEventTx(tx, event); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit mutation: %w", err)
	}

	if nameChanged || parentChanged {
		e.paths.invalidate(item.InternalID)
	}
	if emit {
		metrics.ChangeEventsTotal.WithLabelValues(string(eventKind)).Inc()
	}
	return emit, nil
}

// decideEventKind implements §4.5's table: parent change dominates name
// change in the tie-break, and an unchanged name+parent is a no-op SKIP;
// other metadata such as modification time is not compared. An undelete always emits UPDATE when
// nothing else about identity changed, since the provider re-created the
// item at the same external id.
func decideEventKind(nameChanged, parentChanged, undelete bool) (database.EventKind, bool) {
	switch {
	case nameChanged && parentChanged:
		return database.EventKindMove, true
	case parentChanged:
		return database.EventKindMove, true
	case nameChanged:
		return database.EventKindRename, true
	case undelete:
		return database.EventKindUpdate, true
	default:
		return "", false
	}
}

func parentEqual(a, b *int64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
