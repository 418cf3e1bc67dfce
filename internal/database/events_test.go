package database

import "testing"

func TestAppendEventAndHistory(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	item, err := db.UpsertItem("ext-a", "drive-1", "Docs", KindFolder, "/Docs", nil)
	if err != nil {
		t.Fatalf("Failed to create item: %v", err)
	}

	name := "Docs"
	if _, err := db.AppendEvent(&ChangeEvent{ItemInternalID: item.InternalID, Kind: EventKindCreate, NewName: &name}); err != nil {
		t.Fatalf("Failed to append event: %v", err)
	}

	history, err := db.HistoryOf(item.InternalID)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(history))
	}
	if history[0].Kind != EventKindCreate {
		t.Errorf("Expected CREATE event, got %s", history[0].Kind)
	}
}

func TestAppendManyEvents(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	item, err := db.UpsertItem("ext-b", "drive-1", "draft.txt", KindFile, "/draft.txt", nil)
	if err != nil {
		t.Fatalf("Failed to create item: %v", err)
	}

	oldName, newName := "draft.txt", "draft-v2.txt"
	events := []*ChangeEvent{
		{ItemInternalID: item.InternalID, Kind: EventKindCreate, NewName: &oldName},
		{ItemInternalID: item.InternalID, Kind: EventKindRename, OldName: &oldName, NewName: &newName},
	}

	if err := db.AppendManyEvents(events); err != nil {
		t.Fatalf("Failed to append events: %v", err)
	}

	history, err := db.HistoryOf(item.InternalID)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(history))
	}
	// HistoryOf orders newest-first; ties broken by insertion id descending.
	if history[0].Kind != EventKindRename {
		t.Errorf("Expected most recent event to be RENAME, got %s", history[0].Kind)
	}
}

func TestHistoryOfEmptyItem(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	history, err := db.HistoryOf(999)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Expected no events, got %d", len(history))
	}
}
