package database

import "testing"

func TestUpsertAndLookupItem(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	item, err := db.UpsertItem("ext-a", "drive-1", "Docs", KindFolder, "/Docs", nil)
	if err != nil {
		t.Fatalf("Failed to upsert item: %v", err)
	}
	if item.InternalID == 0 {
		t.Fatal("Expected non-zero internal id")
	}

	byExternal, err := db.LookupItemByExternalID("ext-a")
	if err != nil {
		t.Fatalf("Failed to lookup by external id: %v", err)
	}
	if byExternal == nil {
		t.Fatal("Expected item, got nil")
	}
	if byExternal.Name != "Docs" || byExternal.Kind != KindFolder {
		t.Errorf("Unexpected item fields: %+v", byExternal)
	}

	byInternal, err := db.LookupItemByInternalID(item.InternalID)
	if err != nil {
		t.Fatalf("Failed to lookup by internal id: %v", err)
	}
	if byInternal == nil || byInternal.ExternalID != "ext-a" {
		t.Errorf("Expected matching item, got %+v", byInternal)
	}
}

func TestLookupMissingItem(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	item, err := db.LookupItemByExternalID("does-not-exist")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if item != nil {
		t.Error("Expected nil item for unknown external id")
	}
}

func TestUpsertItemReplacesMutableFields(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if _, err := db.UpsertItem("ext-b", "drive-1", "draft.txt", KindFile, "/draft.txt", nil); err != nil {
		t.Fatalf("Failed to create item: %v", err)
	}

	updated, err := db.UpsertItem("ext-b", "drive-1", "draft-v2.txt", KindFile, "/draft-v2.txt", nil)
	if err != nil {
		t.Fatalf("Failed to update item: %v", err)
	}
	if updated.Name != "draft-v2.txt" {
		t.Errorf("Expected updated name draft-v2.txt, got %s", updated.Name)
	}
	if updated.Path != "/draft-v2.txt" {
		t.Errorf("Expected updated path /draft-v2.txt, got %s", updated.Path)
	}
}

func TestMarkItemDeleted(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	item, err := db.UpsertItem("ext-c", "drive-1", "notes.txt", KindFile, "/notes.txt", nil)
	if err != nil {
		t.Fatalf("Failed to create item: %v", err)
	}

	if err := db.MarkItemDeleted(item.InternalID); err != nil {
		t.Fatalf("Failed to mark item deleted: %v", err)
	}

	retrieved, err := db.LookupItemByInternalID(item.InternalID)
	if err != nil {
		t.Fatalf("Failed to lookup item: %v", err)
	}
	if !retrieved.Deleted {
		t.Error("Expected deleted flag to be set")
	}
}

func TestChildrenOf(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	parent, err := db.UpsertItem("ext-parent", "drive-1", "Docs", KindFolder, "/Docs", nil)
	if err != nil {
		t.Fatalf("Failed to create parent: %v", err)
	}

	if _, err := db.UpsertItem("ext-child-1", "drive-1", "a.txt", KindFile, "/Docs/a.txt", &parent.InternalID); err != nil {
		t.Fatalf("Failed to create child 1: %v", err)
	}
	if _, err := db.UpsertItem("ext-child-2", "drive-1", "b.txt", KindFile, "/Docs/b.txt", &parent.InternalID); err != nil {
		t.Fatalf("Failed to create child 2: %v", err)
	}

	children, err := db.ChildrenOf(parent.InternalID)
	if err != nil {
		t.Fatalf("Failed to get children: %v", err)
	}
	if len(children) != 2 {
		t.Errorf("Expected 2 children, got %d", len(children))
	}
}

func TestBulkUpsertItems(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	batch := []itemUpsertBatch{
		{ExternalID: "ext-1", DriveID: "drive-1", Name: "Docs", Kind: KindFolder, Path: "/Docs"},
		{ExternalID: "ext-2", DriveID: "drive-1", Name: "draft.txt", Kind: KindFile, Path: "/Docs/draft.txt"},
	}

	if err := db.BulkUpsertItems(batch); err != nil {
		t.Fatalf("Failed to bulk upsert items: %v", err)
	}

	for _, b := range batch {
		item, err := db.LookupItemByExternalID(b.ExternalID)
		if err != nil {
			t.Fatalf("Failed to lookup %s: %v", b.ExternalID, err)
		}
		if item == nil {
			t.Errorf("Expected item %s to exist", b.ExternalID)
		}
	}
}
