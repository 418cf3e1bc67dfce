package reconcile

import (
	"testing"

	"driftmirror/internal/database"
)

func TestPathOfDetectsCycle(t *testing.T) {
	db := setupTestDB(t)

	a, err := db.UpsertItem("ext-a", "drive-1", "a", database.KindFolder, "/a", nil)
	if err != nil {
		t.Fatalf("failed to upsert item a: %v", err)
	}
	b, err := db.UpsertItem("ext-b", "drive-1", "b", database.KindFolder, "/a/b", &a.InternalID)
	if err != nil {
		t.Fatalf("failed to upsert item b: %v", err)
	}
	// Corrupt the chain: b now exists, so a can point at b without
	// violating the parent foreign key, closing the cycle a -> b -> a.
	if _, err := db.UpsertItem("ext-a", "drive-1", "a", database.KindFolder, "/a", &b.InternalID); err != nil {
		t.Fatalf("failed to rewrite item a's parent: %v", err)
	}

	p := newPathResolver(db)
	if _, err := p.resolve(&b.InternalID, "c"); err == nil {
		t.Fatal("expected an error resolving a path through a cycle, got nil")
	}
}

func TestPathOfResolvesDeepChainWithoutCycle(t *testing.T) {
	db := setupTestDB(t)

	root, err := db.UpsertItem("ext-root", "drive-1", "root", database.KindFolder, "/root", nil)
	if err != nil {
		t.Fatalf("failed to upsert root: %v", err)
	}
	mid, err := db.UpsertItem("ext-mid", "drive-1", "mid", database.KindFolder, "/root/mid", &root.InternalID)
	if err != nil {
		t.Fatalf("failed to upsert mid: %v", err)
	}

	p := newPathResolver(db)
	path, err := p.resolve(&mid.InternalID, "leaf")
	if err != nil {
		t.Fatalf("failed to resolve path: %v", err)
	}
	if path != "/root/mid/leaf" {
		t.Errorf("expected path '/root/mid/leaf', got %q", path)
	}
}
