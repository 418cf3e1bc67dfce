package database

import "time"

// Kind distinguishes a file Item from a folder Item.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// EventKind enumerates the semantic changes the reconciliation engine emits.
type EventKind string

const (
	EventKindCreate EventKind = "create"
	EventKindRename EventKind = "rename"
	EventKindMove   EventKind = "move"
	EventKindDelete EventKind = "delete"
	EventKindUpdate EventKind = "update"
)

// Item mirrors one file or folder observed from the provider.
type Item struct {
	InternalID       int64
	DriveID          string
	ExternalID       string
	Name             string
	Kind             Kind
	Path             string
	ParentInternalID *int64
	CreatedAt        time.Time
	ModifiedAt       time.Time
	Deleted          bool
}

// ChangeEvent is an append-only audit record of one classified change.
type ChangeEvent struct {
	ID                   int64
	ItemInternalID       int64
	Kind                 EventKind
	OldName              *string
	NewName              *string
	OldParentInternalID  *int64
	NewParentInternalID  *int64
	Timestamp            time.Time
}

// DriveCursor is the per-drive incremental sync state.
type DriveCursor struct {
	DriveID    string
	Cursor     *string
	LastSyncAt *time.Time
}

// Subscription is a record of one push-notification subscription.
type Subscription struct {
	ID                      int64
	ProviderSubscriptionID  string
	Resource                string
	SharedSecret            string
	Expiry                  time.Time
	CreatedAt               time.Time
}

// ReconcileJob is one entry in the at-least-once work queue fed by the
// notification sink and drained by the reconciliation workers.
type ReconcileJob struct {
	ID                  int64
	DriveID             string
	Resource            string
	ChangeType          string
	TraceID             string
	RetryCount          int
	LastError           *string
	NextRetryAt         *time.Time
	ProcessingStartedAt *time.Time
	CreatedAt           time.Time
}
