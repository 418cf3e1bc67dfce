package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Items table: mirror of one file or folder observed from the provider
CREATE TABLE IF NOT EXISTS items (
    internal_id INTEGER PRIMARY KEY AUTOINCREMENT,
    drive_id TEXT NOT NULL,
    external_id TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL, -- 'file' or 'folder'
    path TEXT NOT NULL,
    parent_internal_id INTEGER,
    created_at INTEGER NOT NULL,
    modified_at INTEGER NOT NULL,
    deleted BOOLEAN NOT NULL DEFAULT 0,

    FOREIGN KEY (parent_internal_id) REFERENCES items(internal_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_external_id ON items(external_id);
CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent_internal_id);
CREATE INDEX IF NOT EXISTS idx_items_drive ON items(drive_id);

-- Change events table: append-only audit log of classified changes
CREATE TABLE IF NOT EXISTS change_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_internal_id INTEGER NOT NULL,
    kind TEXT NOT NULL, -- create, rename, move, delete, update
    old_name TEXT,
    new_name TEXT,
    old_parent_internal_id INTEGER,
    new_parent_internal_id INTEGER,
    timestamp INTEGER NOT NULL,

    FOREIGN KEY (item_internal_id) REFERENCES items(internal_id)
);

CREATE INDEX IF NOT EXISTS idx_change_events_item_ts ON change_events(item_internal_id, timestamp DESC);

-- Drive cursors table: per-drive incremental sync state
CREATE TABLE IF NOT EXISTS drive_cursors (
    drive_id TEXT PRIMARY KEY,
    cursor TEXT,
    last_sync_at INTEGER
);

-- Subscriptions table: webhook subscription lifecycle records
CREATE TABLE IF NOT EXISTS subscriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    provider_subscription_id TEXT NOT NULL,
    resource TEXT NOT NULL,
    shared_secret TEXT NOT NULL,
    expiry INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_provider_id ON subscriptions(provider_subscription_id);
CREATE INDEX IF NOT EXISTS idx_subscriptions_resource ON subscriptions(resource);

-- Reconciliation jobs table: the local stand-in for the external at-least-once
-- work queue described in the notification-to-worker handoff. Claimed with an
-- atomic UPDATE ... RETURNING, released with exponential backoff on failure.
CREATE TABLE IF NOT EXISTS reconcile_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    drive_id TEXT NOT NULL,
    resource TEXT,
    change_type TEXT,
    trace_id TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    next_retry_at INTEGER,
    processing_started_at INTEGER,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reconcile_jobs_ready ON reconcile_jobs(next_retry_at, processing_started_at);

-- Gate state table: optional durable mirror of the in-process Credential Gate
-- flag. An operator can inspect gate status here without re-running
-- bootstrap, and the gate restores its flag from this row at startup.
CREATE TABLE IF NOT EXISTS gate_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    enabled BOOLEAN NOT NULL DEFAULT 0,
    principal TEXT,
    updated_at INTEGER NOT NULL
);

-- Rate limit breaker table: persisted, cross-restart circuit breaker state
-- for the provider gateway. Single row. Gates the worker poll loop so a
-- process restart mid-cooldown does not immediately resume hammering a
-- still-throttling provider.
CREATE TABLE IF NOT EXISTS rate_limit_breaker (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    state TEXT NOT NULL DEFAULT 'closed', -- closed, open, half_open
    opened_at INTEGER,
    closes_at INTEGER,
    consecutive_successes INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);
`
