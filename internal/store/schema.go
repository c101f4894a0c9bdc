package store

import "database/sql"

// Schema is the complete vigil schema. Timestamps are Unix milliseconds.
const Schema = `
-- Monitored pages
CREATE TABLE IF NOT EXISTS targets (
    id               TEXT PRIMARY KEY,
    owner            TEXT NOT NULL,
    url              TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    config_json      TEXT NOT NULL DEFAULT '{}',
    check_interval   TEXT NOT NULL DEFAULT '60m',
    alert_policy     TEXT NOT NULL DEFAULT 'every-change',
    summary_enabled  INTEGER NOT NULL DEFAULT 0,
    active           INTEGER NOT NULL DEFAULT 0,
    visibility       TEXT NOT NULL DEFAULT 'private',
    public_slug      TEXT NOT NULL DEFAULT '',
    last_scrape_at   INTEGER,
    last_error       TEXT NOT NULL DEFAULT '',
    fail_count       INTEGER NOT NULL DEFAULT 0,
    state_json       TEXT NOT NULL DEFAULT '',
    alert_state_json TEXT NOT NULL DEFAULT '',
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_targets_owner ON targets(owner);
CREATE INDEX IF NOT EXISTS idx_targets_active ON targets(active, last_scrape_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_targets_slug
    ON targets(public_slug) WHERE visibility = 'public' AND public_slug != '';

-- Change events (append-only; summary is the only backfilled column)
CREATE TABLE IF NOT EXISTS events (
    id                 TEXT PRIMARY KEY,
    target_id          TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
    created_at         INTEGER NOT NULL,
    title              TEXT NOT NULL,
    description        TEXT NOT NULL,
    permalink          TEXT NOT NULL DEFAULT '',
    summary            TEXT NOT NULL DEFAULT '',
    prior_state_json   TEXT NOT NULL DEFAULT '{}',
    current_state_json TEXT NOT NULL DEFAULT '{}',
    fingerprint        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_target_time ON events(target_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_events_fingerprint ON events(target_id, fingerprint, created_at DESC);

-- Per-principal read/star state, created lazily on first interaction
CREATE TABLE IF NOT EXISTS read_marks (
    principal  TEXT NOT NULL,
    event_id   TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    read       INTEGER NOT NULL DEFAULT 0,
    starred    INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (principal, event_id)
);

-- Subscriptions to public targets owned by other principals
CREATE TABLE IF NOT EXISTS subscriptions (
    principal  TEXT NOT NULL,
    target_id  TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (principal, target_id)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_target ON subscriptions(target_id);
`

// Migration001Folders introduces folder grouping: the folders table plus a
// nullable folder_id on targets. Safe to run on existing databases.
const Migration001Folders = `
CREATE TABLE IF NOT EXISTS folders (
    id         TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    name       TEXT NOT NULL,
    parent_id  TEXT REFERENCES folders(id) ON DELETE CASCADE,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_folders_owner ON folders(owner);
`

const migration001FolderColumn = `
ALTER TABLE targets ADD COLUMN folder_id TEXT REFERENCES folders(id) ON DELETE SET NULL;
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return err
	}
	if _, err := db.Exec(Migration001Folders); err != nil {
		return err
	}
	applyColumnMigration(db, "targets", "folder_id", migration001FolderColumn)
	return nil
}

// applyColumnMigration adds a column if it doesn't exist (idempotent).
func applyColumnMigration(db *sql.DB, table, column, ddl string) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil || count > 0 {
		return
	}
	db.Exec(ddl)
}
