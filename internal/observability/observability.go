// Package observability is vigil's SQLite-native monitoring sink: business
// events, metric timeseries and daemon heartbeats, all in one database kept
// separate from the application store to avoid write contention.
//
// Persistence never applies backpressure: event writes swallow errors after
// logging them, and the metrics buffer drops on overflow rather than block a
// scrape.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/vigil/internal/dbopen"
)

// Schema is the DDL for the observability tables.
const Schema = `
-- Business events: one row per domain-level happening.
CREATE TABLE IF NOT EXISTS business_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    target_id TEXT,
    principal TEXT,
    details TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_business_events_type
    ON business_events(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_business_events_target
    ON business_events(target_id, created_at DESC);

-- Metric timeseries datapoints.
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_metrics_timestamp
    ON metrics_timeseries(timestamp DESC);

-- Daemon liveness heartbeats with runtime stats.
CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name TEXT NOT NULL,
    hostname TEXT NOT NULL,
    worker_pid INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    goroutines_count INTEGER,
    memory_alloc_mb REAL,
    memory_sys_mb REAL,
    gc_count INTEGER,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
    ON worker_heartbeats(worker_name, timestamp DESC);
`

// Open opens (creating if necessary) the observability database at path and
// applies the schema.
func Open(path string) (*sql.DB, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("observability: open: %w", err)
	}
	return db, nil
}

// Init applies the schema to an already-opened database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Cleanup deletes observability rows older than retentionDays across all
// tables. Zero or negative days disables cleanup.
func Cleanup(ctx context.Context, db *sql.DB, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()

	targets := []struct {
		table  string
		column string
	}{
		{"business_events", "created_at"},
		{"metrics_timeseries", "timestamp"},
		{"worker_heartbeats", "timestamp"},
	}
	for _, t := range targets {
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("observability: cleanup %s: %w", t.table, err)
		}
	}
	return nil
}
