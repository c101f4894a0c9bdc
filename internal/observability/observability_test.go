package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/vigil/internal/dbopen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestInitCreatesTables(t *testing.T) {
	// WHAT: The schema creates every table cleanup and the writers expect.
	db := setupObsDB(t)
	for _, table := range []string{"business_events", "metrics_timeseries", "worker_heartbeats"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

func TestEventLoggerLog(t *testing.T) {
	// WHAT: Log writes one row with the type, target and JSON details.
	db := setupObsDB(t)
	el := NewEventLogger(db)

	el.Log(context.Background(), EventChangeEmitted, "tgt_1", map[string]any{
		"event_id": "evt_9",
		"keys":     2,
	})

	var eventType, targetID, details string
	err := db.QueryRow("SELECT event_type, target_id, details FROM business_events LIMIT 1").
		Scan(&eventType, &targetID, &details)
	if err != nil {
		t.Fatal(err)
	}
	if eventType != EventChangeEmitted {
		t.Errorf("event_type: got %q", eventType)
	}
	if targetID != "tgt_1" {
		t.Errorf("target_id: got %q", targetID)
	}
	if details == "" || details[0] != '{' {
		t.Errorf("details not JSON: %q", details)
	}
}

func TestEventLoggerLogFor(t *testing.T) {
	// WHAT: LogFor attaches the acting principal; empty fields store NULL.
	db := setupObsDB(t)
	el := NewEventLogger(db)

	el.LogFor(context.Background(), EventRefreshManual, "tgt_1", "alice", nil)

	var principal string
	var details sql.NullString
	if err := db.QueryRow("SELECT principal, details FROM business_events LIMIT 1").
		Scan(&principal, &details); err != nil {
		t.Fatal(err)
	}
	if principal != "alice" {
		t.Errorf("principal: got %q", principal)
	}
	if details.Valid {
		t.Errorf("nil details stored as %q, want NULL", details.String)
	}
}

func TestEventLoggerCount(t *testing.T) {
	// WHAT: CountEvents filters by type, or counts everything when empty.
	db := setupObsDB(t)
	el := NewEventLogger(db)
	ctx := context.Background()

	el.Log(ctx, EventScrapeCompleted, "tgt_1", nil)
	el.Log(ctx, EventScrapeCompleted, "tgt_2", nil)
	el.Log(ctx, EventScrapeFailed, "tgt_1", nil)

	if n, _ := el.CountEvents(ctx, EventScrapeCompleted); n != 2 {
		t.Errorf("filtered count: got %d, want 2", n)
	}
	if n, _ := el.CountEvents(ctx, ""); n != 3 {
		t.Errorf("total count: got %d, want 3", n)
	}
}

func TestEventLoggerCustomIDGenerator(t *testing.T) {
	// WHAT: The injected generator controls row ids.
	db := setupObsDB(t)
	el := NewEventLogger(db, WithEventIDGenerator(func() string { return "obs_fixed" }))

	el.Log(context.Background(), EventTargetCreated, "tgt_1", nil)

	var id string
	db.QueryRow("SELECT event_id FROM business_events LIMIT 1").Scan(&id)
	if id != "obs_fixed" {
		t.Errorf("event_id: got %q", id)
	}
}

func TestMetricsRecordAndQuery(t *testing.T) {
	// WHAT: Recorded metrics land in the timeseries after a flush, with
	// labels round-tripping through JSON.
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.RecordDuration(MetricScrapeDurationMs, "tgt_1", 1500*time.Millisecond)
	mm.RecordCount(MetricEventsEmittedCount, 1)
	mm.Close() // flushes

	mm2 := NewMetricsManager(db, 100, time.Hour)
	defer mm2.Close()

	metrics, err := mm2.Query(MetricScrapeDurationMs, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 1 {
		t.Fatalf("scrape_duration_ms count: got %d", len(metrics))
	}
	if metrics[0].Value != 1500 {
		t.Errorf("value: got %f, want 1500", metrics[0].Value)
	}
	if metrics[0].Labels["target_id"] != "tgt_1" {
		t.Errorf("labels: got %v", metrics[0].Labels)
	}

	all, err := mm2.Query("", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("all metrics: got %d, want 2", len(all))
	}
}

func TestMetricsBufferFlushOnSize(t *testing.T) {
	// WHAT: Hitting the buffer size flushes without waiting for the
	// ticker.
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour)
	defer mm.Close()

	mm.RecordCount(MetricEventsEmittedCount, 1)
	mm.RecordCount(MetricEventsEmittedCount, 1)

	var count int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&count)
	if count != 2 {
		t.Errorf("rows after size flush: got %d, want 2", count)
	}
}

func TestHeartbeatWrite(t *testing.T) {
	// WHAT: A heartbeat row carries live runtime stats.
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "vigil", time.Minute)

	if err := hw.WriteHeartbeat(); err != nil {
		t.Fatal(err)
	}

	var worker string
	var goroutines int
	db.QueryRow("SELECT worker_name, goroutines_count FROM worker_heartbeats LIMIT 1").
		Scan(&worker, &goroutines)
	if worker != "vigil" {
		t.Errorf("worker_name: got %q", worker)
	}
	if goroutines <= 0 {
		t.Error("goroutines should be > 0")
	}
}

func TestHeartbeatLoop(t *testing.T) {
	// WHAT: Start writes immediately and then on every tick until Stop.
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "vigil", 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	hw.Start(ctx)
	time.Sleep(70 * time.Millisecond)
	cancel()
	hw.Stop()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM worker_heartbeats").Scan(&count)
	if count < 2 {
		t.Errorf("heartbeat rows: got %d, want >= 2", count)
	}
}

func TestCleanupRetention(t *testing.T) {
	// WHAT: Cleanup removes rows past retention from every table and
	// keeps recent ones.
	db := setupObsDB(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -40).Unix()
	db.Exec("INSERT INTO business_events (event_id, event_type, created_at) VALUES ('e_old', 'scrape_completed', ?)", old)
	db.Exec("INSERT INTO business_events (event_id, event_type) VALUES ('e_new', 'scrape_completed')")
	db.Exec("INSERT INTO metrics_timeseries (metric_name, timestamp, value) VALUES ('m', ?, 1)", old)
	db.Exec(`INSERT INTO worker_heartbeats (worker_name, hostname, worker_pid, timestamp)
		VALUES ('vigil', 'host', 1, ?)`, old)

	if err := Cleanup(ctx, db, 30); err != nil {
		t.Fatal(err)
	}

	var events, metrics, beats int
	db.QueryRow("SELECT COUNT(*) FROM business_events").Scan(&events)
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&metrics)
	db.QueryRow("SELECT COUNT(*) FROM worker_heartbeats").Scan(&beats)
	if events != 1 {
		t.Errorf("business_events: got %d, want 1", events)
	}
	if metrics != 0 {
		t.Errorf("metrics_timeseries: got %d, want 0", metrics)
	}
	if beats != 0 {
		t.Errorf("worker_heartbeats: got %d, want 0", beats)
	}
}

func TestCleanupDisabled(t *testing.T) {
	// WHAT: Zero retention days is a no-op.
	db := setupObsDB(t)

	old := time.Now().AddDate(0, 0, -40).Unix()
	db.Exec("INSERT INTO business_events (event_id, event_type, created_at) VALUES ('e_old', 'x', ?)", old)

	if err := Cleanup(context.Background(), db, 0); err != nil {
		t.Fatal(err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM business_events").Scan(&count)
	if count != 1 {
		t.Errorf("rows after disabled cleanup: got %d, want 1", count)
	}
}
