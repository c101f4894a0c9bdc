package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hazyhaar/vigil/internal/idgen"
)

// Business event types vigil records.
const (
	EventTargetCreated       = "target_created"
	EventTargetDeleted       = "target_deleted"
	EventScrapeCompleted     = "scrape_completed"
	EventScrapeFailed        = "scrape_failed"
	EventChangeEmitted       = "change_emitted"
	EventDuplicateSuppressed = "duplicate_suppressed"
	EventRefreshManual       = "refresh_manual"
	EventConfigSynthesized   = "config_synthesized"
)

// EventLogger writes business events to the observability database.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event rows.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("obs_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records one business event. Errors are logged via slog but never
// propagate, so a failing observability store cannot block the pipeline.
// details may be nil; non-nil maps are stored as JSON.
func (l *EventLogger) Log(ctx context.Context, eventType, targetID string, details map[string]any) {
	l.LogFor(ctx, eventType, targetID, "", details)
}

// LogFor is Log with an acting principal attached.
func (l *EventLogger) LogFor(ctx context.Context, eventType, targetID, principal string, details map[string]any) {
	var detailsJSON sql.NullString
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = sql.NullString{String: string(b), Valid: true}
		}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_events (event_id, event_type, target_id, principal, details, created_at)
		VALUES (?,?,?,?,?,?)`,
		l.newID(), eventType, nullable(targetID), nullable(principal), detailsJSON, time.Now().Unix())
	if err != nil {
		slog.Error("observability: event log failed", "error", err, "event_type", eventType)
	}
}

// CountEvents reports rows of one event type, unbounded when eventType is
// empty.
func (l *EventLogger) CountEvents(ctx context.Context, eventType string) (int, error) {
	q := "SELECT COUNT(*) FROM business_events"
	args := []any{}
	if eventType != "" {
		q += " WHERE event_type = ?"
		args = append(args, eventType)
	}
	var n int
	err := l.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
