package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const eventColumns = `id, target_id, created_at, title, description, permalink,
	summary, prior_state_json, current_state_json, fingerprint`

// InsertEvent appends a change event unless an event with the same
// fingerprint landed on the same target within the dedup window. Callers
// treat OutcomeDuplicate as silent success.
func (s *Store) InsertEvent(ctx context.Context, ev *Event, dedupWindow time.Duration) (InsertOutcome, error) {
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().UnixMilli()
	}
	cutoff := ev.CreatedAt - dedupWindow.Milliseconds()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return OutcomeDuplicate, fmt.Errorf("insert event: begin: %w", err)
	}
	defer tx.Rollback()

	var dup int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE target_id = ? AND fingerprint = ? AND created_at >= ?`,
		ev.TargetID, ev.Fingerprint, cutoff).Scan(&dup)
	if err != nil {
		return OutcomeDuplicate, fmt.Errorf("insert event: dedup check: %w", err)
	}
	if dup > 0 {
		return OutcomeDuplicate, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, target_id, created_at, title, description, permalink,
		summary, prior_state_json, current_state_json, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TargetID, ev.CreatedAt, ev.Title, ev.Description, ev.Permalink,
		ev.Summary, ev.PriorStateJSON, ev.CurrentStateJSON, ev.Fingerprint,
	)
	if err != nil {
		return OutcomeDuplicate, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return OutcomeDuplicate, fmt.Errorf("insert event: commit: %w", err)
	}
	return OutcomeInserted, nil
}

// GetEvent retrieves one event by ID. Returns (nil, nil) when absent.
func (s *Store) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// ListEvents returns events for a target newest first, resuming after the
// cursor when given. The returned cursor is nil once the page is short.
func (s *Store) ListEvents(ctx context.Context, targetID string, cursor *Cursor, limit int) ([]*Event, *Cursor, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if cursor == nil {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM events
			WHERE target_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?`, targetID, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM events
			WHERE target_id = ? AND (created_at < ? OR (created_at = ? AND id < ?))
			ORDER BY created_at DESC, id DESC LIMIT ?`,
			targetID, cursor.CreatedAt, cursor.CreatedAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEventRows(rows)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *Cursor
	if len(events) == limit {
		last := events[len(events)-1]
		next = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return events, next, nil
}

// LastEventAt returns the timestamp of the most recent event for a target,
// or zero when none exist.
func (s *Store) LastEventAt(ctx context.Context, targetID string) (int64, error) {
	var ts sql.NullInt64
	err := s.DB.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM events WHERE target_id = ?`, targetID).Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

// SetEventSummary backfills the AI summary onto an existing event.
func (s *Store) SetEventSummary(ctx context.Context, eventID, summary string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE events SET summary = ? WHERE id = ?`, summary, eventID)
	return err
}

// CountEvents returns the number of events recorded for a target.
func (s *Store) CountEvents(ctx context.Context, targetID string) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE target_id = ?`, targetID).Scan(&count)
	return count, err
}

// DeleteEventsBefore removes events older than the cutoff across all targets
// and returns the number removed. Used by the retention janitor.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM events WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvent(row *sql.Row) (*Event, error) {
	var ev Event
	err := row.Scan(
		&ev.ID, &ev.TargetID, &ev.CreatedAt, &ev.Title, &ev.Description, &ev.Permalink,
		&ev.Summary, &ev.PriorStateJSON, &ev.CurrentStateJSON, &ev.Fingerprint,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &ev, nil
}

func scanEventRows(rows *sql.Rows) (*Event, error) {
	var ev Event
	err := rows.Scan(
		&ev.ID, &ev.TargetID, &ev.CreatedAt, &ev.Title, &ev.Description, &ev.Permalink,
		&ev.Summary, &ev.PriorStateJSON, &ev.CurrentStateJSON, &ev.Fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &ev, nil
}
