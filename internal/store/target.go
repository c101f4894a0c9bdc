package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const targetColumns = `id, owner, url, description, config_json, check_interval,
	alert_policy, summary_enabled, active, visibility, public_slug, folder_id,
	last_scrape_at, last_error, fail_count, state_json, alert_state_json,
	created_at, updated_at`

// InsertTarget adds a new target, applying column defaults for zero values.
func (s *Store) InsertTarget(ctx context.Context, t *Target) error {
	now := time.Now().UnixMilli()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = now
	}
	if t.ConfigJSON == "" {
		t.ConfigJSON = "{}"
	}
	if t.Interval == "" {
		t.Interval = Interval60m
	}
	if t.AlertPolicy == "" {
		t.AlertPolicy = PolicyEveryChange
	}
	if t.Visibility == "" {
		t.Visibility = VisibilityPrivate
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO targets (id, owner, url, description, config_json, check_interval,
		alert_policy, summary_enabled, active, visibility, public_slug, folder_id,
		last_scrape_at, last_error, fail_count, state_json, alert_state_json,
		created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Owner, t.URL, t.Description, t.ConfigJSON, t.Interval,
		t.AlertPolicy, t.SummaryEnabled, t.Active, t.Visibility, t.PublicSlug, t.FolderID,
		t.LastScrapeAt, t.LastError, t.FailCount, t.StateJSON, t.AlertStateJSON,
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

// GetTarget retrieves a target by ID. Returns (nil, nil) when absent.
func (s *Store) GetTarget(ctx context.Context, id string) (*Target, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE id = ?`, id)
	return scanTarget(row)
}

// GetTargetBySlug retrieves a public target by its feed slug.
// Returns (nil, nil) when absent.
func (s *Store) GetTargetBySlug(ctx context.Context, slug string) (*Target, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM targets
		WHERE public_slug = ? AND visibility = 'public' LIMIT 1`, slug)
	return scanTarget(row)
}

// ListTargetsByOwner returns all targets owned by the principal, newest first.
func (s *Store) ListTargetsByOwner(ctx context.Context, owner string) ([]*Target, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE owner = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTargets(rows)
}

// ListActiveTargets returns every active target. The scheduler seeds its heap
// from this at startup.
func (s *Store) ListActiveTargets(ctx context.Context) ([]*Target, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE active = 1 ORDER BY last_scrape_at ASC NULLS FIRST`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTargets(rows)
}

// ListSubscribedTargets returns the public targets the principal follows,
// newest first.
func (s *Store) ListSubscribedTargets(ctx context.Context, principal string) ([]*Target, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets
		WHERE visibility = 'public'
		  AND id IN (SELECT target_id FROM subscriptions WHERE principal = ?)
		ORDER BY created_at DESC`, principal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTargets(rows)
}

// UpdateTarget updates a target's user-editable fields.
func (s *Store) UpdateTarget(ctx context.Context, t *Target) error {
	t.UpdatedAt = time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE targets SET url=?, description=?, config_json=?, check_interval=?,
		alert_policy=?, summary_enabled=?, updated_at=?
		WHERE id=?`,
		t.URL, t.Description, t.ConfigJSON, t.Interval,
		t.AlertPolicy, t.SummaryEnabled, t.UpdatedAt, t.ID,
	)
	return err
}

// UpdateTargetConfig replaces the extraction config only.
func (s *Store) UpdateTargetConfig(ctx context.Context, id, configJSON string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE targets SET config_json=?, updated_at=? WHERE id=?`,
		configJSON, time.Now().UnixMilli(), id)
	return err
}

// ResetTargetState clears the state snapshots so the next scrape records a
// fresh baseline. Used after extraction config changes, where old keys would
// otherwise diff against the new ones.
func (s *Store) ResetTargetState(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE targets SET state_json='', alert_state_json='', updated_at=? WHERE id=?`,
		time.Now().UnixMilli(), id)
	return err
}

// SetTargetActive toggles scheduling for a target.
func (s *Store) SetTargetActive(ctx context.Context, id string, active bool) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE targets SET active=?, updated_at=? WHERE id=?`,
		active, time.Now().UnixMilli(), id)
	return err
}

// SetVisibility switches a target between private and public. A public
// target carries its slug; going private clears it.
func (s *Store) SetVisibility(ctx context.Context, id string, v Visibility, slug string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE targets SET visibility=?, public_slug=?, updated_at=? WHERE id=?`,
		v, slug, time.Now().UnixMilli(), id)
	return err
}

// AssignFolder moves a target into a folder (nil clears the assignment).
func (s *Store) AssignFolder(ctx context.Context, id string, folderID *string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE targets SET folder_id=?, updated_at=? WHERE id=?`,
		folderID, time.Now().UnixMilli(), id)
	return err
}

// DeleteTarget removes a target; events, read marks and subscriptions go
// with it via ON DELETE CASCADE.
func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id)
	return err
}

// RecordScrapeSuccess advances the state snapshot after a completed scrape
// and resets the consecutive error counter.
func (s *Store) RecordScrapeSuccess(ctx context.Context, id, stateJSON, alertStateJSON string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE targets SET last_scrape_at=?, last_error='', fail_count=0,
		state_json=?, alert_state_json=?, updated_at=?
		WHERE id=?`, now, stateJSON, alertStateJSON, now, id)
	return err
}

// RecordScrapeError increments the consecutive error counter and records the
// failure; the prior state snapshot is preserved.
func (s *Store) RecordScrapeError(ctx context.Context, id, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`UPDATE targets SET last_scrape_at=?, last_error=?, fail_count=fail_count+1, updated_at=?
		WHERE id=?`, now, errMsg, now, id)
	return err
}

// CountTargets returns the total number of targets.
func (s *Store) CountTargets(ctx context.Context) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM targets`).Scan(&count)
	return count, err
}

// CountDegraded returns how many active targets have reached the degraded
// error threshold.
func (s *Store) CountDegraded(ctx context.Context, threshold int) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM targets WHERE active = 1 AND fail_count >= ?`, threshold).Scan(&count)
	return count, err
}

func scanTarget(row *sql.Row) (*Target, error) {
	var t Target
	var summaryEnabled, active int
	err := row.Scan(
		&t.ID, &t.Owner, &t.URL, &t.Description, &t.ConfigJSON, &t.Interval,
		&t.AlertPolicy, &summaryEnabled, &active, &t.Visibility, &t.PublicSlug, &t.FolderID,
		&t.LastScrapeAt, &t.LastError, &t.FailCount, &t.StateJSON, &t.AlertStateJSON,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan target: %w", err)
	}
	t.SummaryEnabled = summaryEnabled != 0
	t.Active = active != 0
	return &t, nil
}

func scanTargetRows(rows *sql.Rows) (*Target, error) {
	var t Target
	var summaryEnabled, active int
	err := rows.Scan(
		&t.ID, &t.Owner, &t.URL, &t.Description, &t.ConfigJSON, &t.Interval,
		&t.AlertPolicy, &summaryEnabled, &active, &t.Visibility, &t.PublicSlug, &t.FolderID,
		&t.LastScrapeAt, &t.LastError, &t.FailCount, &t.StateJSON, &t.AlertStateJSON,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	t.SummaryEnabled = summaryEnabled != 0
	t.Active = active != 0
	return &t, nil
}

func collectTargets(rows *sql.Rows) ([]*Target, error) {
	var targets []*Target
	for rows.Next() {
		t, err := scanTargetRows(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}
