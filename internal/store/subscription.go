package store

import (
	"context"
	"time"
)

// InsertSubscription records a principal following a target. The bool is
// false when the pair already existed, so the service layer can reject
// duplicate subscribes. Owner/visibility rules are enforced there too.
func (s *Store) InsertSubscription(ctx context.Context, principal, targetID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO subscriptions (principal, target_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(principal, target_id) DO NOTHING`,
		principal, targetID, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteSubscription removes one principal's subscription. The target's
// events and any read marks the principal created remain untouched.
func (s *Store) DeleteSubscription(ctx context.Context, principal, targetID string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE principal = ? AND target_id = ?`,
		principal, targetID)
	return err
}

// IsSubscriber reports whether the principal follows the target.
func (s *Store) IsSubscriber(ctx context.Context, principal, targetID string) (bool, error) {
	var count int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE principal = ? AND target_id = ?`,
		principal, targetID).Scan(&count)
	return count > 0, err
}

// ListSubscribers returns the principals following a target.
func (s *Store) ListSubscribers(ctx context.Context, targetID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT principal FROM subscriptions WHERE target_id = ? ORDER BY created_at ASC`,
		targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var principals []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	return principals, rows.Err()
}

// ListSubscriptions returns the target IDs a principal follows.
func (s *Store) ListSubscriptions(ctx context.Context, principal string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT target_id FROM subscriptions WHERE principal = ? ORDER BY created_at ASC`,
		principal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
