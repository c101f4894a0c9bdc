package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SetRead upserts the read flag for (principal, event). Last writer wins.
func (s *Store) SetRead(ctx context.Context, principal, eventID string, read bool) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO read_marks (principal, event_id, read, starred, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(principal, event_id) DO UPDATE SET
			read = excluded.read, updated_at = excluded.updated_at`,
		principal, eventID, read, time.Now().UnixMilli())
	return err
}

// ToggleStar flips the star flag for (principal, event), creating the mark
// lazily, and returns the new value.
func (s *Store) ToggleStar(ctx context.Context, principal, eventID string) (bool, error) {
	var starred int
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO read_marks (principal, event_id, read, starred, updated_at)
		VALUES (?, ?, 0, 1, ?)
		ON CONFLICT(principal, event_id) DO UPDATE SET
			starred = 1 - read_marks.starred, updated_at = excluded.updated_at
		RETURNING starred`,
		principal, eventID, time.Now().UnixMilli()).Scan(&starred)
	if err != nil {
		return false, fmt.Errorf("toggle star: %w", err)
	}
	return starred != 0, nil
}

// GetReadMark returns the mark for (principal, event), or (nil, nil) when
// the principal has never touched the event.
func (s *Store) GetReadMark(ctx context.Context, principal, eventID string) (*ReadMark, error) {
	var m ReadMark
	var read, starred int
	err := s.DB.QueryRowContext(ctx,
		`SELECT principal, event_id, read, starred, updated_at
		FROM read_marks WHERE principal = ? AND event_id = ?`, principal, eventID).
		Scan(&m.Principal, &m.EventID, &read, &starred, &m.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan read mark: %w", err)
	}
	m.Read = read != 0
	m.Starred = starred != 0
	return &m, nil
}

// UnreadCount returns how many of a target's events the principal has not
// marked read. Events with no mark at all count as unread.
func (s *Store) UnreadCount(ctx context.Context, principal, targetID string) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events e
		LEFT JOIN read_marks rm ON rm.event_id = e.id AND rm.principal = ?
		WHERE e.target_id = ? AND (rm.read IS NULL OR rm.read = 0)`,
		principal, targetID).Scan(&count)
	return count, err
}

// UnreadCountByFolder returns the unread count over every target assigned to
// the folder or any of its descendants.
func (s *Store) UnreadCountByFolder(ctx context.Context, principal, folderID string) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx,
		`WITH RECURSIVE folder_tree(id) AS (
			SELECT id FROM folders WHERE id = ?
			UNION ALL
			SELECT f.id FROM folders f JOIN folder_tree ft ON f.parent_id = ft.id
		)
		SELECT COUNT(*) FROM events e
		JOIN targets t ON t.id = e.target_id
		LEFT JOIN read_marks rm ON rm.event_id = e.id AND rm.principal = ?
		WHERE t.folder_id IN (SELECT id FROM folder_tree)
		  AND (rm.read IS NULL OR rm.read = 0)`,
		folderID, principal).Scan(&count)
	return count, err
}

// UnreadCounts returns unread totals for every target the principal can see,
// owned or subscribed-and-still-public, keyed by target ID, plus totals over
// the principal's own folders. A subscription to a target flipped back to
// private contributes nothing until it goes public again. A folder's total includes targets in descendant folders.
// Targets with nothing unread are absent from the maps.
func (s *Store) UnreadCounts(ctx context.Context, principal string) (map[string]int, map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT t.id, COALESCE(t.folder_id, ''), t.owner, COUNT(e.id)
		FROM targets t
		LEFT JOIN subscriptions sub ON sub.target_id = t.id AND sub.principal = ?1
		JOIN events e ON e.target_id = t.id
		LEFT JOIN read_marks rm ON rm.event_id = e.id AND rm.principal = ?1
		WHERE (t.owner = ?1 OR (sub.principal IS NOT NULL AND t.visibility = 'public'))
		  AND (rm.read IS NULL OR rm.read = 0)
		GROUP BY t.id`, principal)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	byTarget := make(map[string]int)
	direct := make(map[string]int)
	for rows.Next() {
		var id, folderID, owner string
		var n int
		if err := rows.Scan(&id, &folderID, &owner, &n); err != nil {
			return nil, nil, fmt.Errorf("scan unread count: %w", err)
		}
		byTarget[id] = n
		// Folder grouping only makes sense inside the principal's own
		// folder tree; subscribed targets sit in the owner's folders.
		if owner == principal && folderID != "" {
			direct[folderID] += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	byFolder, err := s.rollUpFolders(ctx, principal, direct)
	if err != nil {
		return nil, nil, err
	}
	return byTarget, byFolder, nil
}

// rollUpFolders propagates per-folder totals into every ancestor folder.
func (s *Store) rollUpFolders(ctx context.Context, owner string, direct map[string]int) (map[string]int, error) {
	byFolder := make(map[string]int)
	if len(direct) == 0 {
		return byFolder, nil
	}
	folders, err := s.ListFolders(ctx, owner)
	if err != nil {
		return nil, err
	}
	parent := make(map[string]string, len(folders))
	for _, f := range folders {
		if f.ParentID != nil {
			parent[f.ID] = *f.ParentID
		}
	}
	for id, n := range direct {
		seen := make(map[string]bool)
		for cur := id; cur != "" && !seen[cur]; cur = parent[cur] {
			seen[cur] = true
			byFolder[cur] += n
		}
	}
	return byFolder, nil
}

// CountReadMarks returns the number of marks stored for a target's events.
func (s *Store) CountReadMarks(ctx context.Context, targetID string) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM read_marks rm
		JOIN events e ON e.id = rm.event_id
		WHERE e.target_id = ?`, targetID).Scan(&count)
	return count, err
}
