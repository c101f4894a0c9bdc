package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertFolder creates a folder. ParentID nil means a root folder.
func (s *Store) InsertFolder(ctx context.Context, f *Folder) error {
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO folders (id, owner, name, parent_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Owner, f.Name, f.ParentID, f.CreatedAt)
	return err
}

// GetFolder retrieves a folder by ID. Returns (nil, nil) when absent.
func (s *Store) GetFolder(ctx context.Context, id string) (*Folder, error) {
	var f Folder
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, owner, name, parent_id, created_at FROM folders WHERE id = ?`, id).
		Scan(&f.ID, &f.Owner, &f.Name, &f.ParentID, &f.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan folder: %w", err)
	}
	return &f, nil
}

// ListFolders returns all folders owned by a principal.
func (s *Store) ListFolders(ctx context.Context, owner string) ([]*Folder, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, owner, name, parent_id, created_at
		FROM folders WHERE owner = ? ORDER BY created_at ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []*Folder
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.Owner, &f.Name, &f.ParentID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, &f)
	}
	return folders, rows.Err()
}

// DeleteFolder removes a folder. Child folders cascade; targets assigned to
// any deleted folder fall back to no folder (SET NULL).
func (s *Store) DeleteFolder(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id)
	return err
}
