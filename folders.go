package vigil

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/vigil/internal/store"
)

const maxFolderNameBytes = 128

// CreateFolder makes a grouping folder for the principal, optionally nested
// under one of their existing folders.
func (svc *Service) CreateFolder(ctx context.Context, principal, name string, parentID *string) (*store.Folder, error) {
	if principal == "" {
		return nil, fmt.Errorf("%w: empty principal", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxFolderNameBytes {
		return nil, fmt.Errorf("%w: folder name must be 1-%d bytes", ErrInvalidInput, maxFolderNameBytes)
	}
	if parentID != nil {
		parent, err := svc.store.GetFolder(ctx, *parentID)
		if err != nil {
			return nil, fmt.Errorf("vigil: load folder: %w", err)
		}
		if parent == nil || parent.Owner != principal {
			return nil, ErrNotFound
		}
	}
	f := &store.Folder{
		ID:       svc.newFolderID(),
		Owner:    principal,
		Name:     name,
		ParentID: parentID,
	}
	if err := svc.store.InsertFolder(ctx, f); err != nil {
		return nil, fmt.Errorf("vigil: insert folder: %w", err)
	}
	return f, nil
}

// ListFolders returns all of the principal's folders.
func (svc *Service) ListFolders(ctx context.Context, principal string) ([]*store.Folder, error) {
	folders, err := svc.store.ListFolders(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("vigil: list folders: %w", err)
	}
	return folders, nil
}

// DeleteFolder removes a folder and its descendants. Targets inside any
// deleted folder fall back to no folder; nothing else is touched.
func (svc *Service) DeleteFolder(ctx context.Context, principal, folderID string) error {
	f, err := svc.store.GetFolder(ctx, folderID)
	if err != nil {
		return fmt.Errorf("vigil: load folder: %w", err)
	}
	if f == nil || f.Owner != principal {
		return ErrNotFound
	}
	if err := svc.store.DeleteFolder(ctx, f.ID); err != nil {
		return fmt.Errorf("vigil: delete folder: %w", err)
	}
	return nil
}
