package vigil

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFolderLifecycle(t *testing.T) {
	// WHAT: Folders nest under same-owner parents, list per principal, and
	// deleting one releases its targets instead of removing them.
	svc := newTestService(t, &stubLoader{})
	ctx := context.Background()

	root, err := svc.CreateFolder(ctx, "alice", "shops", nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	if !strings.HasPrefix(root.ID, "fld_") {
		t.Errorf("folder id: got %q, want fld_ prefix", root.ID)
	}
	child, err := svc.CreateFolder(ctx, "alice", "  tickets  ", &root.ID)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child.Name != "tickets" {
		t.Errorf("name not trimmed: %q", child.Name)
	}
	if child.ParentID == nil || *child.ParentID != root.ID {
		t.Errorf("parent: %+v", child.ParentID)
	}

	folders, err := svc.ListFolders(ctx, "alice")
	if err != nil || len(folders) != 2 {
		t.Fatalf("list: %d folders, %v", len(folders), err)
	}
	if others, _ := svc.ListFolders(ctx, "bob"); len(others) != 0 {
		t.Errorf("bob sees %d of alice's folders", len(others))
	}

	tgt := createTarget(t, svc, "alice", nil)
	if err := svc.AssignFolder(ctx, "alice", tgt.ID, &child.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := svc.DeleteFolder(ctx, "alice", child.ID); err != nil {
		t.Fatalf("delete folder: %v", err)
	}
	stored, _ := svc.store.GetTarget(ctx, tgt.ID)
	if stored == nil {
		t.Fatal("target deleted along with its folder")
	}
	if stored.FolderID != nil {
		t.Errorf("target still filed in deleted folder: %v", *stored.FolderID)
	}
}

func TestFolderValidation(t *testing.T) {
	// WHAT: Folder names are required and bounded, and parents must exist
	// and belong to the same principal.
	svc := newTestService(t, &stubLoader{})
	ctx := context.Background()

	if _, err := svc.CreateFolder(ctx, "", "shops", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty principal: got %v, want ErrInvalidInput", err)
	}
	if _, err := svc.CreateFolder(ctx, "alice", "   ", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank name: got %v, want ErrInvalidInput", err)
	}
	long := strings.Repeat("x", maxFolderNameBytes+1)
	if _, err := svc.CreateFolder(ctx, "alice", long, nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("oversized name: got %v, want ErrInvalidInput", err)
	}

	missing := "fld_missing"
	if _, err := svc.CreateFolder(ctx, "alice", "shops", &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing parent: got %v, want ErrNotFound", err)
	}
	theirs, err := svc.CreateFolder(ctx, "bob", "loot", nil)
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if _, err := svc.CreateFolder(ctx, "alice", "shops", &theirs.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign parent: got %v, want ErrNotFound", err)
	}

	if err := svc.DeleteFolder(ctx, "alice", theirs.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign delete: got %v, want ErrNotFound", err)
	}
	if err := svc.DeleteFolder(ctx, "alice", "fld_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing delete: got %v, want ErrNotFound", err)
	}
}
