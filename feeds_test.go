package vigil

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/vigil/internal/store"
)

func TestPublicFeedBySlug(t *testing.T) {
	// WHAT: The public slug resolves to an RSS document without any
	// principal; unknown slugs and private targets 404.
	// WHY: The slug is the capability. Nothing else gates the public feed.
	svc := newTestService(t, &stubLoader{})
	ctx := context.Background()
	tgt := createTarget(t, svc, "alice", nil)

	if _, err := svc.PublicFeed(ctx, "no-such-slug"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown slug: got %v, want ErrNotFound", err)
	}

	if _, err := svc.SetVisibility(ctx, "alice", tgt.ID, store.VisibilityPublic, "ticket-watch"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	insertEvent(t, svc, tgt.ID, "evt-1", "status: closed → open")

	doc, err := svc.PublicFeed(ctx, "ticket-watch")
	if err != nil {
		t.Fatalf("public feed: %v", err)
	}
	for _, want := range []string{
		`<rss version="2.0">`,
		"<title>Ticket availability</title>",
		"<link>https://shop.example/item/42</link>",
		"status: closed → open",
		"evt-1",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("feed missing %q:\n%s", want, doc)
		}
	}

	// Unpublishing retires the slug immediately.
	if _, err := svc.SetVisibility(ctx, "alice", tgt.ID, store.VisibilityPrivate, ""); err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	if _, err := svc.PublicFeed(ctx, "ticket-watch"); !errors.Is(err, ErrNotFound) {
		t.Errorf("retired slug: got %v, want ErrNotFound", err)
	}
}

func TestPrivateFeedOwnerOnly(t *testing.T) {
	// WHAT: The private feed endpoint serves only the owner. Subscribers
	// follow the public slug; outsiders cannot tell the target exists.
	svc := newTestService(t, &stubLoader{})
	ctx := context.Background()
	tgt := createTarget(t, svc, "alice", nil)
	insertEvent(t, svc, tgt.ID, "evt-1", "status: closed → open")

	doc, err := svc.PrivateFeed(ctx, "alice", tgt.ID)
	if err != nil {
		t.Fatalf("owner feed: %v", err)
	}
	if !strings.Contains(doc, "evt-1") {
		t.Errorf("owner feed missing the event:\n%s", doc)
	}

	if _, err := svc.PrivateFeed(ctx, "mallory", tgt.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("outsider feed: got %v, want ErrNotFound", err)
	}

	if _, err := svc.SetVisibility(ctx, "alice", tgt.ID, store.VisibilityPublic, ""); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.Subscribe(ctx, "bob", tgt.ID); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := svc.PrivateFeed(ctx, "bob", tgt.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("subscriber feed: got %v, want ErrUnauthorized", err)
	}
}

func TestFeedRefreshesAfterNewEvent(t *testing.T) {
	// WHAT: New events invalidate the cached rendering, so the next fetch
	// includes them without waiting for any TTL.
	svc := newTestService(t, &stubLoader{})
	ctx := context.Background()
	tgt := createTarget(t, svc, "alice", nil)

	doc, err := svc.PrivateFeed(ctx, "alice", tgt.ID)
	if err != nil {
		t.Fatalf("empty feed: %v", err)
	}
	if strings.Contains(doc, "<item>") {
		t.Errorf("empty feed has items:\n%s", doc)
	}

	insertEvent(t, svc, tgt.ID, "evt-1", "status: closed → open")
	doc, err = svc.PrivateFeed(ctx, "alice", tgt.ID)
	if err != nil {
		t.Fatalf("refreshed feed: %v", err)
	}
	if !strings.Contains(doc, "evt-1") {
		t.Errorf("feed not refreshed after insert:\n%s", doc)
	}
}
