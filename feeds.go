package vigil

import (
	"context"
	"fmt"

	"github.com/hazyhaar/vigil/internal/store"
)

// PublicFeed renders the RSS document for a public slug. No authentication;
// the slug is the capability.
func (svc *Service) PublicFeed(ctx context.Context, slug string) (string, error) {
	t, err := svc.store.GetTargetBySlug(ctx, slug)
	if err != nil {
		return "", fmt.Errorf("vigil: load target: %w", err)
	}
	if t == nil {
		return "", ErrNotFound
	}
	xml, err := svc.assembler.Render(ctx, t)
	if err != nil {
		return "", fmt.Errorf("vigil: render feed: %w", err)
	}
	return xml, nil
}

// PrivateFeed renders the RSS document at the private URL. Owner-only;
// subscribers follow the public slug instead.
func (svc *Service) PrivateFeed(ctx context.Context, principal, targetID string) (string, error) {
	t, err := svc.loadOwned(ctx, principal, targetID)
	if err != nil {
		return "", err
	}
	xml, err := svc.assembler.Render(ctx, t)
	if err != nil {
		return "", fmt.Errorf("vigil: render feed: %w", err)
	}
	return xml, nil
}

// PublicFeedURL is the externally reachable feed address for a public
// target, or "" while it is private.
func (svc *Service) PublicFeedURL(t *store.Target) string {
	if t.Visibility != store.VisibilityPublic || t.PublicSlug == "" {
		return ""
	}
	return svc.cfg.PublicBaseURL + "/feeds/public/" + t.PublicSlug
}
