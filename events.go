package vigil

import (
	"context"
	"fmt"

	"github.com/hazyhaar/vigil/internal/store"
)

// UnreadSummary aggregates unread event counts: per target the principal can
// see, and per folder over the principal's own folder tree.
type UnreadSummary struct {
	ByTarget map[string]int `json:"by_target"`
	ByFolder map[string]int `json:"by_folder"`
}

// ListEvents pages a target's change events, newest first. Principals
// outside the audience get an empty page rather than an error, so history
// stays invisible after an unsubscribe without leaking why.
func (svc *Service) ListEvents(ctx context.Context, principal, targetID string, cursor *store.Cursor, limit int) ([]*store.Event, *store.Cursor, error) {
	t, err := svc.loadTarget(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}
	ok, err := svc.inAudience(ctx, principal, t)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, nil
	}
	events, next, err := svc.store.ListEvents(ctx, t.ID, cursor, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("vigil: list events: %w", err)
	}
	return events, next, nil
}

// SetRead marks an event read or unread for the principal. Last writer wins.
func (svc *Service) SetRead(ctx context.Context, principal, eventID string, read bool) error {
	if err := svc.authorizeMark(ctx, principal, eventID); err != nil {
		return err
	}
	if err := svc.store.SetRead(ctx, principal, eventID, read); err != nil {
		return fmt.Errorf("vigil: set read: %w", err)
	}
	return nil
}

// ToggleStar flips the principal's star on an event and returns the new
// value.
func (svc *Service) ToggleStar(ctx context.Context, principal, eventID string) (bool, error) {
	if err := svc.authorizeMark(ctx, principal, eventID); err != nil {
		return false, err
	}
	starred, err := svc.store.ToggleStar(ctx, principal, eventID)
	if err != nil {
		return false, fmt.Errorf("vigil: toggle star: %w", err)
	}
	return starred, nil
}

// authorizeMark checks that the principal is in the audience of the event's
// target before a read/star write.
func (svc *Service) authorizeMark(ctx context.Context, principal, eventID string) error {
	ev, err := svc.store.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("vigil: load event: %w", err)
	}
	if ev == nil {
		return ErrNotFound
	}
	t, err := svc.loadTarget(ctx, ev.TargetID)
	if err != nil {
		return err
	}
	ok, err := svc.inAudience(ctx, principal, t)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// UnreadCounts returns the principal's unread totals keyed by target and by
// folder, in one store pass.
func (svc *Service) UnreadCounts(ctx context.Context, principal string) (*UnreadSummary, error) {
	byTarget, byFolder, err := svc.store.UnreadCounts(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("vigil: unread counts: %w", err)
	}
	return &UnreadSummary{ByTarget: byTarget, ByFolder: byFolder}, nil
}

// --- Subscriptions ---

// Subscribe adds the principal to a public target's audience. Owners are
// already in their own audience, so self-subscribes are rejected; private
// targets look absent to prospective subscribers.
func (svc *Service) Subscribe(ctx context.Context, principal, targetID string) error {
	if principal == "" {
		return fmt.Errorf("%w: empty principal", ErrInvalidInput)
	}
	t, err := svc.loadTarget(ctx, targetID)
	if err != nil {
		return err
	}
	if t.Visibility != store.VisibilityPublic {
		return ErrNotFound
	}
	if t.Owner == principal {
		return fmt.Errorf("%w: cannot subscribe to your own target", ErrInvalidInput)
	}
	inserted, err := svc.store.InsertSubscription(ctx, principal, t.ID)
	if err != nil {
		return fmt.Errorf("vigil: subscribe: %w", err)
	}
	if !inserted {
		return ErrAlreadySubscribed
	}
	svc.logger.Info("vigil: subscribed", "target", t.ID, "principal", principal)
	return nil
}

// Unsubscribe drops the principal's subscription. The target's events and
// any read marks the principal left behind stay in the store for the rest
// of the audience. Idempotent.
func (svc *Service) Unsubscribe(ctx context.Context, principal, targetID string) error {
	if err := svc.store.DeleteSubscription(ctx, principal, targetID); err != nil {
		return fmt.Errorf("vigil: unsubscribe: %w", err)
	}
	return nil
}
