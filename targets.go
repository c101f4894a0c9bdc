package vigil

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/vigil/internal/extract"
	"github.com/hazyhaar/vigil/internal/observability"
	"github.com/hazyhaar/vigil/internal/store"
)

// MaxDescriptionBytes caps the human description persisted on a target.
const MaxDescriptionBytes = 2048

// NewTarget is the admission payload for CreateTarget.
type NewTarget struct {
	URL            string
	Description    string
	Interval       store.Interval
	AlertPolicy    store.AlertPolicy
	SummaryEnabled bool
	// Config, when non-nil, skips AI synthesis.
	Config *extract.Config
}

// TargetUpdate carries the user-editable fields for UpdateTarget; nil leaves
// a field as it is.
type TargetUpdate struct {
	URL            *string
	Description    *string
	Interval       *store.Interval
	AlertPolicy    *store.AlertPolicy
	SummaryEnabled *bool
}

// --- Admission ---

// CreateTarget admits a new monitored page for the principal. The row is
// inserted paused; once a config is in place, caller-provided or
// synthesized, the target activates and arms the scheduler.
func (svc *Service) CreateTarget(ctx context.Context, principal string, nt NewTarget) (*store.Target, error) {
	if principal == "" {
		return nil, fmt.Errorf("%w: empty principal", ErrInvalidInput)
	}
	if err := svc.urlValidator(nt.URL); err != nil {
		return nil, err
	}
	description := strings.TrimSpace(nt.Description)
	if len(description) > MaxDescriptionBytes {
		return nil, fmt.Errorf("%w: description exceeds %d bytes", ErrInvalidInput, MaxDescriptionBytes)
	}
	interval := nt.Interval
	if interval == "" {
		interval = store.Interval60m
	}
	if !interval.Valid() {
		return nil, fmt.Errorf("%w: check interval %q", ErrInvalidInput, interval)
	}
	policy := nt.AlertPolicy
	if policy == "" {
		policy = store.PolicyEveryChange
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: alert policy %q", ErrInvalidInput, policy)
	}

	target := &store.Target{
		ID:             svc.newTargetID(),
		Owner:          principal,
		URL:            nt.URL,
		Description:    description,
		Interval:       interval,
		AlertPolicy:    policy,
		SummaryEnabled: nt.SummaryEnabled,
		Visibility:     store.VisibilityPrivate,
	}
	if nt.Config != nil {
		if err := nt.Config.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		raw, err := nt.Config.JSON()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		target.ConfigJSON = raw
	}

	if err := svc.store.InsertTarget(ctx, target); err != nil {
		return nil, fmt.Errorf("vigil: insert target: %w", err)
	}

	if nt.Config == nil {
		cfg := svc.synthesizeConfig(ctx, principal, target)
		raw, err := cfg.JSON()
		if err != nil {
			return nil, fmt.Errorf("vigil: encode config: %w", err)
		}
		if err := svc.store.UpdateTargetConfig(ctx, target.ID, raw); err != nil {
			return nil, fmt.Errorf("vigil: store config: %w", err)
		}
		target.ConfigJSON = raw
	}

	if err := svc.store.SetTargetActive(ctx, target.ID, true); err != nil {
		return nil, fmt.Errorf("vigil: activate target: %w", err)
	}
	target.Active = true
	svc.scheduler.Add(target.ID)

	svc.logEvent(ctx, observability.EventTargetCreated, target.ID, principal, map[string]any{"url": target.URL})
	svc.logger.Info("vigil: target created", "target", target.ID, "owner", principal, "url", target.URL)
	return target, nil
}

// synthesizeConfig asks the AI collaborator for an extraction config. Every
// failure falls back to the minimal whole-page config so creation never
// stalls on a flaky page or provider.
func (svc *Service) synthesizeConfig(ctx context.Context, principal string, target *store.Target) extract.Config {
	if !svc.ai.Enabled() {
		return extract.MinimalConfig()
	}
	bctx, err := svc.pool.Lease(ctx)
	if err != nil {
		svc.logger.Warn("vigil: no browser for config synthesis", "target", target.ID, "error", err)
		return extract.MinimalConfig()
	}
	pageHTML, err := bctx.LoadPage(ctx, target.URL)
	svc.pool.Release(bctx, err != nil)
	if err != nil {
		svc.logger.Warn("vigil: page load for config synthesis failed", "target", target.ID, "error", err)
		return extract.MinimalConfig()
	}
	cfg, err := svc.ai.SynthesizeConfig(ctx, principal, target.URL, target.Description, pageHTML)
	if err != nil {
		svc.logger.Warn("vigil: config synthesis failed, using minimal config", "target", target.ID, "error", err)
		return extract.MinimalConfig()
	}
	svc.logEvent(ctx, observability.EventConfigSynthesized, target.ID, principal, map[string]any{"keys": len(cfg.Keys)})
	return cfg
}

// --- Reads ---

// GetTarget returns the target when the principal is in its audience,
// ErrNotFound otherwise. Outsiders cannot distinguish hidden from absent.
func (svc *Service) GetTarget(ctx context.Context, principal, targetID string) (*store.Target, error) {
	t, err := svc.loadTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	ok, err := svc.inAudience(ctx, principal, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// ListTargets returns the principal's own targets followed by the public
// targets they subscribe to.
func (svc *Service) ListTargets(ctx context.Context, principal string) ([]*store.Target, error) {
	owned, err := svc.store.ListTargetsByOwner(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("vigil: list targets: %w", err)
	}
	subscribed, err := svc.store.ListSubscribedTargets(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("vigil: list subscriptions: %w", err)
	}
	return append(owned, subscribed...), nil
}

// --- Mutations (owner-only) ---

// UpdateTarget patches the user-editable fields. Changing the URL re-runs
// the SSRF guard and re-baselines the state, since the old snapshot belongs
// to the old page.
func (svc *Service) UpdateTarget(ctx context.Context, principal, targetID string, up TargetUpdate) (*store.Target, error) {
	t, err := svc.loadOwned(ctx, principal, targetID)
	if err != nil {
		return nil, err
	}

	rebaseline := false
	if up.URL != nil && *up.URL != t.URL {
		if err := svc.urlValidator(*up.URL); err != nil {
			return nil, err
		}
		t.URL = *up.URL
		rebaseline = true
	}
	if up.Description != nil {
		description := strings.TrimSpace(*up.Description)
		if len(description) > MaxDescriptionBytes {
			return nil, fmt.Errorf("%w: description exceeds %d bytes", ErrInvalidInput, MaxDescriptionBytes)
		}
		t.Description = description
	}
	if up.Interval != nil {
		if !up.Interval.Valid() {
			return nil, fmt.Errorf("%w: check interval %q", ErrInvalidInput, *up.Interval)
		}
		t.Interval = *up.Interval
	}
	if up.AlertPolicy != nil {
		if !up.AlertPolicy.Valid() {
			return nil, fmt.Errorf("%w: alert policy %q", ErrInvalidInput, *up.AlertPolicy)
		}
		t.AlertPolicy = *up.AlertPolicy
	}
	if up.SummaryEnabled != nil {
		t.SummaryEnabled = *up.SummaryEnabled
	}

	if err := svc.store.UpdateTarget(ctx, t); err != nil {
		return nil, fmt.Errorf("vigil: update target: %w", err)
	}
	if rebaseline {
		if err := svc.store.ResetTargetState(ctx, t.ID); err != nil {
			return nil, fmt.Errorf("vigil: reset state: %w", err)
		}
		t.StateJSON = ""
		t.AlertStateJSON = ""
	}
	if t.Active {
		// Re-arm so an interval change takes effect before the old slot.
		svc.scheduler.Add(t.ID)
	}
	return t, nil
}

// UpdateTargetConfig replaces the extraction config and re-baselines the
// target; old snapshot keys would otherwise diff against the new ones.
func (svc *Service) UpdateTargetConfig(ctx context.Context, principal, targetID string, cfg extract.Config) error {
	t, err := svc.loadOwned(ctx, principal, targetID)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	raw, err := cfg.JSON()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := svc.store.UpdateTargetConfig(ctx, t.ID, raw); err != nil {
		return fmt.Errorf("vigil: update config: %w", err)
	}
	if err := svc.store.ResetTargetState(ctx, t.ID); err != nil {
		return fmt.Errorf("vigil: reset state: %w", err)
	}
	svc.logger.Info("vigil: config updated", "target", t.ID, "keys", len(cfg.Keys))
	return nil
}

// SetTargetActive pauses or resumes scheduling.
func (svc *Service) SetTargetActive(ctx context.Context, principal, targetID string, active bool) error {
	t, err := svc.loadOwned(ctx, principal, targetID)
	if err != nil {
		return err
	}
	if err := svc.store.SetTargetActive(ctx, t.ID, active); err != nil {
		return fmt.Errorf("vigil: set active: %w", err)
	}
	if active {
		svc.scheduler.Add(t.ID)
	} else {
		svc.scheduler.Remove(t.ID)
	}
	svc.logger.Info("vigil: target toggled", "target", t.ID, "active", active)
	return nil
}

// SetVisibility switches a target between private and public. Going public
// keeps an existing slug, honors a requested one when free, or mints a fresh
// one; going private clears the slug so the public URL stops resolving.
func (svc *Service) SetVisibility(ctx context.Context, principal, targetID string, v store.Visibility, slug string) (*store.Target, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: visibility %q", ErrInvalidInput, v)
	}
	t, err := svc.loadOwned(ctx, principal, targetID)
	if err != nil {
		return nil, err
	}

	if v == store.VisibilityPrivate {
		if err := svc.store.SetVisibility(ctx, t.ID, v, ""); err != nil {
			return nil, fmt.Errorf("vigil: set visibility: %w", err)
		}
		t.Visibility = v
		t.PublicSlug = ""
		return t, nil
	}

	switch {
	case slug != "":
		if err := validSlug(slug); err != nil {
			return nil, err
		}
		existing, err := svc.store.GetTargetBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("vigil: check slug: %w", err)
		}
		if existing != nil && existing.ID != t.ID {
			return nil, ErrSlugTaken
		}
	case t.PublicSlug != "":
		slug = t.PublicSlug
	default:
		slug, err = svc.mintSlug(ctx)
		if err != nil {
			return nil, err
		}
	}

	if err := svc.store.SetVisibility(ctx, t.ID, store.VisibilityPublic, slug); err != nil {
		return nil, fmt.Errorf("vigil: set visibility: %w", err)
	}
	t.Visibility = store.VisibilityPublic
	t.PublicSlug = slug
	svc.logger.Info("vigil: target published", "target", t.ID, "slug", slug)
	return t, nil
}

// mintSlug draws fresh slugs until one is unused. Collisions are vanishingly
// rare at 8 base-36 characters; the retry bound guards a broken generator.
func (svc *Service) mintSlug(ctx context.Context) (string, error) {
	for i := 0; i < 5; i++ {
		slug := svc.newSlug()
		existing, err := svc.store.GetTargetBySlug(ctx, slug)
		if err != nil {
			return "", fmt.Errorf("vigil: check slug: %w", err)
		}
		if existing == nil {
			return slug, nil
		}
	}
	return "", ErrSlugTaken
}

func validSlug(slug string) error {
	if len(slug) < 3 || len(slug) > 64 {
		return fmt.Errorf("%w: slug must be 3-64 characters", ErrInvalidInput)
	}
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return fmt.Errorf("%w: slug may only contain a-z, 0-9 and dashes", ErrInvalidInput)
		}
	}
	return nil
}

// DeleteTarget removes a target and everything hanging off it: events, read
// marks, subscriptions, the scheduler slot and the cached feed.
func (svc *Service) DeleteTarget(ctx context.Context, principal, targetID string) error {
	t, err := svc.loadOwned(ctx, principal, targetID)
	if err != nil {
		return err
	}
	svc.scheduler.Remove(t.ID)
	if err := svc.store.DeleteTarget(ctx, t.ID); err != nil {
		return fmt.Errorf("vigil: delete target: %w", err)
	}
	svc.feedCache.Forget(t.ID)
	svc.logEvent(ctx, observability.EventTargetDeleted, t.ID, principal, nil)
	svc.logger.Info("vigil: target deleted", "target", t.ID, "owner", principal)
	return nil
}

// AssignFolder moves a target into one of the owner's folders, or out of
// any folder when folderID is nil.
func (svc *Service) AssignFolder(ctx context.Context, principal, targetID string, folderID *string) error {
	t, err := svc.loadOwned(ctx, principal, targetID)
	if err != nil {
		return err
	}
	if folderID != nil {
		f, err := svc.store.GetFolder(ctx, *folderID)
		if err != nil {
			return fmt.Errorf("vigil: load folder: %w", err)
		}
		if f == nil || f.Owner != principal {
			return ErrNotFound
		}
	}
	if err := svc.store.AssignFolder(ctx, t.ID, folderID); err != nil {
		return fmt.Errorf("vigil: assign folder: %w", err)
	}
	return nil
}

// Refresh queues an immediate manual scrape, subject to the per-target
// cooldown and single-flight rule.
func (svc *Service) Refresh(ctx context.Context, principal, targetID string) error {
	t, err := svc.loadOwned(ctx, principal, targetID)
	if err != nil {
		return err
	}
	if !t.Active {
		return fmt.Errorf("%w: target is paused", ErrInvalidInput)
	}
	if err := svc.scheduler.RefreshNow(t.ID); err != nil {
		return err
	}
	svc.logEvent(ctx, observability.EventRefreshManual, t.ID, principal, nil)
	return nil
}

// --- Authorization ---

// loadTarget fetches a target, mapping absence to ErrNotFound.
func (svc *Service) loadTarget(ctx context.Context, targetID string) (*store.Target, error) {
	t, err := svc.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("vigil: load target: %w", err)
	}
	if t == nil {
		return nil, ErrNotFound
	}
	return t, nil
}

// loadOwned fetches a target and enforces owner-only access. Principals who
// could not even read the target get ErrNotFound, so private targets stay
// unguessable; audience members get ErrUnauthorized.
func (svc *Service) loadOwned(ctx context.Context, principal, targetID string) (*store.Target, error) {
	t, err := svc.loadTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if t.Owner == principal {
		return t, nil
	}
	visible, err := svc.inAudience(ctx, principal, t)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, ErrNotFound
	}
	return nil, ErrUnauthorized
}

// inAudience reports whether the principal may observe the target's events:
// the owner always, subscribers while the target is public.
func (svc *Service) inAudience(ctx context.Context, principal string, t *store.Target) (bool, error) {
	if principal == "" {
		return false, nil
	}
	if t.Owner == principal {
		return true, nil
	}
	if t.Visibility != store.VisibilityPublic {
		return false, nil
	}
	ok, err := svc.store.IsSubscriber(ctx, principal, t.ID)
	if err != nil {
		return false, fmt.Errorf("vigil: check subscription: %w", err)
	}
	return ok, nil
}
