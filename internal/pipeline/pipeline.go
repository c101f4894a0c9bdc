// Package pipeline executes one scrape end to end: lease a browser context,
// render the page, extract the state map, diff it against the stored
// snapshot, and persist whatever the round produced. It is the only place
// where the scrape-side packages meet.
package pipeline

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/hazyhaar/vigil/internal/browser"
	"github.com/hazyhaar/vigil/internal/detect"
	"github.com/hazyhaar/vigil/internal/extract"
	"github.com/hazyhaar/vigil/internal/feed"
	"github.com/hazyhaar/vigil/internal/idgen"
	"github.com/hazyhaar/vigil/internal/observability"
	"github.com/hazyhaar/vigil/internal/safeurl"
	"github.com/hazyhaar/vigil/internal/scheduler"
	"github.com/hazyhaar/vigil/internal/store"
)

// Store is the slice of the data layer a scrape touches.
type Store interface {
	GetTarget(ctx context.Context, id string) (*store.Target, error)
	RecordScrapeSuccess(ctx context.Context, id, stateJSON, alertStateJSON string) error
	RecordScrapeError(ctx context.Context, id, errMsg string) error
	InsertEvent(ctx context.Context, ev *store.Event, dedupWindow time.Duration) (store.InsertOutcome, error)
	LastEventAt(ctx context.Context, targetID string) (int64, error)
}

// AlertJudge decides whether a diff matches the target's stated intent.
// Implementations fail open; a nil judge emits unconditionally.
type AlertJudge interface {
	JudgeAlert(ctx context.Context, prior, current extract.StateMap, intent string) bool
}

// Config tunes per-scrape budgets and emission windows.
type Config struct {
	// ScrapeTimeout bounds one whole scrape. Default 45s.
	ScrapeTimeout time.Duration
	// AlertWindow is the per-target minimum spacing between emitted
	// events. Default 60s.
	AlertWindow time.Duration
	// DedupWindow suppresses identical fingerprints on the same target.
	// Default 60s.
	DedupWindow time.Duration
	// PersistTimeout bounds bookkeeping writes after the scrape phase,
	// which run detached so a blown scrape budget cannot also lose the
	// error record. Default 5s.
	PersistTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ScrapeTimeout <= 0 {
		c.ScrapeTimeout = 45 * time.Second
	}
	if c.AlertWindow <= 0 {
		c.AlertWindow = time.Minute
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Minute
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Deps are the collaborators of a Processor. Store, Pool and Extractor are
// required; everything else degrades to a no-op when absent.
type Deps struct {
	Store     Store
	Pool      *browser.Pool
	Extractor *extract.Extractor

	// Judge gates the intent policy. Nil fails open.
	Judge AlertJudge
	// Feed is bumped after every accepted insert. Nil disables.
	Feed *feed.Cache
	// Summaries receives a job per emitted event when the target opted
	// in. Sends never block; a full queue drops the job. Nil disables.
	Summaries chan<- SummaryJob

	// Events and Metrics are the observability sinks. Nil disables.
	Events  *observability.EventLogger
	Metrics *observability.MetricsManager

	// NewEventID mints event ids. Default "evt_"-prefixed UUIDv7.
	NewEventID idgen.Generator
	// ValidateURL re-checks the stored URL before every scrape, so a
	// target cannot be steered inside the perimeter by DNS changes after
	// admission. Default safeurl.ValidateURL.
	ValidateURL func(string) error
}

// Processor runs scrapes. Safe for concurrent use by the scheduler's
// worker pool.
type Processor struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// New builds a Processor.
func New(deps Deps, cfg Config) *Processor {
	cfg.defaults()
	if deps.NewEventID == nil {
		deps.NewEventID = idgen.Prefixed("evt_", idgen.Default)
	}
	if deps.ValidateURL == nil {
		deps.ValidateURL = safeurl.ValidateURL
	}
	return &Processor{
		cfg:    cfg,
		deps:   deps,
		logger: cfg.Logger.With("component", "pipeline"),
	}
}

// Process executes one scrape under the scrape budget and reports how the
// scheduler should treat the target next.
func (p *Processor) Process(ctx context.Context, task scheduler.Task) scheduler.Outcome {
	started := time.Now()
	log := p.logger.With("target", task.TargetID)
	if task.Manual {
		log = log.With("manual", true)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ScrapeTimeout)
	defer cancel()

	target, err := p.deps.Store.GetTarget(ctx, task.TargetID)
	if err != nil {
		log.Warn("pipeline: load target", "error", err)
		return scheduler.OutcomeRequeue
	}
	if target == nil || !target.Active {
		// Deleted or paused after dispatch; drop silently.
		log.Debug("pipeline: target gone or paused, skipping")
		return scheduler.OutcomeSuccess
	}

	if err := p.deps.ValidateURL(target.URL); err != nil {
		return p.fail(log, target.ID, "validate", err)
	}

	leaseStart := time.Now()
	bctx, err := p.deps.Pool.Lease(ctx)
	if err != nil {
		// Pool pressure and browser launch trouble are infrastructure
		// conditions, not target errors.
		log.Warn("pipeline: browser lease", "error", err)
		return scheduler.OutcomeRequeue
	}
	p.recordDuration(observability.MetricPoolLeaseWaitMs, target.ID, time.Since(leaseStart))

	pageHTML, loadErr := bctx.LoadPage(ctx, target.URL)
	p.deps.Pool.Release(bctx, loadErr != nil)
	if loadErr != nil {
		if ctx.Err() == context.Canceled {
			// Shutdown or user cancellation, not the page's fault.
			log.Debug("pipeline: scrape canceled", "error", loadErr)
			return scheduler.OutcomeRequeue
		}
		return p.fail(log, target.ID, "load", loadErr)
	}

	cfg, err := extract.ParseConfig(target.ConfigJSON)
	if err != nil {
		return p.fail(log, target.ID, "config", err)
	}

	state, err := p.deps.Extractor.Extract(pageHTML, cfg)
	if err != nil {
		return p.fail(log, target.ID, "extract", err)
	}
	p.recordDuration(observability.MetricScrapeDurationMs, target.ID, time.Since(started))
	p.recordCount(observability.MetricExtractKeys, float64(len(state)))

	prior, err := extract.ParseState(target.StateJSON)
	if err != nil {
		// A corrupt snapshot must not wedge the target; re-baseline.
		log.Warn("pipeline: stored state unreadable, re-baselining", "error", err)
		prior = nil
	}
	lastAlert, err := extract.ParseState(target.AlertStateJSON)
	if err != nil {
		log.Warn("pipeline: stored alert state unreadable", "error", err)
		lastAlert = nil
	}

	res := detect.Detect(detect.Input{
		Policy:    detect.Policy(target.AlertPolicy),
		KeyAlerts: keyAlerts(cfg),
		Prior:     prior,
		Current:   state,
		LastAlert: lastAlert,
	})

	// Bookkeeping runs detached: a scrape that spent its whole budget on
	// the page load still gets its outcome recorded.
	pctx, pcancel := context.WithTimeout(context.Background(), p.cfg.PersistTimeout)
	defer pcancel()

	if res.Emit {
		if suppressed, reason := p.suppress(ctx, pctx, target, prior, state); suppressed {
			res.Emit = false
			log.Debug("pipeline: change suppressed", "reason", reason)
			p.logEvent(pctx, observability.EventDuplicateSuppressed, target.ID, map[string]any{
				"reason": reason,
			})
		}
	}

	stateJSON, err := state.JSON()
	if err != nil {
		return p.fail(log, target.ID, "persist", err)
	}
	// The alert snapshot is persisted every round, emitted or not: a key
	// that left its alert set must clear its slot so a later re-entry
	// fires again.
	alertJSON := target.AlertStateJSON
	if res.NextAlertState != nil {
		if next, jerr := res.NextAlertState.JSON(); jerr == nil {
			alertJSON = next
		}
	}

	emitted := false
	if res.Emit {
		// The event carries the round-start time: it dates the observation,
		// not however long the load and extract happened to take.
		ev := &store.Event{
			ID:               p.deps.NewEventID(),
			TargetID:         target.ID,
			CreatedAt:        started.UnixMilli(),
			Title:            eventTitle(target),
			Description:      res.Draft.Description,
			Permalink:        target.URL,
			PriorStateJSON:   target.StateJSON,
			CurrentStateJSON: stateJSON,
			Fingerprint:      res.Draft.Fingerprint,
		}
		outcome, err := p.deps.Store.InsertEvent(pctx, ev, p.cfg.DedupWindow)
		if err != nil {
			// The diff is still observable on the next round.
			log.Warn("pipeline: insert event", "error", err)
			return scheduler.OutcomeRequeue
		}
		switch outcome {
		case store.OutcomeDuplicate:
			log.Debug("pipeline: duplicate change suppressed")
			p.logEvent(pctx, observability.EventDuplicateSuppressed, target.ID, map[string]any{
				"reason": "fingerprint",
			})
		case store.OutcomeInserted:
			emitted = true
			log.Info("pipeline: change event emitted",
				"event", ev.ID, "keys", len(res.Draft.ChangedKeys))
			p.logEvent(pctx, observability.EventChangeEmitted, target.ID, map[string]any{
				"event_id":     ev.ID,
				"changed_keys": len(res.Draft.ChangedKeys),
			})
			p.recordCount(observability.MetricEventsEmittedCount, 1)
			if p.deps.Feed != nil {
				p.deps.Feed.Bump(target.ID)
			}
			p.queueSummary(log, target, ev.ID, prior, state)
		}
	}

	if err := p.deps.Store.RecordScrapeSuccess(pctx, target.ID, stateJSON, alertJSON); err != nil {
		log.Warn("pipeline: record scrape success", "error", err)
		return scheduler.OutcomeRequeue
	}
	p.logEvent(pctx, observability.EventScrapeCompleted, target.ID, map[string]any{
		"emitted": emitted,
		"manual":  task.Manual,
	})
	return scheduler.OutcomeSuccess
}

// suppress applies the emission gates that sit between detection and
// insertion: the per-target alert window, then the intent judge. The
// cheaper check runs first.
func (p *Processor) suppress(ctx, pctx context.Context, target *store.Target, prior, current extract.StateMap) (bool, string) {
	last, err := p.deps.Store.LastEventAt(pctx, target.ID)
	if err != nil {
		// A missed alert costs more than a doubled one; fail open.
		p.logger.Warn("pipeline: last event lookup", "target", target.ID, "error", err)
	} else if last > 0 && time.Now().UnixMilli()-last < p.cfg.AlertWindow.Milliseconds() {
		return true, "alert_window"
	}

	if target.AlertPolicy == store.PolicyIntent && p.deps.Judge != nil {
		if !p.deps.Judge.JudgeAlert(ctx, prior, current, target.Description) {
			return true, "intent_judge"
		}
	}
	return false, ""
}

// fail records a target-attributed scrape failure and schedules backoff.
func (p *Processor) fail(log *slog.Logger, targetID, stage string, err error) scheduler.Outcome {
	log.Warn("pipeline: scrape failed", "stage", stage, "error", err)

	pctx, cancel := context.WithTimeout(context.Background(), p.cfg.PersistTimeout)
	defer cancel()
	if rerr := p.deps.Store.RecordScrapeError(pctx, targetID, err.Error()); rerr != nil {
		log.Error("pipeline: record scrape error", "error", rerr)
	}
	p.logEvent(pctx, observability.EventScrapeFailed, targetID, map[string]any{
		"stage": stage,
		"error": err.Error(),
	})
	return scheduler.OutcomeFailure
}

func (p *Processor) queueSummary(log *slog.Logger, target *store.Target, eventID string, prior, current extract.StateMap) {
	if !target.SummaryEnabled || p.deps.Summaries == nil {
		return
	}
	job := SummaryJob{
		EventID:     eventID,
		TargetID:    target.ID,
		Owner:       target.Owner,
		Prior:       prior,
		Current:     current,
		Description: target.Description,
	}
	select {
	case p.deps.Summaries <- job:
	default:
		log.Warn("pipeline: summary queue full, dropping", "event", eventID)
	}
}

func (p *Processor) logEvent(ctx context.Context, eventType, targetID string, details map[string]any) {
	if p.deps.Events == nil {
		return
	}
	p.deps.Events.Log(ctx, eventType, targetID, details)
}

func (p *Processor) recordDuration(name, targetID string, elapsed time.Duration) {
	if p.deps.Metrics == nil {
		return
	}
	p.deps.Metrics.RecordDuration(name, targetID, elapsed)
}

func (p *Processor) recordCount(name string, value float64) {
	if p.deps.Metrics == nil {
		return
	}
	p.deps.Metrics.RecordCount(name, value)
}

// keyAlerts projects the alert-relevant value sets out of an extraction
// config for the first-match policy.
func keyAlerts(cfg extract.Config) map[string][]string {
	m := make(map[string][]string, len(cfg.Keys))
	for key, spec := range cfg.Keys {
		if len(spec.AlertValues) > 0 {
			m[key] = spec.AlertValues
		}
	}
	return m
}

// eventTitle names an event after its target: the description when one was
// given, otherwise the page host.
func eventTitle(t *store.Target) string {
	if t.Description != "" {
		return t.Description
	}
	if u, err := url.Parse(t.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return t.URL
}
