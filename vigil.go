// Package vigil watches web pages for meaningful changes. It wires the
// browser pool, extraction pipeline, scheduler, AI collaborator, event store
// and feed assembler into one Service exposing the owner-facing operations
// the HTTP layer (and tests) call.
package vigil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hazyhaar/vigil/internal/ai"
	"github.com/hazyhaar/vigil/internal/browser"
	"github.com/hazyhaar/vigil/internal/config"
	"github.com/hazyhaar/vigil/internal/extract"
	"github.com/hazyhaar/vigil/internal/feed"
	"github.com/hazyhaar/vigil/internal/idgen"
	"github.com/hazyhaar/vigil/internal/observability"
	"github.com/hazyhaar/vigil/internal/pipeline"
	"github.com/hazyhaar/vigil/internal/safeurl"
	"github.com/hazyhaar/vigil/internal/scheduler"
	"github.com/hazyhaar/vigil/internal/store"
)

// Service owns every long-lived component of the watcher.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	store   *store.Store
	obsDB   *sql.DB
	events  *observability.EventLogger
	metrics *observability.MetricsManager

	pool      *browser.Pool
	ai        *ai.Client
	feedCache *feed.Cache
	assembler *feed.Assembler
	scheduler *scheduler.Scheduler
	processor *pipeline.Processor
	summaries chan pipeline.SummaryJob
	summarist *pipeline.SummaryWorker
	janitor   *cron.Cron

	newID        idgen.Generator
	newTargetID  idgen.Generator
	newFolderID  idgen.Generator
	newSlug      idgen.Generator
	urlValidator func(string) error

	ownStore bool
	ownObs   bool
}

// ServiceOption customizes New.
type ServiceOption func(*Service)

// WithStore injects an already-open store. Close leaves it alone.
func WithStore(st *store.Store) ServiceOption {
	return func(svc *Service) { svc.store = st }
}

// WithObservability injects the observability database. Close leaves it
// alone.
func WithObservability(db *sql.DB) ServiceOption {
	return func(svc *Service) { svc.obsDB = db }
}

// WithAI replaces the AI client, e.g. one pointed at a test server.
func WithAI(client *ai.Client) ServiceOption {
	return func(svc *Service) { svc.ai = client }
}

// WithURLValidator replaces the SSRF guard. Use in tests with httptest
// servers that listen on loopback addresses.
func WithURLValidator(fn func(string) error) ServiceOption {
	return func(svc *Service) { svc.urlValidator = fn }
}

// WithIDGenerator replaces the base generator behind target, folder and
// event IDs.
func WithIDGenerator(gen idgen.Generator) ServiceOption {
	return func(svc *Service) { svc.newID = gen }
}

// WithSlugGenerator replaces the public feed slug generator.
func WithSlugGenerator(gen idgen.Generator) ServiceOption {
	return func(svc *Service) { svc.newSlug = gen }
}

// New wires a Service. The browser pool is the one dependency the caller
// must bring, since only the caller knows whether pages render through a
// local Chromium, a remote one, or a test double. Everything else is built
// from cfg unless an option overrides it.
func New(cfg *config.Config, pool *browser.Pool, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("vigil: nil config")
	}
	if pool == nil {
		return nil, errors.New("vigil: nil browser pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		cfg:          cfg,
		logger:       logger,
		pool:         pool,
		newID:        idgen.Default,
		newSlug:      idgen.NanoID(8),
		urlValidator: safeurl.ValidateURL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.newTargetID = idgen.Prefixed("tgt_", svc.newID)
	svc.newFolderID = idgen.Prefixed("fld_", svc.newID)

	if svc.store == nil {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("vigil: open store: %w", err)
		}
		svc.store = st
		svc.ownStore = true
	}
	if svc.obsDB == nil && cfg.ObsDBPath != "" {
		db, err := observability.Open(cfg.ObsDBPath)
		if err != nil {
			if svc.ownStore {
				svc.store.Close()
			}
			return nil, fmt.Errorf("vigil: open observability db: %w", err)
		}
		svc.obsDB = db
		svc.ownObs = true
	}
	if svc.obsDB != nil {
		svc.events = observability.NewEventLogger(svc.obsDB)
		svc.metrics = observability.NewMetricsManager(svc.obsDB, 256, 30*time.Second)
	}
	if svc.ai == nil {
		svc.ai = ai.NewClient(ai.Config{
			BaseURL:          cfg.AIBaseURL,
			APIKey:           cfg.AIAPIKey,
			Model:            cfg.AIModel,
			SynthesisTimeout: cfg.AISynthesisTimeout,
			SummaryTimeout:   cfg.AISummaryTimeout,
			JudgeTimeout:     cfg.AIJudgeTimeout,
			SynthesisPerMin:  cfg.AISynthesisPerMin,
			SummariesPerMin:  cfg.AISummariesPerMin,
			Logger:           logger,
		})
	}

	capacity := cfg.FeedCacheCapacity
	if capacity <= 0 {
		capacity = 512
	}
	svc.feedCache = feed.NewCache(capacity)
	svc.assembler = feed.NewAssembler(svc.store, svc.feedCache, feed.Config{
		MaxItems: cfg.FeedItemLimit,
		Logger:   logger,
	})

	queue := cfg.SummaryQueueSize
	if queue <= 0 {
		queue = 256
	}
	svc.summaries = make(chan pipeline.SummaryJob, queue)
	svc.summarist = pipeline.NewSummaryWorker(svc.store, svc.ai, svc.feedCache, svc.summaries, logger)

	svc.processor = pipeline.New(pipeline.Deps{
		Store:       svc.store,
		Pool:        svc.pool,
		Extractor:   extract.New(logger),
		Judge:       svc.ai,
		Feed:        svc.feedCache,
		Summaries:   svc.summaries,
		Events:      svc.events,
		Metrics:     svc.metrics,
		NewEventID:  idgen.Prefixed("evt_", svc.newID),
		ValidateURL: svc.urlValidator,
	}, pipeline.Config{
		ScrapeTimeout: cfg.ScrapeTimeout,
		AlertWindow:   cfg.AlertWindow,
		DedupWindow:   cfg.DedupWindow,
		Logger:        logger,
	})

	svc.scheduler = scheduler.New(svc.schedulerView, svc.schedulerSeed, svc.processor.Process, scheduler.Config{
		Tick:              cfg.SchedulerTick,
		Workers:           cfg.BrowserPoolSize,
		DegradedThreshold: cfg.DegradedThreshold,
		BackoffCap:        cfg.BackoffCap,
		JitterMax:         cfg.JitterMax,
		RefreshCooldown:   cfg.RefreshCooldown,
		Logger:            logger,
	})

	if cfg.EventRetentionDays > 0 || (svc.obsDB != nil && cfg.ObsRetentionDays > 0) {
		schedule := cfg.JanitorSchedule
		if schedule == "" {
			schedule = "17 3 * * *"
		}
		c := cron.New()
		if _, err := c.AddFunc(schedule, svc.runJanitor); err != nil {
			return nil, fmt.Errorf("vigil: janitor schedule %q: %w", schedule, err)
		}
		svc.janitor = c
	}

	return svc, nil
}

// Start launches the background machinery: the scheduler loop, the summary
// workers and the retention janitor. It does not block; cancel ctx to wind
// everything down.
func (svc *Service) Start(ctx context.Context) {
	go svc.scheduler.Run(ctx)
	workers := svc.cfg.SummaryWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go svc.summarist.Run(ctx)
	}
	if svc.janitor != nil {
		svc.janitor.Start()
	}
	svc.logger.Info("vigil: started", "summary_workers", workers, "janitor", svc.janitor != nil)
}

// Close releases everything the Service owns. Call it after the Start
// context is cancelled, once outstanding scrapes have drained.
func (svc *Service) Close() error {
	if svc.janitor != nil {
		<-svc.janitor.Stop().Done()
	}

	var errs []error
	if svc.metrics != nil {
		if err := svc.metrics.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := svc.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	svc.feedCache.Close()
	if svc.ownStore {
		if err := svc.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if svc.ownObs {
		if err := svc.obsDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	svc.logger.Info("vigil: closed")
	return errors.Join(errs...)
}

// Health is the live snapshot served by /healthz. Degraded counts targets at
// or past the error threshold; those still schedule, just slower.
type Health struct {
	Status    string          `json:"status"`
	Targets   int             `json:"targets"`
	Degraded  int             `json:"degraded"`
	Scheduler scheduler.Stats `json:"scheduler"`
	Browser   browser.Stats   `json:"browser"`
}

// Health reports store reachability plus pool and scheduler occupancy.
func (svc *Service) Health(ctx context.Context) (*Health, error) {
	if err := svc.store.Ping(); err != nil {
		return nil, fmt.Errorf("vigil: store unreachable: %w", err)
	}
	total, err := svc.store.CountTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("vigil: count targets: %w", err)
	}
	threshold := svc.cfg.DegradedThreshold
	if threshold <= 0 {
		threshold = 5
	}
	degraded, err := svc.store.CountDegraded(ctx, threshold)
	if err != nil {
		return nil, fmt.Errorf("vigil: count degraded: %w", err)
	}
	status := "ok"
	if degraded > 0 {
		status = "degraded"
	}
	return &Health{
		Status:    status,
		Targets:   total,
		Degraded:  degraded,
		Scheduler: svc.scheduler.Stats(),
		Browser:   svc.pool.Stats(),
	}, nil
}

// runJanitor prunes change events past retention and sweeps the
// observability database. Wired to the cron schedule; never blocks callers.
func (svc *Service) runJanitor() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if days := svc.cfg.EventRetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		removed, err := svc.store.DeleteEventsBefore(ctx, cutoff)
		if err != nil {
			svc.logger.Error("vigil: event retention sweep failed", "error", err)
		} else if removed > 0 {
			svc.logger.Info("vigil: pruned old events", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
		}
	}
	if svc.obsDB != nil && svc.cfg.ObsRetentionDays > 0 {
		if err := observability.Cleanup(ctx, svc.obsDB, svc.cfg.ObsRetentionDays); err != nil {
			svc.logger.Error("vigil: observability cleanup failed", "error", err)
		}
	}
}

// logEvent forwards a business event to the observability sink, if any.
func (svc *Service) logEvent(ctx context.Context, eventType, targetID, principal string, details map[string]any) {
	if svc.events == nil {
		return
	}
	svc.events.LogFor(ctx, eventType, targetID, principal, details)
}

func (svc *Service) schedulerView(ctx context.Context, targetID string) (*scheduler.TargetView, error) {
	t, err := svc.store.GetTarget(ctx, targetID)
	if err != nil || t == nil {
		return nil, err
	}
	return targetView(t), nil
}

func (svc *Service) schedulerSeed(ctx context.Context) ([]*scheduler.TargetView, error) {
	targets, err := svc.store.ListActiveTargets(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*scheduler.TargetView, 0, len(targets))
	for _, t := range targets {
		views = append(views, targetView(t))
	}
	return views, nil
}

func targetView(t *store.Target) *scheduler.TargetView {
	return &scheduler.TargetView{
		ID:        t.ID,
		Interval:  t.Interval.Duration(),
		FailCount: t.FailCount,
		Active:    t.Active,
	}
}
