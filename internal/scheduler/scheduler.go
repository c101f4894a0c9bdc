// Package scheduler decides when each target is scraped. A min-heap of due
// times is owned by a single run goroutine; everything else (admission,
// deletion, scrape completion, manual refresh) communicates with it through
// intents, so no lock ever guards the heap.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Task is one scrape dispatch handed to a worker.
type Task struct {
	TargetID string
	// Manual marks user-initiated refreshes, which bypass the heap.
	Manual bool
}

// Outcome is how a scrape ended, which drives rescheduling.
type Outcome int

const (
	// OutcomeSuccess resets the target onto its regular interval.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure reschedules honoring the degraded backoff.
	OutcomeFailure
	// OutcomeRequeue retries shortly without counting a target error
	// (pool exhaustion, shutdown races).
	OutcomeRequeue
)

// TargetView is the scheduler's projection of a target: just enough to
// decide when it runs next.
type TargetView struct {
	ID        string
	Interval  time.Duration
	FailCount int
	Active    bool
}

// LookupFunc fetches the current view of one target; (nil, nil) when gone.
type LookupFunc func(ctx context.Context, targetID string) (*TargetView, error)

// ListFunc returns views of all active targets, used to seed the heap.
type ListFunc func(ctx context.Context) ([]*TargetView, error)

// ProcessFunc executes one scrape.
type ProcessFunc func(ctx context.Context, task Task) Outcome

// Config tunes the scheduler.
type Config struct {
	// Tick is the heap polling period. Default 1s.
	Tick time.Duration
	// Workers consuming the task channel; sized to the browser pool.
	// Default 10.
	Workers int
	// QueueSize buffers dispatched tasks. Default 2×Workers.
	QueueSize int
	// DegradedThreshold is the fail count at which backoff starts.
	// Default 5.
	DegradedThreshold int
	// BackoffCap bounds the backoff multiplier. Default 32.
	BackoffCap int
	// JitterMax spreads fresh targets over [0, JitterMax). Zero disables
	// jitter; the daemon runs with 60s.
	JitterMax time.Duration
	// RequeueDelay re-arms in-flight collisions and requeued tasks.
	// Default 5s.
	RequeueDelay time.Duration
	// RefreshCooldown is the per-target manual refresh budget. Default 5m.
	RefreshCooldown time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 2 * c.Workers
	}
	if c.DegradedThreshold <= 0 {
		c.DegradedThreshold = 5
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 32
	}
	if c.JitterMax < 0 {
		c.JitterMax = 0
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = 5 * time.Second
	}
	if c.RefreshCooldown <= 0 {
		c.RefreshCooldown = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type intentKind int

const (
	intentAdd intentKind = iota
	intentRemove
	intentCompleted
)

type intent struct {
	kind     intentKind
	targetID string
	outcome  Outcome
}

// Stats is a point-in-time view for the health endpoint.
type Stats struct {
	Scheduled int `json:"scheduled"`
	InFlight  int `json:"in_flight"`
	Queued    int `json:"queued"`
}

// Scheduler dispatches due targets to a worker pool. One scrape per target
// runs at a time; collisions are re-armed, never stacked.
type Scheduler struct {
	cfg     Config
	lookup  LookupFunc
	list    ListFunc
	process ProcessFunc
	logger  *slog.Logger

	intents chan intent
	tasks   chan Task

	mu       sync.Mutex
	inflight map[string]struct{}
	refresh  map[string]*rate.Limiter

	scheduled atomic.Int64
	wg        sync.WaitGroup
}

// New builds a Scheduler. Run must be started for anything to happen.
func New(lookup LookupFunc, list ListFunc, process ProcessFunc, cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg:      cfg,
		lookup:   lookup,
		list:     list,
		process:  process,
		logger:   cfg.Logger.With("component", "scheduler"),
		intents:  make(chan intent, 1024),
		tasks:    make(chan Task, cfg.QueueSize),
		inflight: make(map[string]struct{}),
		refresh:  make(map[string]*rate.Limiter),
	}
}

// Run seeds the heap from the store, starts the workers, and loops on the
// tick. It blocks until ctx is cancelled and all workers have drained.
func (s *Scheduler) Run(ctx context.Context) {
	a := newAgenda()
	s.seed(ctx, a)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler: stopped")
			return
		case in := <-s.intents:
			s.handleIntent(ctx, a, in)
		case <-ticker.C:
			s.dispatchDue(ctx, a)
		}
		s.scheduled.Store(int64(a.size()))
	}
}

// Add schedules a target for its first check, jittered to avoid thundering
// herds.
func (s *Scheduler) Add(targetID string) {
	s.post(intent{kind: intentAdd, targetID: targetID})
}

// Remove drops a target's scheduled entry. An in-flight scrape for it is
// not interrupted; its persistence no-ops once the row is gone.
func (s *Scheduler) Remove(targetID string) {
	s.post(intent{kind: intentRemove, targetID: targetID})
}

// RefreshNow dispatches a manual scrape immediately, bypassing the heap.
// It fails fast while the target is already being scraped or inside the
// refresh cooldown.
func (s *Scheduler) RefreshNow(targetID string) error {
	s.mu.Lock()
	if _, busy := s.inflight[targetID]; busy {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	lim, ok := s.refresh[targetID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.cfg.RefreshCooldown), 1)
		s.refresh[targetID] = lim
	}
	res := lim.Reserve()
	if !res.OK() || res.Delay() > 0 {
		if res.OK() {
			res.Cancel()
		}
		s.mu.Unlock()
		return ErrRefreshLimited
	}
	s.inflight[targetID] = struct{}{}
	s.mu.Unlock()

	select {
	case s.tasks <- Task{TargetID: targetID, Manual: true}:
		return nil
	default:
		s.clearInflight(targetID)
		res.Cancel()
		return ErrQueueFull
	}
}

// Stats reports occupancy for the health endpoint.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	inflight := len(s.inflight)
	s.mu.Unlock()
	return Stats{
		Scheduled: int(s.scheduled.Load()),
		InFlight:  inflight,
		Queued:    len(s.tasks),
	}
}

func (s *Scheduler) post(in intent) {
	select {
	case s.intents <- in:
	default:
		// The intent buffer is generous; dropping here only delays a
		// reschedule until the next completion or tick touches the target.
		s.logger.Warn("scheduler: intent buffer full", "target_id", in.targetID, "kind", int(in.kind))
	}
}

func (s *Scheduler) seed(ctx context.Context, a *agenda) {
	views, err := s.list(ctx)
	if err != nil {
		s.logger.Error("scheduler: seed", "error", err)
		return
	}
	now := time.Now()
	for _, v := range views {
		a.arm(v.ID, now.Add(s.jitter()))
	}
	s.scheduled.Store(int64(a.size()))
	s.logger.Info("scheduler: seeded", "targets", len(views))
}

func (s *Scheduler) handleIntent(ctx context.Context, a *agenda, in intent) {
	switch in.kind {
	case intentAdd:
		a.arm(in.targetID, time.Now().Add(s.jitter()))
	case intentRemove:
		a.drop(in.targetID)
	case intentCompleted:
		s.rearm(ctx, a, in)
	}
}

// rearm schedules the next check after a completed scrape. The view is
// re-read so the backoff sees the fail count the scrape just persisted.
func (s *Scheduler) rearm(ctx context.Context, a *agenda, in intent) {
	now := time.Now()
	if in.outcome == OutcomeRequeue {
		a.arm(in.targetID, now.Add(s.cfg.RequeueDelay))
		return
	}
	view, err := s.lookup(ctx, in.targetID)
	if err != nil {
		s.logger.Warn("scheduler: rearm lookup", "target_id", in.targetID, "error", err)
		a.arm(in.targetID, now.Add(s.cfg.RequeueDelay))
		return
	}
	if view == nil || !view.Active {
		return
	}
	a.arm(in.targetID, now.Add(s.nextDelay(view)))
}

// dispatchDue pops everything due and hands it to the workers. Targets
// already in flight or not accepted by the queue are re-armed shortly.
func (s *Scheduler) dispatchDue(ctx context.Context, a *agenda) {
	now := time.Now()
	for {
		it := a.popDue(now)
		if it == nil {
			return
		}

		view, err := s.lookup(ctx, it.targetID)
		if err != nil {
			s.logger.Warn("scheduler: dispatch lookup", "target_id", it.targetID, "error", err)
			a.arm(it.targetID, now.Add(s.cfg.RequeueDelay))
			continue
		}
		if view == nil || !view.Active {
			// Lazy cancellation: deleted or paused since arming.
			continue
		}
		if !s.markInflight(it.targetID) {
			a.arm(it.targetID, now.Add(s.cfg.RequeueDelay))
			continue
		}

		select {
		case s.tasks <- Task{TargetID: it.targetID}:
		default:
			s.clearInflight(it.targetID)
			a.arm(it.targetID, now.Add(s.cfg.RequeueDelay))
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.tasks:
			outcome := s.process(ctx, task)
			s.clearInflight(task.TargetID)
			select {
			case s.intents <- intent{kind: intentCompleted, targetID: task.TargetID, outcome: outcome}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// nextDelay is the regular interval, stretched by the degraded backoff
// once the fail count crosses the threshold: interval × min(2^(fail−K+1), cap).
func (s *Scheduler) nextDelay(view *TargetView) time.Duration {
	d := view.Interval
	if view.FailCount >= s.cfg.DegradedThreshold {
		exp := view.FailCount - s.cfg.DegradedThreshold + 1
		if exp > 30 {
			exp = 30
		}
		mult := 1 << exp
		if mult > s.cfg.BackoffCap {
			mult = s.cfg.BackoffCap
		}
		d *= time.Duration(mult)
	}
	return d
}

func (s *Scheduler) jitter() time.Duration {
	if s.cfg.JitterMax <= 0 {
		return 0
	}
	return rand.N(s.cfg.JitterMax)
}

// markInflight claims the single-flight slot; false when already claimed.
func (s *Scheduler) markInflight(targetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[targetID]; busy {
		return false
	}
	s.inflight[targetID] = struct{}{}
	return true
}

func (s *Scheduler) clearInflight(targetID string) {
	s.mu.Lock()
	delete(s.inflight, targetID)
	s.mu.Unlock()
}
