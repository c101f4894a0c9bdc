package pipeline

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/vigil/internal/extract"
	"github.com/hazyhaar/vigil/internal/feed"
)

// SummaryJob asks for a one-sentence summary of an already-inserted event.
type SummaryJob struct {
	EventID  string
	TargetID string
	// Owner is the principal charged against the summary budget.
	Owner       string
	Prior       extract.StateMap
	Current     extract.StateMap
	Description string
}

// Summarizer produces the summary text. *ai.Client satisfies this.
type Summarizer interface {
	SummarizeChange(ctx context.Context, principal string, prior, current extract.StateMap, description string) (string, error)
}

// SummaryStore is the single write a summary needs.
type SummaryStore interface {
	SetEventSummary(ctx context.Context, eventID, summary string) error
}

// SummaryWorker backfills AI summaries onto event rows. Summaries are best
// effort: any failure leaves the event with its key-change description and
// is never retried.
type SummaryWorker struct {
	store  SummaryStore
	ai     Summarizer
	feed   *feed.Cache
	jobs   <-chan SummaryJob
	logger *slog.Logger
}

// NewSummaryWorker builds a worker over the shared job channel. Run may be
// invoked from several goroutines to widen the consumer pool.
func NewSummaryWorker(st SummaryStore, ai Summarizer, feedCache *feed.Cache, jobs <-chan SummaryJob, logger *slog.Logger) *SummaryWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryWorker{
		store:  st,
		ai:     ai,
		feed:   feedCache,
		jobs:   jobs,
		logger: logger.With("component", "summary"),
	}
}

// Run consumes jobs until ctx ends or the channel closes.
func (w *SummaryWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			w.handle(ctx, job)
		}
	}
}

func (w *SummaryWorker) handle(ctx context.Context, job SummaryJob) {
	summary, err := w.ai.SummarizeChange(ctx, job.Owner, job.Prior, job.Current, job.Description)
	if err != nil {
		w.logger.Debug("summary: unavailable", "event", job.EventID, "error", err)
		return
	}
	if err := w.store.SetEventSummary(ctx, job.EventID, summary); err != nil {
		w.logger.Warn("summary: persist failed", "event", job.EventID, "error", err)
		return
	}
	// Re-render the feed so the item description picks up the summary.
	if w.feed != nil {
		w.feed.Bump(job.TargetID)
	}
	w.logger.Debug("summary: written", "event", job.EventID)
}
