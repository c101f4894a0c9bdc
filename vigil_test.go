package vigil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/vigil/internal/ai"
	"github.com/hazyhaar/vigil/internal/browser"
	"github.com/hazyhaar/vigil/internal/config"
	"github.com/hazyhaar/vigil/internal/dbopen"
	"github.com/hazyhaar/vigil/internal/extract"
	"github.com/hazyhaar/vigil/internal/idgen"
	"github.com/hazyhaar/vigil/internal/store"
)

// stubLoader serves a swappable HTML document to every LoadPage call.
type stubLoader struct {
	mu   sync.Mutex
	html string
	err  error
}

func (l *stubLoader) LoadPage(ctx context.Context, url string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	return l.html, nil
}

func (l *stubLoader) Close() error { return nil }

func (l *stubLoader) set(html string) {
	l.mu.Lock()
	l.html = html
	l.mu.Unlock()
}

func stubPool(l *stubLoader) *browser.Pool {
	return browser.NewPool(browser.Config{PoolSize: 1, LeaseTimeout: 50 * time.Millisecond},
		func(ctx context.Context) (browser.PageLoader, error) { return l, nil })
}

func testConfig() *config.Config {
	return &config.Config{
		PublicBaseURL:     "https://vigil.example",
		BrowserPoolSize:   2,
		LeaseTimeout:      50 * time.Millisecond,
		ScrapeTimeout:     2 * time.Second,
		SchedulerTick:     10 * time.Millisecond,
		DegradedThreshold: 5,
		BackoffCap:        32,
		// Sub-millisecond window rounds to zero, disabling alert-window
		// suppression for back-to-back test scrapes.
		AlertWindow:       time.Nanosecond,
		DedupWindow:       time.Hour,
		RefreshCooldown:   5 * time.Minute,
		SummaryQueueSize:  8,
		SummaryWorkers:    1,
		FeedCacheCapacity: 8,
		FeedItemLimit:     50,
	}
}

// newTestService builds a Service on an in-memory store with a stub browser
// and the SSRF guard disabled; tests that exercise the guard re-enable it
// via WithURLValidator.
func newTestService(t *testing.T, loader *stubLoader, opts ...ServiceOption) *Service {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := store.ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	base := []ServiceOption{
		WithStore(store.New(db)),
		WithURLValidator(func(string) error { return nil }),
	}
	svc, err := New(testConfig(), stubPool(loader), nil, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func watchedConfig() *extract.Config {
	return &extract.Config{Keys: map[string]extract.KeySpec{
		"status": {Selector: "#status", Lowercase: true},
	}}
}

func createTarget(t *testing.T, svc *Service, owner string, mut func(*NewTarget)) *store.Target {
	t.Helper()
	nt := NewTarget{
		URL:         "https://shop.example/item/42",
		Description: "Ticket availability",
		Interval:    store.Interval15m,
		AlertPolicy: store.PolicyEveryChange,
		Config:      watchedConfig(),
	}
	if mut != nil {
		mut(&nt)
	}
	tgt, err := svc.CreateTarget(context.Background(), owner, nt)
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	return tgt
}

func insertEvent(t *testing.T, svc *Service, targetID, id, desc string) {
	t.Helper()
	ev := &store.Event{
		ID:          id,
		TargetID:    targetID,
		Title:       "Ticket availability",
		Description: desc,
		Permalink:   "https://shop.example/item/42",
		Fingerprint: id + "-fp",
	}
	if _, err := svc.store.InsertEvent(context.Background(), ev, time.Nanosecond); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	svc.feedCache.Bump(targetID)
}

func queueGen(ids ...string) idgen.Generator {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// fakeAIServer speaks just enough of the chat completions protocol for the
// synthesis path.
func fakeAIServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"provider sad"}}`)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testAIClient(srv *httptest.Server) *ai.Client {
	return ai.NewClient(ai.Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"})
}

func TestNewRequiresConfigAndPool(t *testing.T) {
	// WHAT: New rejects nil config and nil pool instead of panicking later.
	if _, err := New(nil, stubPool(&stubLoader{}), nil); err == nil {
		t.Error("nil config should error")
	}
	if _, err := New(testConfig(), nil, nil); err == nil {
		t.Error("nil pool should error")
	}
}

func TestHealthReportsDegradedTargets(t *testing.T) {
	// WHAT: Health flips to degraded once any active target crosses the
	// consecutive-error threshold.
	// WHY: Degraded targets keep scheduling; the operator learns from
	// /healthz, not from silence.
	svc := newTestService(t, &stubLoader{})
	ctx := context.Background()

	h, err := svc.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.Status != "ok" || h.Targets != 0 || h.Degraded != 0 {
		t.Fatalf("empty health: %+v", h)
	}
	if h.Browser.Capacity != 1 {
		t.Errorf("browser capacity: got %d, want 1", h.Browser.Capacity)
	}

	if err := svc.store.InsertTarget(ctx, &store.Target{
		ID: "tgt-bad", Owner: "alice", URL: "https://down.example",
		Active: true, FailCount: 6,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	h, err = svc.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.Status != "degraded" || h.Degraded != 1 || h.Targets != 1 {
		t.Errorf("degraded health: %+v", h)
	}
}

func TestServiceEndToEndScrapeAndRefresh(t *testing.T) {
	// WHAT: A created target is scheduled, baselines on its first scrape,
	// and a manual refresh after the page changes produces exactly one
	// event that shows up in the private feed.
	// WHY: This is the whole point of the daemon; the pieces must work
	// wired together, not just in isolation.
	loader := &stubLoader{html: `<html><body><div id="status">Closed</div></body></html>`}
	svc := newTestService(t, loader)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc.Start(ctx)
	tgt := createTarget(t, svc, "alice", nil)

	waitFor(t, 2*time.Second, func() bool {
		cur, err := svc.store.GetTarget(context.Background(), tgt.ID)
		return err == nil && cur != nil && cur.HasBaseline()
	}, "target never baselined")

	events, _, err := svc.store.ListEvents(context.Background(), tgt.ID, nil, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("baseline must not emit events, got %d", len(events))
	}

	loader.set(`<html><body><div id="status">Open</div></body></html>`)
	waitFor(t, 2*time.Second, func() bool {
		return svc.Refresh(context.Background(), "alice", tgt.ID) == nil
	}, "manual refresh never accepted")

	waitFor(t, 2*time.Second, func() bool {
		events, _, _ = svc.store.ListEvents(context.Background(), tgt.ID, nil, 10)
		return len(events) == 1
	}, "change event never appeared")

	ev := events[0]
	if ev.Description != "status: closed → open" {
		t.Errorf("event description: got %q", ev.Description)
	}
	if ev.Permalink != tgt.URL {
		t.Errorf("event permalink: got %q, want %q", ev.Permalink, tgt.URL)
	}

	xml, err := svc.PrivateFeed(context.Background(), "alice", tgt.ID)
	if err != nil {
		t.Fatalf("private feed: %v", err)
	}
	if !strings.Contains(xml, "status: closed → open") {
		t.Errorf("feed missing the change item:\n%s", xml)
	}
}
