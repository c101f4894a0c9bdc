package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/vigil"
	"github.com/hazyhaar/vigil/internal/scheduler"
)

type stubService struct {
	health     *vigil.Health
	healthErr  error
	publicDoc  string
	publicErr  error
	privateDoc string
	privateErr error
	refreshErr error

	gotSlug      string
	gotPrincipal string
	gotTarget    string
}

func (s *stubService) Health(ctx context.Context) (*vigil.Health, error) {
	return s.health, s.healthErr
}

func (s *stubService) PublicFeed(ctx context.Context, slug string) (string, error) {
	s.gotSlug = slug
	return s.publicDoc, s.publicErr
}

func (s *stubService) PrivateFeed(ctx context.Context, principal, targetID string) (string, error) {
	s.gotPrincipal, s.gotTarget = principal, targetID
	return s.privateDoc, s.privateErr
}

func (s *stubService) Refresh(ctx context.Context, principal, targetID string) error {
	s.gotPrincipal, s.gotTarget = principal, targetID
	return s.refreshErr
}

func serve(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	// WHAT: /healthz returns the health report as JSON, 503 when the store
	// is unreachable.
	svc := &stubService{health: &vigil.Health{Status: "ok", Targets: 2}}
	h := New(svc, Config{})

	rec := serve(h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body: %s", rec.Body.String())
	}

	svc.healthErr = errors.New("store unreachable")
	rec = serve(h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status: got %d, want 503", rec.Code)
	}
}

func TestPublicFeedRoute(t *testing.T) {
	// WHAT: The public feed route needs no principal, serves RSS with the
	// right content type, and 404s unknown slugs.
	svc := &stubService{publicDoc: `<?xml version="1.0"?><rss version="2.0"></rss>`}
	h := New(svc, Config{})

	rec := serve(h, http.MethodGet, "/feeds/public/ticket-watch", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Errorf("content type: %q", ct)
	}
	if svc.gotSlug != "ticket-watch" {
		t.Errorf("slug: got %q", svc.gotSlug)
	}
	if !strings.Contains(rec.Body.String(), "<rss") {
		t.Errorf("body: %s", rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}

	svc.publicErr = vigil.ErrNotFound
	rec = serve(h, http.MethodGet, "/feeds/public/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown slug: got %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("error content type: %q", ct)
	}
}

func TestHeadRequestsServeFeeds(t *testing.T) {
	// WHAT: Feed readers probing with HEAD get 200, not 405.
	svc := &stubService{publicDoc: "<rss/>"}
	h := New(svc, Config{})

	rec := serve(h, http.MethodHead, "/feeds/public/ticket-watch", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("HEAD status: got %d, want 200", rec.Code)
	}
}

func TestPrivateFeedRequiresPrincipal(t *testing.T) {
	// WHAT: Private routes 401 without a principal and forward the header
	// identity to the service.
	// WHY: Authentication belongs to the reverse proxy; this layer only
	// refuses to guess.
	svc := &stubService{privateDoc: "<rss/>"}
	h := New(svc, Config{})

	rec := serve(h, http.MethodGet, "/feeds/private/tgt_1", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: got %d, want 401", rec.Code)
	}
	if svc.gotPrincipal != "" {
		t.Error("service called without a principal")
	}

	rec = serve(h, http.MethodGet, "/feeds/private/tgt_1", map[string]string{"X-Auth-Principal": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("owner: got %d, want 200", rec.Code)
	}
	if svc.gotPrincipal != "alice" || svc.gotTarget != "tgt_1" {
		t.Errorf("forwarded identity: principal %q target %q", svc.gotPrincipal, svc.gotTarget)
	}

	svc.privateErr = vigil.ErrUnauthorized
	rec = serve(h, http.MethodGet, "/feeds/private/tgt_1", map[string]string{"X-Auth-Principal": "bob"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-owner: got %d, want 403", rec.Code)
	}
}

func TestCustomPrincipalFunc(t *testing.T) {
	// WHAT: Deployments with another identity source inject their own
	// extraction function.
	svc := &stubService{privateDoc: "<rss/>"}
	h := New(svc, Config{Principal: func(r *http.Request) string { return "carol" }})

	rec := serve(h, http.MethodGet, "/feeds/private/tgt_1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if svc.gotPrincipal != "carol" {
		t.Errorf("principal: got %q", svc.gotPrincipal)
	}
}

func TestRefreshStatusMapping(t *testing.T) {
	// WHAT: Manual refresh translates each control-plane sentinel to its
	// HTTP status; success is 202 because the scrape runs asynchronously.
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"queued", nil, http.StatusAccepted},
		{"cooldown", scheduler.ErrRefreshLimited, http.StatusTooManyRequests},
		{"already running", scheduler.ErrAlreadyRunning, http.StatusConflict},
		{"queue full", scheduler.ErrQueueFull, http.StatusServiceUnavailable},
		{"unknown target", vigil.ErrNotFound, http.StatusNotFound},
		{"not the owner", vigil.ErrUnauthorized, http.StatusForbidden},
		{"paused target", vigil.ErrInvalidInput, http.StatusBadRequest},
		{"storage failure", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{refreshErr: tc.err}
			h := New(svc, Config{})
			rec := serve(h, http.MethodPost, "/api/targets/tgt_1/refresh", map[string]string{"X-Auth-Principal": "alice"})
			if rec.Code != tc.want {
				t.Errorf("got %d, want %d", rec.Code, tc.want)
			}
			if svc.gotTarget != "tgt_1" {
				t.Errorf("target: got %q", svc.gotTarget)
			}
		})
	}
}

func TestInternalErrorBodyIsOpaque(t *testing.T) {
	// WHAT: An unclassified failure answers with a generic body.
	// WHY: Driver and filesystem detail in err.Error() is operator
	// information, not client information.
	svc := &stubService{refreshErr: errors.New("sqlite: disk I/O error on /var/lib/vigil/vigil.db")}
	h := New(svc, Config{})

	rec := serve(h, http.MethodPost, "/api/targets/tgt_1/refresh", map[string]string{"X-Auth-Principal": "alice"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "sqlite") || strings.Contains(body, "/var/lib") {
		t.Errorf("internal detail leaked: %s", body)
	}
	if !strings.Contains(body, "internal error") {
		t.Errorf("body: %s", body)
	}
}
