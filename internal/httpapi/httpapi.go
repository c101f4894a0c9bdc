// Package httpapi serves the vigil control plane over HTTP: feed endpoints
// for RSS readers, manual refresh, and health. Everything else stays on the
// Go API. The handler trusts a reverse proxy for authentication and only
// extracts the principal it forwarded.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/vigil"
	"github.com/hazyhaar/vigil/internal/scheduler"
)

// Service is the slice of the control plane the HTTP layer serves.
type Service interface {
	Health(ctx context.Context) (*vigil.Health, error)
	PublicFeed(ctx context.Context, slug string) (string, error)
	PrivateFeed(ctx context.Context, principal, targetID string) (string, error)
	Refresh(ctx context.Context, principal, targetID string) error
}

// PrincipalFunc extracts the authenticated principal from a request. An
// empty return means unauthenticated.
type PrincipalFunc func(*http.Request) string

// HeaderPrincipal reads the principal from a trusted reverse-proxy header.
func HeaderPrincipal(header string) PrincipalFunc {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(header))
	}
}

// Config tunes the HTTP layer.
type Config struct {
	// Principal extracts the caller identity. Default: the
	// X-Auth-Principal header set by the deployment's auth proxy.
	Principal PrincipalFunc

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Principal == nil {
		c.Principal = HeaderPrincipal("X-Auth-Principal")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type api struct {
	svc       Service
	principal PrincipalFunc
	logger    *slog.Logger
}

// New builds the vigil HTTP handler.
func New(svc Service, cfg Config) http.Handler {
	cfg.defaults()
	a := &api{
		svc:       svc,
		principal: cfg.Principal,
		logger:    cfg.Logger.With("component", "httpapi"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(headToGet)
	r.Use(secureHeaders)
	r.Use(requestLog(a.logger))

	r.Get("/healthz", a.health)
	r.Get("/feeds/public/{slug}", a.publicFeed)

	r.Group(func(r chi.Router) {
		r.Use(a.requirePrincipal)
		r.Get("/feeds/private/{targetID}", a.privateFeed)
		r.Post("/api/targets/{targetID}/refresh", a.refresh)
	})

	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	h, err := a.svc.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (a *api) publicFeed(w http.ResponseWriter, r *http.Request) {
	doc, err := a.svc.PublicFeed(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeRSS(w, doc)
}

func (a *api) privateFeed(w http.ResponseWriter, r *http.Request) {
	doc, err := a.svc.PrivateFeed(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "targetID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeRSS(w, doc)
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	if err := a.svc.Refresh(r.Context(), principalFrom(r.Context()), targetID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "target": targetID})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeRSS(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(doc))
}

// writeServiceError maps control-plane sentinels onto HTTP statuses.
// Unclassified failures are logged and answered with an opaque body; driver
// and filesystem detail stays out of responses.
func (a *api) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, vigil.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, vigil.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, vigil.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, scheduler.ErrRefreshLimited):
		writeError(w, http.StatusTooManyRequests, err)
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, scheduler.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		a.logger.Error("httpapi: internal error",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
