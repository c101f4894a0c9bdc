// Command vigil is the page-watch daemon. It scrapes monitored pages on
// their schedules, turns meaningful differences into change events, and
// serves per-target RSS feeds over HTTP.
//
// Usage:
//
//	vigil                          # configured from VIGIL_* environment
//	vigil -config vigil.yaml       # overlay a YAML file
//	vigil -db ./vigil.db -addr :8080
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/vigil"
	"github.com/hazyhaar/vigil/internal/browser"
	"github.com/hazyhaar/vigil/internal/config"
	"github.com/hazyhaar/vigil/internal/httpapi"
	"github.com/hazyhaar/vigil/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to vigil.yaml config file")
	dbPath := flag.String("db", "", "override the target database path")
	addr := flag.String("addr", "", "override the HTTP listen address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "json", "log format: json or text")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, opts)
	if *logFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath, *addr); err != nil {
		logger.Error("vigil: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, addr string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if configPath != "" {
		if err := cfg.ApplyFile(configPath); err != nil {
			return err
		}
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	chrome, err := browser.LaunchChrome(browser.ChromeConfig{
		RemoteURL:         cfg.BrowserRemoteURL,
		NoSandbox:         cfg.BrowserNoSandbox,
		PageLoadTimeout:   cfg.PageLoadTimeout,
		NetworkIdleWindow: cfg.NetworkIdleWindow,
		MaxPageBytes:      cfg.MaxPageBytes,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer chrome.Close()

	pool := browser.NewPool(browser.Config{
		PoolSize:     cfg.BrowserPoolSize,
		LeaseTimeout: cfg.LeaseTimeout,
		Relaunch:     chrome.Relaunch,
		Logger:       logger,
	}, chrome.NewLoader)

	var svcOpts []vigil.ServiceOption
	var heartbeat *observability.HeartbeatWriter
	if cfg.ObsDBPath != "" {
		obsDB, err := observability.Open(cfg.ObsDBPath)
		if err != nil {
			return err
		}
		defer obsDB.Close()
		svcOpts = append(svcOpts, vigil.WithObservability(obsDB))
		heartbeat = observability.NewHeartbeatWriter(obsDB, "vigil", time.Minute)
	}

	svc, err := vigil.New(cfg, pool, logger, svcOpts...)
	if err != nil {
		return err
	}

	svc.Start(ctx)
	if heartbeat != nil {
		heartbeat.Start(ctx)
		defer heartbeat.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.New(svc, httpapi.Config{Logger: logger}),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("vigil: listening", "addr", cfg.ListenAddr, "public_base_url", cfg.PublicBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		svc.Close()
		return err
	case <-ctx.Done():
	}
	logger.Info("vigil: shutting down")

	// Drain HTTP before tearing the service down so in-flight feed reads
	// finish against a live store.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("vigil: http shutdown", "error", err)
	}
	if err := svc.Close(); err != nil {
		logger.Warn("vigil: close", "error", err)
	}
	logger.Info("vigil: stopped")
	return nil
}
