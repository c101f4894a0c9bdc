package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	// WHAT: With no VIGIL_* variables set, every knob gets its default and
	// the result validates.
	// WHY: A bare `vigil -db x.db` deployment must work out of the box.
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.BrowserPoolSize != 10 {
		t.Errorf("pool size: got %d, want 10", cfg.BrowserPoolSize)
	}
	if cfg.ScrapeTimeout != 45*time.Second {
		t.Errorf("scrape timeout: got %s, want 45s", cfg.ScrapeTimeout)
	}
	if cfg.DegradedThreshold != 5 {
		t.Errorf("degraded threshold: got %d, want 5", cfg.DegradedThreshold)
	}
	if cfg.BackoffCap != 32 {
		t.Errorf("backoff cap: got %d, want 32", cfg.BackoffCap)
	}
	if cfg.AlertWindow != time.Minute || cfg.DedupWindow != time.Minute {
		t.Errorf("windows: got %s/%s, want 1m/1m", cfg.AlertWindow, cfg.DedupWindow)
	}
	if cfg.ListenAddr != ":8472" {
		t.Errorf("listen addr: got %q, want :8472", cfg.ListenAddr)
	}
	if cfg.AIEnabled() {
		t.Error("AI must be disabled without an API key")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	// WHAT: Environment variables override defaults, bad values error.
	t.Setenv("VIGIL_BROWSER_POOL_SIZE", "3")
	t.Setenv("VIGIL_SCRAPE_TIMEOUT", "90s")
	t.Setenv("VIGIL_AI_API_KEY", "sk-test")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.BrowserPoolSize != 3 {
		t.Errorf("pool size: got %d, want 3", cfg.BrowserPoolSize)
	}
	if cfg.ScrapeTimeout != 90*time.Second {
		t.Errorf("scrape timeout: got %s, want 90s", cfg.ScrapeTimeout)
	}
	if !cfg.AIEnabled() {
		t.Error("AI must be enabled with an API key")
	}

	t.Setenv("VIGIL_BROWSER_POOL_SIZE", "not-a-number")
	if _, err := FromEnv(); err == nil {
		t.Error("invalid integer must error")
	}
}

func TestValidateCatchesBadValues(t *testing.T) {
	// WHAT: Semantic validation rejects impossible combinations.
	// WHY: A scrape timeout below the page-load timeout can never succeed.
	base := func() *Config {
		cfg, err := FromEnv()
		if err != nil {
			t.Fatalf("FromEnv: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"pool too large", func(c *Config) { c.BrowserPoolSize = 1000 }, "browser_pool_size"},
		{"scrape below page load", func(c *Config) { c.ScrapeTimeout = 10 * time.Second }, "scrape_timeout"},
		{"zero alert window", func(c *Config) { c.AlertWindow = 0 }, "alert_window"},
		{"bad cron", func(c *Config) { c.JanitorSchedule = "not cron" }, "janitor_schedule"},
		{"negative retention", func(c *Config) { c.EventRetentionDays = -1 }, "event_retention_days"},
		{"empty db path", func(c *Config) { c.DBPath = "" }, "db_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyFile(t *testing.T) {
	// WHAT: A YAML file overlays only the fields it names.
	// WHY: Operators mix env defaults with a checked-in config file.
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	doc := "browser_pool_size: 4\nscrape_timeout: 2m\nai_model: local-llama\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if err := cfg.ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}

	if cfg.BrowserPoolSize != 4 {
		t.Errorf("pool size: got %d, want 4", cfg.BrowserPoolSize)
	}
	if cfg.ScrapeTimeout != 2*time.Minute {
		t.Errorf("scrape timeout: got %s, want 2m", cfg.ScrapeTimeout)
	}
	if cfg.AIModel != "local-llama" {
		t.Errorf("model: got %q, want local-llama", cfg.AIModel)
	}
	// Untouched field keeps its default.
	if cfg.FeedItemLimit != 50 {
		t.Errorf("feed item limit: got %d, want 50", cfg.FeedItemLimit)
	}

	if err := cfg.ApplyFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file must error")
	}
}
