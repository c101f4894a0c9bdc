// Package config handles environment-driven configuration for the vigil daemon.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the daemon. Values come from VIGIL_*
// environment variables, optionally overlaid by a YAML file, then by flags.
type Config struct {
	// Storage
	DBPath    string `yaml:"db_path"`
	ObsDBPath string `yaml:"obs_db_path"`

	// HTTP
	ListenAddr    string `yaml:"listen_addr"`
	PublicBaseURL string `yaml:"public_base_url"`

	// Browser pool
	BrowserPoolSize   int           `yaml:"browser_pool_size"`
	BrowserRemoteURL  string        `yaml:"browser_remote_url"`
	BrowserNoSandbox  bool          `yaml:"browser_no_sandbox"`
	LeaseTimeout      time.Duration `yaml:"lease_timeout"`
	PageLoadTimeout   time.Duration `yaml:"page_load_timeout"`
	NetworkIdleWindow time.Duration `yaml:"network_idle_window"`
	MaxPageBytes      int           `yaml:"max_page_bytes"`

	// Scheduling
	ScrapeTimeout     time.Duration `yaml:"scrape_timeout"`
	SchedulerTick     time.Duration `yaml:"scheduler_tick"`
	DegradedThreshold int           `yaml:"degraded_threshold"`
	BackoffCap        int           `yaml:"backoff_cap"`
	JitterMax         time.Duration `yaml:"jitter_max"`
	AlertWindow       time.Duration `yaml:"alert_window"`
	DedupWindow       time.Duration `yaml:"dedup_window"`
	RefreshCooldown   time.Duration `yaml:"refresh_cooldown"`
	SummaryQueueSize  int           `yaml:"summary_queue_size"`
	SummaryWorkers    int           `yaml:"summary_workers"`

	// AI collaborator (empty APIKey disables AI, fallbacks apply)
	AIBaseURL          string        `yaml:"ai_base_url"`
	AIAPIKey           string        `yaml:"ai_api_key"`
	AIModel            string        `yaml:"ai_model"`
	AISynthesisTimeout time.Duration `yaml:"ai_synthesis_timeout"`
	AISummaryTimeout   time.Duration `yaml:"ai_summary_timeout"`
	AIJudgeTimeout     time.Duration `yaml:"ai_judge_timeout"`
	AISynthesisPerMin  int           `yaml:"ai_synthesis_per_min"`
	AISummariesPerMin  int           `yaml:"ai_summaries_per_min"`

	// Feeds
	FeedCacheCapacity int `yaml:"feed_cache_capacity"`
	FeedItemLimit     int `yaml:"feed_item_limit"`

	// Janitor
	JanitorSchedule    string `yaml:"janitor_schedule"`
	EventRetentionDays int    `yaml:"event_retention_days"`
	ObsRetentionDays   int    `yaml:"obs_retention_days"`
}

// FromEnv reads VIGIL_* environment variables into a Config, applying
// defaults for anything unset. Parse problems are collected and returned
// as one error.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.DBPath = envStr("VIGIL_DB_PATH", "/var/lib/vigil/vigil.db")
	cfg.ObsDBPath = envStr("VIGIL_OBS_DB_PATH", "/var/lib/vigil/observability.db")
	cfg.ListenAddr = strings.TrimSpace(envStr("VIGIL_LISTEN_ADDR", ":8472"))
	cfg.PublicBaseURL = strings.TrimRight(envStr("VIGIL_PUBLIC_BASE_URL", "http://localhost:8472"), "/")

	cfg.BrowserPoolSize = envInt("VIGIL_BROWSER_POOL_SIZE", 10, &errs)
	cfg.BrowserRemoteURL = envStr("VIGIL_BROWSER_REMOTE_URL", "")
	cfg.BrowserNoSandbox = envBool("VIGIL_BROWSER_NO_SANDBOX", false, &errs)
	cfg.LeaseTimeout = envDuration("VIGIL_LEASE_TIMEOUT", 10*time.Second, &errs)
	cfg.PageLoadTimeout = envDuration("VIGIL_PAGE_LOAD_TIMEOUT", 30*time.Second, &errs)
	cfg.NetworkIdleWindow = envDuration("VIGIL_NETWORK_IDLE_WINDOW", 500*time.Millisecond, &errs)
	cfg.MaxPageBytes = envInt("VIGIL_MAX_PAGE_BYTES", 10<<20, &errs)

	cfg.ScrapeTimeout = envDuration("VIGIL_SCRAPE_TIMEOUT", 45*time.Second, &errs)
	cfg.SchedulerTick = envDuration("VIGIL_SCHEDULER_TICK", time.Second, &errs)
	cfg.DegradedThreshold = envInt("VIGIL_DEGRADED_THRESHOLD", 5, &errs)
	cfg.BackoffCap = envInt("VIGIL_BACKOFF_CAP", 32, &errs)
	cfg.JitterMax = envDuration("VIGIL_JITTER_MAX", time.Minute, &errs)
	cfg.AlertWindow = envDuration("VIGIL_ALERT_WINDOW", time.Minute, &errs)
	cfg.DedupWindow = envDuration("VIGIL_DEDUP_WINDOW", time.Minute, &errs)
	cfg.RefreshCooldown = envDuration("VIGIL_REFRESH_COOLDOWN", 5*time.Minute, &errs)
	cfg.SummaryQueueSize = envInt("VIGIL_SUMMARY_QUEUE_SIZE", 256, &errs)
	cfg.SummaryWorkers = envInt("VIGIL_SUMMARY_WORKERS", 2, &errs)

	cfg.AIBaseURL = strings.TrimRight(envStr("VIGIL_AI_BASE_URL", "https://api.openai.com/v1"), "/")
	cfg.AIAPIKey = envStr("VIGIL_AI_API_KEY", "")
	cfg.AIModel = envStr("VIGIL_AI_MODEL", "gpt-4o-mini")
	cfg.AISynthesisTimeout = envDuration("VIGIL_AI_SYNTHESIS_TIMEOUT", 20*time.Second, &errs)
	cfg.AISummaryTimeout = envDuration("VIGIL_AI_SUMMARY_TIMEOUT", 15*time.Second, &errs)
	cfg.AIJudgeTimeout = envDuration("VIGIL_AI_JUDGE_TIMEOUT", 10*time.Second, &errs)
	cfg.AISynthesisPerMin = envInt("VIGIL_AI_SYNTHESIS_PER_MIN", 20, &errs)
	cfg.AISummariesPerMin = envInt("VIGIL_AI_SUMMARIES_PER_MIN", 60, &errs)

	cfg.FeedCacheCapacity = envInt("VIGIL_FEED_CACHE_CAPACITY", 512, &errs)
	cfg.FeedItemLimit = envInt("VIGIL_FEED_ITEM_LIMIT", 50, &errs)

	cfg.JanitorSchedule = envStr("VIGIL_JANITOR_SCHEDULE", "17 3 * * *")
	cfg.EventRetentionDays = envInt("VIGIL_EVENT_RETENTION_DAYS", 0, &errs)
	cfg.ObsRetentionDays = envInt("VIGIL_OBS_RETENTION_DAYS", 14, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// ApplyFile overlays a YAML file onto the Config. Fields absent from the
// file keep their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks semantic constraints across the whole Config.
func (c *Config) Validate() error {
	var errs []string

	if c.DBPath == "" {
		errs = append(errs, "db_path must not be empty")
	}
	if c.ListenAddr == "" {
		errs = append(errs, "listen_addr must not be empty")
	}
	if _, err := url.Parse(c.PublicBaseURL); err != nil || c.PublicBaseURL == "" {
		errs = append(errs, fmt.Sprintf("public_base_url: invalid URL %q", c.PublicBaseURL))
	}

	validateRange("browser_pool_size", c.BrowserPoolSize, 1, 64, &errs)
	validatePositive("max_page_bytes", c.MaxPageBytes, &errs)
	validatePositiveDur("lease_timeout", c.LeaseTimeout, &errs)
	validatePositiveDur("page_load_timeout", c.PageLoadTimeout, &errs)
	validatePositiveDur("network_idle_window", c.NetworkIdleWindow, &errs)
	validatePositiveDur("scrape_timeout", c.ScrapeTimeout, &errs)
	validatePositiveDur("scheduler_tick", c.SchedulerTick, &errs)
	if c.ScrapeTimeout <= c.PageLoadTimeout {
		errs = append(errs, "scrape_timeout must exceed page_load_timeout")
	}

	validateRange("degraded_threshold", c.DegradedThreshold, 1, 100, &errs)
	validateRange("backoff_cap", c.BackoffCap, 1, 1024, &errs)
	validatePositiveDur("alert_window", c.AlertWindow, &errs)
	validatePositiveDur("dedup_window", c.DedupWindow, &errs)
	validatePositiveDur("refresh_cooldown", c.RefreshCooldown, &errs)
	validatePositive("summary_queue_size", c.SummaryQueueSize, &errs)
	validatePositive("summary_workers", c.SummaryWorkers, &errs)

	validatePositive("ai_synthesis_per_min", c.AISynthesisPerMin, &errs)
	validatePositive("ai_summaries_per_min", c.AISummariesPerMin, &errs)

	validatePositive("feed_cache_capacity", c.FeedCacheCapacity, &errs)
	validateRange("feed_item_limit", c.FeedItemLimit, 1, 500, &errs)

	if _, err := cron.ParseStandard(c.JanitorSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("janitor_schedule: invalid cron expression %q: %v", c.JanitorSchedule, err))
	}
	if c.EventRetentionDays < 0 {
		errs = append(errs, "event_retention_days must not be negative")
	}
	if c.ObsRetentionDays < 0 {
		errs = append(errs, "obs_retention_days must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// AIEnabled reports whether an AI endpoint is configured.
func (c *Config) AIEnabled() bool {
	return c.AIAPIKey != ""
}

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validatePositiveDur(name string, value time.Duration, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %s", name, value))
	}
}

func validateRange(name string, value, lo, hi int, errs *[]string) {
	if value < lo || value > hi {
		*errs = append(*errs, fmt.Sprintf("%s: must be %d-%d, got %d", name, lo, hi, value))
	}
}
