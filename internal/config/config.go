package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var categoryName = regexp.MustCompile(`^[a-z0-9]+$`)

// AppConfig holds application-level settings.
type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	Timezone string `mapstructure:"timezone"`
}

// OpenAIConfig configures the chat and speech endpoints. Any OpenAI-compatible
// gateway works through BaseURL.
type OpenAIConfig struct {
	APIKey   string   `mapstructure:"api_key"`
	BaseURL  string   `mapstructure:"base_url"`
	Model    string   `mapstructure:"model"`
	TTSModel string   `mapstructure:"tts_model"`
	Voices   []string `mapstructure:"voices"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig holds the postgres DSN. Empty disables persistence.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// FeedsConfig controls the RSS fetcher.
type FeedsConfig struct {
	RegistryFile      string `mapstructure:"registry_file"`
	IntradayHours     int    `mapstructure:"intraday_hours"`
	MaxItemsPerSource int    `mapstructure:"max_items_per_source"`
	RequestTimeout    string `mapstructure:"request_timeout"` // duration string, e.g., "10s"
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryBaseDelay    string `mapstructure:"retry_base_delay"`
	RetryMaxDelay     string `mapstructure:"retry_max_delay"`
	Concurrency       int    `mapstructure:"concurrency"`
	UserAgent         string `mapstructure:"user_agent"`
}

// SelectionConfig controls the ranking step.
type SelectionConfig struct {
	MaxArticlesPerCategory int               `mapstructure:"max_articles_per_category"`
	PrefilterLimit         int               `mapstructure:"prefilter_limit"`
	Rules                  map[string]string `mapstructure:"rules"` // category => relevance rule
}

// CacheConfig controls the newsletter and audio caches.
type CacheConfig struct {
	Dir             string `mapstructure:"dir"`
	TTL             string `mapstructure:"ttl"`
	AudioDir        string `mapstructure:"audio_dir"`
	AudioTTL        string `mapstructure:"audio_ttl"`
	CleanupInterval string `mapstructure:"cleanup_interval"`
}

// SchedulerConfig lists the hours (in app timezone) the pipeline runs at.
type SchedulerConfig struct {
	Enabled *bool `mapstructure:"enabled"`
	Hours   []int `mapstructure:"hours"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr            string `mapstructure:"addr"`
	AdminSecret     string `mapstructure:"admin_secret"`
	RefreshCooldown string `mapstructure:"refresh_cooldown"`
}

// PodcastConfig controls script and audio generation.
type PodcastConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	MaxLines  int `mapstructure:"max_lines"`
}

// NewsletterConfig controls markdown rendering of a digest.
type NewsletterConfig struct {
	OutputDir  string `mapstructure:"output_dir"`
	Title      string `mapstructure:"title"`
	Preface    string `mapstructure:"preface"`
	Postscript string `mapstructure:"postscript"`
}

// Config is the top-level configuration structure.
type Config struct {
	App               AppConfig        `mapstructure:"app"`
	OpenAI            OpenAIConfig     `mapstructure:"openai"`
	Redis             RedisConfig      `mapstructure:"redis"`
	Database          DatabaseConfig   `mapstructure:"database"`
	Feeds             FeedsConfig      `mapstructure:"feeds"`
	Selection         SelectionConfig  `mapstructure:"selection"`
	Cache             CacheConfig      `mapstructure:"cache"`
	Categories        []string         `mapstructure:"categories"`
	DefaultCategories []string         `mapstructure:"default_categories"`
	Scheduler         SchedulerConfig  `mapstructure:"scheduler"`
	Server            ServerConfig     `mapstructure:"server"`
	Podcast           PodcastConfig    `mapstructure:"podcast"`
	Newsletter        NewsletterConfig `mapstructure:"newsletter"`
}

var defaultRules = map[string]string{
	"us":     "U.S. markets, economy, Federal Reserve, earnings and policy with market impact. Exclude celebrity, sports and lifestyle stories.",
	"israel": "Israeli economy, Tel Aviv Stock Exchange, shekel, Bank of Israel and Israeli companies. Exclude items without an economic angle.",
	"ai":     "Artificial intelligence business, research releases, funding and regulation. Exclude generic gadget reviews.",
	"crypto": "Cryptocurrency markets, regulation, exchanges and on-chain events. Exclude promotional token launches.",
}

// FillDefaults applies default values if not provided.
func (c *Config) FillDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "UTC"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.TTSModel == "" {
		c.OpenAI.TTSModel = "tts-1"
	}
	if len(c.OpenAI.Voices) == 0 {
		c.OpenAI.Voices = []string{"alloy", "echo"}
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Feeds.RegistryFile == "" {
		c.Feeds.RegistryFile = "feeds.yaml"
	}
	if c.Feeds.IntradayHours == 0 {
		c.Feeds.IntradayHours = 24
	}
	if c.Feeds.MaxItemsPerSource == 0 {
		c.Feeds.MaxItemsPerSource = 5
	}
	if c.Feeds.RequestTimeout == "" {
		c.Feeds.RequestTimeout = "10s"
	}
	if c.Feeds.MaxRetries == 0 {
		c.Feeds.MaxRetries = 3
	}
	if c.Feeds.RetryBaseDelay == "" {
		c.Feeds.RetryBaseDelay = "1s"
	}
	if c.Feeds.RetryMaxDelay == "" {
		c.Feeds.RetryMaxDelay = "10s"
	}
	if c.Feeds.Concurrency == 0 {
		c.Feeds.Concurrency = 16
	}
	if c.Feeds.UserAgent == "" {
		c.Feeds.UserAgent = "newsdesk/1.0 (+rss)"
	}
	if c.Selection.MaxArticlesPerCategory == 0 {
		c.Selection.MaxArticlesPerCategory = 5
	}
	if c.Selection.PrefilterLimit == 0 {
		c.Selection.PrefilterLimit = 15
	}
	if c.Selection.Rules == nil {
		c.Selection.Rules = map[string]string{}
	}
	for k, v := range defaultRules {
		if _, ok := c.Selection.Rules[k]; !ok {
			c.Selection.Rules[k] = v
		}
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = "./cache/newsletters"
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = "60m"
	}
	if c.Cache.AudioDir == "" {
		c.Cache.AudioDir = "./cache/audio"
	}
	if c.Cache.AudioTTL == "" {
		c.Cache.AudioTTL = "24h"
	}
	if c.Cache.CleanupInterval == "" {
		c.Cache.CleanupInterval = "30m"
	}
	if len(c.Categories) == 0 {
		c.Categories = []string{"us", "israel", "ai", "crypto"}
	}
	for i, cat := range c.Categories {
		c.Categories[i] = strings.ToLower(strings.TrimSpace(cat))
	}
	if len(c.DefaultCategories) == 0 {
		c.DefaultCategories = append([]string(nil), c.Categories...)
	}
	if c.Scheduler.Enabled == nil {
		on := true
		c.Scheduler.Enabled = &on
	}
	if len(c.Scheduler.Hours) == 0 {
		c.Scheduler.Hours = []int{6, 12, 18}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RefreshCooldown == "" {
		c.Server.RefreshCooldown = "5m"
	}
	if c.Podcast.BatchSize == 0 {
		c.Podcast.BatchSize = 4
	}
	if c.Podcast.MaxLines == 0 {
		c.Podcast.MaxLines = 24
	}
	if c.Newsletter.OutputDir == "" {
		c.Newsletter.OutputDir = "./out"
	}
	if c.Newsletter.Title == "" {
		c.Newsletter.Title = "Market Brief {.CurrentDate}"
	}
}

// Validate checks values FillDefaults cannot repair.
func (c *Config) Validate() error {
	durations := map[string]string{
		"feeds.request_timeout":   c.Feeds.RequestTimeout,
		"feeds.retry_base_delay":  c.Feeds.RetryBaseDelay,
		"feeds.retry_max_delay":   c.Feeds.RetryMaxDelay,
		"cache.ttl":               c.Cache.TTL,
		"cache.audio_ttl":         c.Cache.AudioTTL,
		"cache.cleanup_interval":  c.Cache.CleanupInterval,
		"server.refresh_cooldown": c.Server.RefreshCooldown,
	}
	for name, v := range durations {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s %q: must be positive", name, v)
		}
	}
	for _, h := range c.Scheduler.Hours {
		if h < 0 || h > 23 {
			return fmt.Errorf("invalid scheduler hour %d", h)
		}
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("invalid app.timezone %q: %w", c.App.Timezone, err)
	}
	known := map[string]bool{}
	for _, cat := range c.Categories {
		if !categoryName.MatchString(cat) {
			return fmt.Errorf("invalid category name %q", cat)
		}
		known[cat] = true
	}
	for _, cat := range c.DefaultCategories {
		if !known[strings.ToLower(strings.TrimSpace(cat))] {
			return fmt.Errorf("default category %q is not in categories", cat)
		}
	}
	if c.Podcast.BatchSize < 1 {
		return fmt.Errorf("podcast.batch_size must be >= 1")
	}
	return nil
}

// Duration parses a validated duration string, falling back to def.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// SchedulerEnabled reports whether the cron trigger should run.
func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}
