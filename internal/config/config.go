// Package config loads and validates the messengerq YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mkrv/messengerq/internal/quota"
)

// Config is the main configuration structure
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Profile     ProfileConfig     `yaml:"profile"`
	Engine      EngineConfig      `yaml:"engine"`
	Automation  AutomationConfig  `yaml:"automation"`
	Messages    MessagesConfig    `yaml:"messages"`
	API         APIConfig         `yaml:"api"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// ProfileConfig seeds the default profile created on first start
type ProfileConfig struct {
	Nickname   string `yaml:"nickname"`
	DailyLimit int    `yaml:"daily_limit"`
	Timezone   string `yaml:"timezone"`
}

// EngineConfig contains task engine tuning
type EngineConfig struct {
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	BaseBackoff      time.Duration `yaml:"base_backoff"`
	BackoffCap       time.Duration `yaml:"backoff_cap"`
	SendDelay        time.Duration `yaml:"send_delay"`
	RetryPoll        time.Duration `yaml:"retry_poll"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	Heartbeat        time.Duration `yaml:"heartbeat"`
	QuotaPolicy      string        `yaml:"quota_policy"` // terminal or success_only
}

// AutomationConfig contains page automation settings
type AutomationConfig struct {
	Backend       string        `yaml:"backend"` // sandbox is the only in-process backend
	ChatURLFormat string        `yaml:"chat_url_format"`
	PageLoadWait  time.Duration `yaml:"page_load_wait"`
	SendWait      time.Duration `yaml:"send_wait"`
	EvidenceDir   string        `yaml:"evidence_dir"`
}

// MessagesConfig contains message template settings
type MessagesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	APIKey     string `yaml:"api_key"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	AllowedIPs    []string      `yaml:"allowed_ips"`
}

// MaintenanceConfig contains background maintenance settings
type MaintenanceConfig struct {
	EventsMaxAge  time.Duration `yaml:"events_max_age"`
	PruneSchedule string        `yaml:"prune_schedule"` // cron spec
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/messengerq/messengerq.db"
	}

	if c.Profile.Nickname == "" {
		c.Profile.Nickname = "Profile 1"
	}
	if c.Profile.DailyLimit == 0 {
		c.Profile.DailyLimit = 30
	}
	if c.Profile.Timezone == "" {
		c.Profile.Timezone = "UTC"
	}

	if c.Engine.RetryMaxAttempts == 0 {
		c.Engine.RetryMaxAttempts = 3
	}
	if c.Engine.BaseBackoff == 0 {
		c.Engine.BaseBackoff = 5 * time.Second
	}
	if c.Engine.BackoffCap == 0 {
		c.Engine.BackoffCap = 120 * time.Second
	}
	if c.Engine.SendDelay == 0 {
		c.Engine.SendDelay = 15 * time.Second
	}
	if c.Engine.RetryPoll == 0 {
		c.Engine.RetryPoll = 5 * time.Second
	}
	if c.Engine.StaleAfter == 0 {
		c.Engine.StaleAfter = 2 * time.Minute
	}
	if c.Engine.Heartbeat == 0 {
		c.Engine.Heartbeat = 10 * time.Second
	}
	if c.Engine.QuotaPolicy == "" {
		c.Engine.QuotaPolicy = string(quota.PolicyTerminal)
	}

	if c.Automation.Backend == "" {
		c.Automation.Backend = "sandbox"
	}
	if c.Automation.ChatURLFormat == "" {
		c.Automation.ChatURLFormat = "https://www.facebook.com/messages/t/%s"
	}
	if c.Automation.PageLoadWait == 0 {
		c.Automation.PageLoadWait = 20 * time.Second
	}
	if c.Automation.SendWait == 0 {
		c.Automation.SendWait = 30 * time.Second
	}

	if c.Messages.Path == "" {
		c.Messages.Path = "/etc/messengerq/messages.txt"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9091"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Maintenance.EventsMaxAge == 0 {
		c.Maintenance.EventsMaxAge = 30 * 24 * time.Hour
	}
	if c.Maintenance.PruneSchedule == "" {
		c.Maintenance.PruneSchedule = "0 3 * * *" // daily at 03:00
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Profile.DailyLimit < 1 {
		return fmt.Errorf("profile.daily_limit must be positive")
	}
	if _, err := time.LoadLocation(c.Profile.Timezone); err != nil {
		return fmt.Errorf("invalid profile.timezone %q: %w", c.Profile.Timezone, err)
	}

	if c.Engine.RetryMaxAttempts < 1 {
		return fmt.Errorf("engine.retry_max_attempts must be positive")
	}
	if c.Engine.BaseBackoff > c.Engine.BackoffCap {
		return fmt.Errorf("engine.base_backoff must not exceed engine.backoff_cap")
	}
	if !quota.Policy(c.Engine.QuotaPolicy).Valid() {
		return fmt.Errorf("invalid engine.quota_policy: %s (must be %s or %s)",
			c.Engine.QuotaPolicy, quota.PolicyTerminal, quota.PolicySuccessOnly)
	}

	if c.Automation.Backend != "sandbox" {
		return fmt.Errorf("invalid automation.backend: %s (only sandbox is built in)", c.Automation.Backend)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
