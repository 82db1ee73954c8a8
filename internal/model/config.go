package model

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Forum   ForumConfig   `yaml:"forum"`
	Tags    TagsConfig    `yaml:"tags"`
	Store   StoreConfig   `yaml:"store"`
	Sync    SyncConfig    `yaml:"sync"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
}

type ForumConfig struct {
	Guild       string `yaml:"guild"`
	Container   string `yaml:"container"`
	MentionUser string `yaml:"mention_user,omitempty"`
}

type TagsConfig struct {
	Path string `yaml:"path"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type SyncConfig struct {
	ThrottleMs            int  `yaml:"throttle_ms"`
	ArchivedSearchLimit   int  `yaml:"archived_search_limit"`
	RetryDelaySec         int  `yaml:"retry_delay_sec"`
	DeferredCloseDelaySec int  `yaml:"deferred_close_delay_sec"`
	DisableReconcile      bool `yaml:"disable_reconcile"`
}

type DaemonConfig struct {
	ScanIntervalSec    int     `yaml:"scan_interval_sec"`
	DebounceSec        float64 `yaml:"debounce_sec"`
	ShutdownTimeoutSec int     `yaml:"shutdown_timeout_sec"`
	NotifyOnFailure    bool    `yaml:"notify_on_failure"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Tags.Path == "" {
		c.Tags.Path = "tags.yaml"
	}
	if c.Store.Path == "" {
		c.Store.Path = "tasks.yaml"
	}
	if c.Sync.ThrottleMs <= 0 {
		c.Sync.ThrottleMs = 250
	}
	if c.Sync.ArchivedSearchLimit <= 0 {
		c.Sync.ArchivedSearchLimit = 50
	}
	if c.Sync.RetryDelaySec <= 0 {
		c.Sync.RetryDelaySec = 60
	}
	if c.Sync.DeferredCloseDelaySec <= 0 {
		c.Sync.DeferredCloseDelaySec = 300
	}
	if c.Daemon.ScanIntervalSec <= 0 {
		c.Daemon.ScanIntervalSec = 300
	}
	if c.Daemon.DebounceSec <= 0 {
		c.Daemon.DebounceSec = 2
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// LoadConfig reads and defaults a config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}
