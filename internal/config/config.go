package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	LocalPaths         []string `yaml:"local_paths"          json:"local_paths"`
	CloudPaths         []string `yaml:"cloud_paths"          json:"cloud_paths"`
	ExcludePaths       []string `yaml:"exclude_paths"        json:"exclude_paths"`
	IndexDir           string   `yaml:"index_dir"            json:"-"`
	Schedule           string   `yaml:"schedule"             json:"schedule"`
	ScanPaused         bool     `yaml:"scan_paused"          json:"scan_paused"`
	TrashDir           string   `yaml:"trash_dir"            json:"-"`
	TrashRetentionDays int      `yaml:"trash_retention_days" json:"trash_retention_days"`
	DBPath             string   `yaml:"db_path"              json:"-"`
	HTTPAddr           string   `yaml:"http_addr"            json:"-"`
	Scan               Scan     `yaml:"scan"                 json:"scan"`
	LogLevel           string   `yaml:"log_level"            json:"-"`
}

// Scan holds tuning knobs for the scan pipeline.
type Scan struct {
	// CheckpointEvery is the number of processed assets between index saves.
	CheckpointEvery int `yaml:"checkpoint_every" json:"checkpoint_every"`
	// PausePollInterval is how often a paused scan re-checks for resume.
	PausePollInterval time.Duration `yaml:"pause_poll_interval" json:"pause_poll_interval"`
	// AllowNetwork lets fingerprinting download cloud placeholders.
	AllowNetwork bool `yaml:"allow_network" json:"allow_network"`
	// Walkers is the number of concurrent directory readers.
	Walkers int `yaml:"walkers" json:"walkers"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.IndexDir == "" {
		c.IndexDir = "/data/index"
	}
	if c.Schedule == "" {
		c.Schedule = "0 2 * * 0"
	}
	if c.TrashDir == "" {
		c.TrashDir = "/data/trash"
	}
	if c.TrashRetentionDays == 0 {
		c.TrashRetentionDays = 30
	}
	if c.DBPath == "" {
		c.DBPath = "/data/assetindex.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.Scan.CheckpointEvery == 0 {
		c.Scan.CheckpointEvery = 25
	}
	if c.Scan.PausePollInterval == 0 {
		c.Scan.PausePollInterval = 200 * time.Millisecond
	}
	if c.Scan.Walkers == 0 {
		c.Scan.Walkers = 4
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Scan.CheckpointEvery < 1 {
		errs = append(errs, fmt.Errorf("scan.checkpoint_every must be at least 1, got %d", c.Scan.CheckpointEvery))
	}
	if c.Scan.PausePollInterval < 0 {
		errs = append(errs, fmt.Errorf("scan.pause_poll_interval must be positive, got %s", c.Scan.PausePollInterval))
	}
	if c.Scan.Walkers < 1 {
		errs = append(errs, fmt.Errorf("scan.walkers must be at least 1, got %d", c.Scan.Walkers))
	}
	if c.TrashRetentionDays < 0 {
		errs = append(errs, fmt.Errorf("trash_retention_days must not be negative, got %d", c.TrashRetentionDays))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q: want debug, info, warn or error", c.LogLevel))
	}
	return errors.Join(errs...)
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the server
// can start without a mounted config file (useful for bare Docker runs).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return &cfg, nil
}
