package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pulse-labs/pulse/topic"
)

// DefaultListenAddr is used when the config omits listen.
const DefaultListenAddr = ":8080"

// Config is the declarative startup config shape for the pulse daemon.
type Config struct {
	Listen          string          `yaml:"listen,omitempty"`
	HistoryCapacity int             `yaml:"history_capacity,omitempty"`
	Delimiter       string          `yaml:"delimiter,omitempty"`
	Archive         *ArchiveConfig  `yaml:"archive,omitempty"`
	Schedules       []ScheduleEntry `yaml:"schedules,omitempty"`
	Telemetry       TelemetryConfig `yaml:"telemetry,omitempty"`
}

// ArchiveConfig enables the SQLite event archive when present.
type ArchiveConfig struct {
	DSN            string `yaml:"dsn"`
	RetentionAge   string `yaml:"retention_age,omitempty"`
	RetentionCount int    `yaml:"retention_count,omitempty"`
	PruneInterval  string `yaml:"prune_interval,omitempty"`
}

// ScheduleEntry defines one cron-driven emission.
type ScheduleEntry struct {
	Cron    string         `yaml:"cron"`
	Topic   string         `yaml:"topic"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// TelemetryConfig configures optional OTLP export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (Config, error) {
	// #nosec G304 -- path comes from an explicit CLI flag.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values and fills defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListenAddr
	}
	if c.HistoryCapacity < 0 {
		return fmt.Errorf("history_capacity must be >= 0, got %d", c.HistoryCapacity)
	}
	if c.Delimiter != "" && len(c.Delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", c.Delimiter)
	}
	if c.Archive != nil {
		if strings.TrimSpace(c.Archive.DSN) == "" {
			return fmt.Errorf("archive.dsn is required when archive is set")
		}
		if _, err := c.Archive.RetentionAgeDuration(); err != nil {
			return err
		}
		if _, err := c.Archive.PruneIntervalDuration(); err != nil {
			return err
		}
		if c.Archive.RetentionCount < 0 {
			return fmt.Errorf("archive.retention_count must be >= 0, got %d", c.Archive.RetentionCount)
		}
	}
	delim := c.Delimiter
	if delim == "" {
		delim = topic.DefaultDelimiter
	}
	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Cron) == "" {
			return fmt.Errorf("schedules[%d]: cron expression is required", i)
		}
		if err := topic.ValidateDelim(s.Topic, delim); err != nil {
			return fmt.Errorf("schedules[%d]: %w", i, err)
		}
	}
	return nil
}

// RetentionAgeDuration parses the retention_age field, zero when unset.
func (a *ArchiveConfig) RetentionAgeDuration() (time.Duration, error) {
	return parseOptionalDuration("archive.retention_age", a.RetentionAge)
}

// PruneIntervalDuration parses the prune_interval field, zero when unset.
func (a *ArchiveConfig) PruneIntervalDuration() (time.Duration, error) {
	return parseOptionalDuration("archive.prune_interval", a.PruneInterval)
}

func parseOptionalDuration(field, raw string) (time.Duration, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(clean)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", field, d)
	}
	return d, nil
}
