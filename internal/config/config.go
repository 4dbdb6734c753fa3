package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration. It is loaded once at
// startup, validated, and passed explicitly to the components that need it.
type Config struct {
	// OutputPath is the directory the merged calendar and all per-token
	// link artifacts are written into.
	OutputPath string `yaml:"output_path"`

	// Filename is the merged calendar file name inside OutputPath. When
	// empty, a random name is generated once per process and reused for
	// every cycle of that run.
	Filename string `yaml:"filename"`

	// Domain is the public base URL the output directory is served under
	// (e.g. "https://cal.example.org"). Used only to render shareable
	// URLs in `token list`; the core never serves HTTP itself.
	Domain string `yaml:"domain"`

	// SourcesFile is the path to the calendar URL list, one descriptor
	// per line.
	SourcesFile string `yaml:"sources_file"`

	// DatabasePath is the SQLite file backing the token store.
	DatabasePath string `yaml:"database_path"`

	// SyncInterval is the number of seconds between sync cycles.
	// Zero means: run exactly one cycle and exit.
	SyncInterval int `yaml:"sync_interval"`

	// Retries is the number of additional fetch attempts after the first.
	Retries int `yaml:"retries"`
	// Delay is the pause in seconds between fetch attempts.
	Delay int `yaml:"delay"`
	// Timeout is the per-attempt HTTP timeout in seconds.
	Timeout int `yaml:"timeout"`

	// ShowDetails keeps event summaries, descriptions and locations in
	// the merged output. When false every event is anonymized.
	ShowDetails bool `yaml:"show_details"`
	// AnonymizeLabel is the summary used for anonymized events from
	// sources without a per-source label.
	AnonymizeLabel string `yaml:"anonymize_label"`

	// FilterByDate restricts the merged output to a date window.
	FilterByDate bool `yaml:"filter_by_date"`
	// PastDays is the window extent into the past, in days.
	PastDays int `yaml:"past_days"`
	// FutureMonths is the window extent into the future, in calendar
	// months (not a fixed day count).
	FutureMonths int `yaml:"future_months"`

	// ExpiryWarnDays controls how far ahead a token is reported as
	// EXPIRES_SOON by `token list`.
	ExpiryWarnDays int `yaml:"expiry_warn_days"`

	// Timezone is the IANA reference zone used for date-window
	// comparisons. Empty means host local time.
	Timezone string `yaml:"timezone"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		SourcesFile:    "calendar_urls.txt",
		DatabasePath:   "icalsynchub.db",
		SyncInterval:   3600,
		Retries:        3,
		Delay:          5,
		Timeout:        10,
		ShowDetails:    true,
		AnonymizeLabel: "Busy",
		FilterByDate:   false,
		PastDays:       30,
		FutureMonths:   6,
		ExpiryWarnDays: 7,
		LogLevel:       "info",
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	if c.SourcesFile == "" {
		c.SourcesFile = "calendar_urls.txt"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "icalsynchub.db"
	}
	if c.AnonymizeLabel == "" {
		c.AnonymizeLabel = "Busy"
	}
	if c.PastDays <= 0 {
		c.PastDays = 30
	}
	if c.FutureMonths <= 0 {
		c.FutureMonths = 6
	}
	if c.ExpiryWarnDays <= 0 {
		c.ExpiryWarnDays = 7
	}
	if c.Timeout <= 0 {
		c.Timeout = 10
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for startup-fatal mistakes.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.OutputPath, validation.Required),
		validation.Field(&c.SourcesFile, validation.Required),
		validation.Field(&c.DatabasePath, validation.Required),
		validation.Field(&c.SyncInterval, validation.Min(0)),
		validation.Field(&c.Retries, validation.Min(0)),
		validation.Field(&c.Delay, validation.Min(0)),
		validation.Field(&c.Timeout, validation.Min(1)),
		validation.Field(&c.PastDays, validation.Min(0)),
		validation.Field(&c.FutureMonths, validation.Min(0)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "error")),
	); err != nil {
		return err
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", c.Timezone, err)
		}
	}
	return nil
}

// Location resolves the configured reference timezone. Validate has already
// checked that the name loads, so failures here fall back to host local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// FetchTimeout returns the per-attempt HTTP timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// FetchDelay returns the pause between fetch attempts.
func (c *Config) FetchDelay() time.Duration {
	return time.Duration(c.Delay) * time.Second
}

// Interval returns the sync loop period; zero means single-shot.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.SyncInterval) * time.Second
}

// Load reads, env-expands, unmarshals and validates the YAML config at path.
// A missing file is a startup-fatal error: this tool never invents a config
// on the fly because a wrong output_path would publish calendars to the
// wrong place.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
