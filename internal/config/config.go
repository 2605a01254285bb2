// Package config loads engine configuration and builds the per-connection
// logger. Defaults mirror the teacher's approach of seeding sensible
// defaults directly in code (see core.Engine's seed data) rather than
// failing on a missing config file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Verbosity is the engine's log level, one of the four values recognised by
// the spec's `verbosity` option.
type Verbosity string

const (
	VerbosityErrors   Verbosity = "errors"
	VerbosityMinimal  Verbosity = "minimal"
	VerbosityDetailed Verbosity = "detailed"
	VerbosityDebug    Verbosity = "debug"
)

func (v Verbosity) zerologLevel() zerolog.Level {
	switch v {
	case VerbosityErrors:
		return zerolog.ErrorLevel
	case VerbosityMinimal:
		return zerolog.WarnLevel
	case VerbosityDetailed:
		return zerolog.InfoLevel
	case VerbosityDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.WarnLevel
	}
}

// Config holds the recognised options from spec §6, with their defaults.
type Config struct {
	Verbosity                 Verbosity     `yaml:"verbosity"`
	NotificationDelay         time.Duration `yaml:"-"`
	NotificationDelayMs       int           `yaml:"notification_delay_ms"`
	JournalChunkMiB           int           `yaml:"journal_chunk_mib"`
	JournalRotateDestination  string        `yaml:"journal_rotate_destination"`
	MaxBytesPerTextExtract    int64         `yaml:"max_bytes_per_text_extract"`
	MaxConcurrentReaders      int           `yaml:"max_concurrent_readers"`
	BatchRowThreshold         int           `yaml:"batch_row_threshold"`
	ProgressSampleInterval    time.Duration `yaml:"-"`
	ProgressSampleIntervalSec int           `yaml:"progress_sample_interval_sec"`
}

// Default returns the option set documented in spec §6.
func Default() *Config {
	c := &Config{
		Verbosity:                 VerbosityMinimal,
		NotificationDelayMs:       1000,
		JournalChunkMiB:           0,
		JournalRotateDestination:  "",
		MaxBytesPerTextExtract:    4 << 20,
		MaxConcurrentReaders:      8,
		BatchRowThreshold:         4000,
		ProgressSampleIntervalSec: 5,
	}
	c.resolveDurations()
	return c
}

func (c *Config) resolveDurations() {
	c.NotificationDelay = time.Duration(c.NotificationDelayMs) * time.Millisecond
	c.ProgressSampleInterval = time.Duration(c.ProgressSampleIntervalSec) * time.Second
}

// Load reads an optional YAML config file at <dataDir>/quill.yaml, applying
// it on top of Default. A missing file is not an error.
func Load(dataDir string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(dataDir, "quill.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.resolveDurations()
	return cfg, nil
}

// Option mutates a Config; used for functional-option overrides at
// Connection.open time, layered on top of the file-loaded defaults.
type Option func(*Config)

// WithVerbosity overrides the log level.
func WithVerbosity(v Verbosity) Option { return func(c *Config) { c.Verbosity = v } }

// WithMaxConcurrentReaders overrides the reader connection ceiling.
func WithMaxConcurrentReaders(n int) Option {
	return func(c *Config) { c.MaxConcurrentReaders = n }
}

// Apply layers opts onto cfg in order.
func (c *Config) Apply(opts ...Option) *Config {
	for _, opt := range opts {
		opt(c)
	}
	c.resolveDurations()
	return c
}

// NewLogger builds the zerolog.Logger this connection and all its
// subsystems should log through, keyed off cfg.Verbosity.
func NewLogger(cfg *Config, component string) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(cfg.Verbosity.zerologLevel()).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
