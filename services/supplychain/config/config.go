// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the service configuration file.
//
// The file schema is deliberately separate from the runtime config structs
// of the individual services: the file speaks human units ("30s", "5m")
// while the runtime structs speak time.Duration. Runtime() methods bridge
// the two.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/chaintrace/services/supplychain/analytics"
	"github.com/AleutianAI/chaintrace/services/supplychain/analyzer"
	"github.com/AleutianAI/chaintrace/services/supplychain/ingest"
)

// ErrInvalidConfig is returned when the configuration file fails
// validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Store engine names accepted in the configuration file.
const (
	EngineMemory = "memory"
	EngineBadger = "badger"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "250ms" or "5m" as well as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("config: duration must be a string or integer: %w", err)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("config: parsing duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// ListenAddr is the bind address. Default: ":8844".
	ListenAddr string `yaml:"listen_addr"`

	// ReadTimeout bounds request reads. Default: 30s.
	ReadTimeout Duration `yaml:"read_timeout"`

	// WriteTimeout bounds response writes. Default: 60s.
	WriteTimeout Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the graph store engine.
type StoreConfig struct {
	// Engine is "memory" or "badger". Default: "memory".
	Engine string `yaml:"engine"`

	// Path is the badger data directory. Ignored by the memory engine.
	Path string `yaml:"path"`

	// SyncWrites forces synchronous badger commits. Default: false.
	SyncWrites bool `yaml:"sync_writes"`

	// DecayHalfLife ages down observation quantities when recomputing
	// relationship weights. Zero disables decay.
	DecayHalfLife Duration `yaml:"decay_half_life"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	BatchSize       int     `yaml:"batch_size"`
	Workers         int     `yaml:"workers"`
	RetryAttempts   int     `yaml:"retry_attempts"`
	WriteRatePerSec float64 `yaml:"write_rate_per_sec"`
	WriteBurst      int     `yaml:"write_burst"`
}

// Runtime converts the file schema into the pipeline's runtime config.
func (c IngestConfig) Runtime() ingest.Config {
	out := ingest.DefaultConfig()
	if c.BatchSize > 0 {
		out.BatchSize = c.BatchSize
	}
	if c.Workers > 0 {
		out.Workers = c.Workers
	}
	if c.RetryAttempts > 0 {
		out.Retry.MaxAttempts = c.RetryAttempts
	}
	if c.WriteRatePerSec > 0 {
		out.WriteRate = rate.Limit(c.WriteRatePerSec)
		out.WriteBurst = c.WriteBurst
	}
	return out
}

// AnalyzerConfig configures the risk analyzer.
type AnalyzerConfig struct {
	Weights           analyzer.Weights    `yaml:"weights"`
	Thresholds        analyzer.Thresholds `yaml:"thresholds"`
	MaxHops           int                 `yaml:"max_hops"`
	MaxPaths          int                 `yaml:"max_paths"`
	MaxVisited        int                 `yaml:"max_visited"`
	TopCounterparties int                 `yaml:"top_counterparties"`
	TraversalTimeout  Duration            `yaml:"traversal_timeout"`
}

// Runtime converts the file schema into the analyzer's runtime config.
func (c AnalyzerConfig) Runtime() analyzer.Config {
	out := analyzer.DefaultConfig()
	zero := analyzer.Weights{}
	if c.Weights != zero {
		out.Weights = c.Weights
	}
	if (c.Thresholds != analyzer.Thresholds{}) {
		out.Thresholds = c.Thresholds
	}
	if c.MaxHops > 0 {
		out.MaxHops = c.MaxHops
	}
	if c.MaxPaths > 0 {
		out.MaxPaths = c.MaxPaths
	}
	if c.MaxVisited > 0 {
		out.MaxVisited = c.MaxVisited
	}
	if c.TopCounterparties > 0 {
		out.TopCounterparties = c.TopCounterparties
	}
	if c.TraversalTimeout > 0 {
		out.TraversalTimeout = c.TraversalTimeout.Std()
	}
	return out
}

// AnalyticsConfig configures the analytics orchestrator.
type AnalyticsConfig struct {
	TTL            Duration `yaml:"ttl"`
	SweepInterval  Duration `yaml:"sweep_interval"`
	MaxConcurrency int64    `yaml:"max_concurrency"`
	RetryTimeouts  *bool    `yaml:"retry_timeouts"`
}

// Runtime converts the file schema into the orchestrator's runtime config.
func (c AnalyticsConfig) Runtime() analytics.Config {
	out := analytics.DefaultConfig()
	if c.TTL > 0 {
		out.TTL = c.TTL.Std()
	}
	if c.SweepInterval > 0 {
		out.SweepInterval = c.SweepInterval.Std()
	}
	if c.MaxConcurrency > 0 {
		out.MaxConcurrency = c.MaxConcurrency
	}
	if c.RetryTimeouts != nil {
		out.RetryTimeouts = *c.RetryTimeouts
	}
	return out
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error". Default: "info".
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: "json".
	Format string `yaml:"format"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8844",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Store: StoreConfig{
			Engine: EngineMemory,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads, parses, and validates a configuration file. Unknown fields
// are rejected so typos fail loudly instead of silently using defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := unmarshalStrict(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshalStrict(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: defaults apply.
			return nil
		}
		return err
	}
	return nil
}

// Validate checks the file-level fields and delegates the rest to the
// runtime validators.
func (c *Config) Validate() error {
	switch c.Store.Engine {
	case EngineMemory:
	case EngineBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for the badger engine", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store engine %q", ErrInvalidConfig, c.Store.Engine)
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("%w: server.listen_addr is required", ErrInvalidConfig)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown logging level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: unknown logging format %q", ErrInvalidConfig, c.Logging.Format)
	}

	if err := c.Analyzer.Runtime().Validate(); err != nil {
		return err
	}
	if err := c.Analytics.Runtime().Validate(); err != nil {
		return err
	}
	return nil
}
