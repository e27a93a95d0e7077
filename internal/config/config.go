// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the daemon's configuration from a YAML file with
// CONDUCTOR_* environment variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	conductorerrors "github.com/conductor-core/conductor/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	Backend       BackendConfig       `yaml:"backend"`
	Listen        ListenConfig        `yaml:"listen"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Retention     RetentionConfig     `yaml:"retention"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// BackendConfig selects and configures the storage backend.
type BackendConfig struct {
	// Type is "sqlite" or "postgres"; storage.Open also accepts a bare DSN.
	Type string `yaml:"type"`
	// DSN is the connection string: a file path for sqlite, "memory" for an
	// in-memory sqlite database, or a postgres:// URL.
	DSN string `yaml:"dsn"`
}

// ListenConfig configures the daemon's HTTP listener (operations API,
// /healthz, /livez).
type ListenConfig struct {
	Address string `yaml:"address"`
}

// DispatcherConfig tunes the worker loop.
type DispatcherConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	BatchSize      int           `yaml:"batch_size"`
}

// SchedulerConfig tunes the schedule tick loop.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`
}

// RetentionConfig sets per-table retention windows in days; zero disables
// purging for that table.
type RetentionConfig struct {
	ExecutionDays   int `yaml:"execution_days"`
	EventDays       int `yaml:"event_days"`
	DLQDays         int `yaml:"dlq_days"`
	ScheduleRunDays int `yaml:"schedule_run_days"`
}

// ObservabilityConfig configures OpenTelemetry tracing and metrics.
type ObservabilityConfig struct {
	Enabled        bool           `yaml:"enabled"`
	ServiceName    string         `yaml:"service_name"`
	OTLPEndpoint   string         `yaml:"otlp_endpoint"`
	OTLPInsecure   bool           `yaml:"otlp_insecure"`
	Sampling       SamplingConfig `yaml:"sampling"`
	MetricsAddress string         `yaml:"metrics_address"`
}

// SamplingConfig controls which traces are recorded.
type SamplingConfig struct {
	Rate               float64 `yaml:"rate"`
	AlwaysSampleErrors bool    `yaml:"always_sample_errors"`
}

// LogConfig configures the daemon's slog-based logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Debug  bool   `yaml:"debug"`
}

// Default returns a configuration with conservative, locally-runnable
// defaults: an in-memory sqlite backend, a modest dispatcher pool, and
// observability disabled until an endpoint is configured.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{Type: "sqlite", DSN: "memory"},
		Listen:  ListenConfig{Address: ":8080"},
		Dispatcher: DispatcherConfig{
			PollInterval:   500 * time.Millisecond,
			MaxConcurrency: 10,
			BatchSize:      10,
		},
		Scheduler: SchedulerConfig{
			PollInterval: time.Second,
			LeaseTTL:     30 * time.Second,
		},
		Retention: RetentionConfig{
			ExecutionDays:   90,
			EventDays:       90,
			DLQDays:         30,
			ScheduleRunDays: 30,
		},
		Observability: ObservabilityConfig{
			Enabled:     false,
			ServiceName: "conductor",
			Sampling:    SamplingConfig{Rate: 1.0, AlwaysSampleErrors: true},
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the daemon configuration: defaults, then an optional YAML
// file (skipped silently if path is empty and no file exists there), then
// CONDUCTOR_* environment variable overrides, which always win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &conductorerrors.ConfigError{Key: "config_file", Reason: "failed to load " + path, Cause: err}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("CONDUCTOR_BACKEND_TYPE"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("CONDUCTOR_BACKEND_DSN"); v != "" {
		c.Backend.DSN = v
	}
	if v := os.Getenv("CONDUCTOR_LISTEN_ADDRESS"); v != "" {
		c.Listen.Address = v
	}
	if v := os.Getenv("CONDUCTOR_DISPATCHER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Dispatcher.PollInterval = d
		}
	}
	if v := os.Getenv("CONDUCTOR_DISPATCHER_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatcher.MaxConcurrency = n
		}
	}
	if v := os.Getenv("CONDUCTOR_DISPATCHER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatcher.BatchSize = n
		}
	}
	if v := os.Getenv("CONDUCTOR_SCHEDULER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.PollInterval = d
		}
	}
	if v := os.Getenv("CONDUCTOR_SCHEDULER_LEASE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.LeaseTTL = d
		}
	}
	if v := os.Getenv("CONDUCTOR_RETENTION_EXECUTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retention.ExecutionDays = n
		}
	}
	if v := os.Getenv("CONDUCTOR_RETENTION_EVENT_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retention.EventDays = n
		}
	}
	if v := os.Getenv("CONDUCTOR_RETENTION_DLQ_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retention.DLQDays = n
		}
	}
	if v := os.Getenv("CONDUCTOR_OBSERVABILITY_ENABLED"); v != "" {
		c.Observability.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CONDUCTOR_OTLP_ENDPOINT"); v != "" {
		c.Observability.OTLPEndpoint = v
	}
	if v := os.Getenv("CONDUCTOR_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CONDUCTOR_LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("CONDUCTOR_DEBUG"); v != "" {
		c.Log.Debug = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate checks invariants that would otherwise surface as confusing
// failures deep inside the dispatcher or scheduler.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Backend.Type != "sqlite" && c.Backend.Type != "postgres" {
		errs = append(errs, fmt.Sprintf("backend.type must be sqlite or postgres, got %q", c.Backend.Type))
	}
	if c.Dispatcher.MaxConcurrency <= 0 {
		errs = append(errs, "dispatcher.max_concurrency must be positive")
	}
	if c.Dispatcher.PollInterval <= 0 {
		errs = append(errs, "dispatcher.poll_interval must be positive")
	}
	if c.Scheduler.PollInterval <= 0 {
		errs = append(errs, "scheduler.poll_interval must be positive")
	}

	if len(errs) > 0 {
		return &conductorerrors.ConfigError{Reason: strings.Join(errs, "; ")}
	}
	return nil
}
