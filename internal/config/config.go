// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

// Package config loads SDK configuration via koanf v2 with layered
// sources: struct defaults first, then an optional YAML config file,
// then DRIFTLINE_-prefixed environment variables (highest priority).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"driftline.yaml",
	"driftline.yml",
	"/etc/driftline/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "DRIFTLINE_CONFIG_PATH"

// envPrefix namespaces the SDK's environment variables.
const envPrefix = "DRIFTLINE_"

// Config is the full SDK configuration.
type Config struct {
	// AppID identifies the application to the ingestion endpoint.
	// Required; without it all logging is a no-op.
	AppID string `koanf:"app_id"`

	// Endpoint is the ingestion URL events are posted to.
	Endpoint string `koanf:"endpoint"`

	Logging LoggingConfig `koanf:"logging"`
	Storage StorageConfig `koanf:"storage"`
	Queue   QueueConfig   `koanf:"queue"`
	Session SessionConfig `koanf:"session"`
}

// LoggingConfig controls diagnostic output.
type LoggingConfig struct {
	Level   string `koanf:"level"`
	Format  string `koanf:"format"`
	Enabled bool   `koanf:"enabled"`
}

// StorageConfig controls the default Badger-backed store.
type StorageConfig struct {
	// Path is the BadgerDB directory. Empty selects the in-memory
	// store (no durability across restarts).
	Path string `koanf:"path"`
}

// QueueConfig bounds the delivery engine's retry policy.
type QueueConfig struct {
	MaxFailures   int           `koanf:"max_failures"`
	MaxAge        time.Duration `koanf:"max_age"`
	BackoffBase   time.Duration `koanf:"backoff_base"`
	BackoffFactor float64       `koanf:"backoff_factor"`
	AttemptPause  time.Duration `koanf:"attempt_pause"`
}

// SessionConfig holds the screen-session thresholds. PersistInterval
// and EstimatedFloor are deliberately independent knobs.
type SessionConfig struct {
	MinDuration     time.Duration `koanf:"min_duration"`
	PersistInterval time.Duration `koanf:"persist_interval"`
	EstimatedFloor  time.Duration `koanf:"estimated_floor"`
	RecoveryMaxAge  time.Duration `koanf:"recovery_max_age"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		AppID:    "",
		Endpoint: "",
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "json",
			Enabled: false,
		},
		Storage: StorageConfig{
			Path: "",
		},
		Queue: QueueConfig{
			MaxFailures:   27,
			MaxAge:        48 * time.Hour,
			BackoffBase:   500 * time.Millisecond,
			BackoffFactor: 1.5,
			AttemptPause:  100 * time.Millisecond,
		},
		Session: SessionConfig{
			MinDuration:     500 * time.Millisecond,
			PersistInterval: 10 * time.Second,
			EstimatedFloor:  5 * time.Second,
			RecoveryMaxAge:  24 * time.Hour,
		},
	}
}

// Load builds the configuration from layered sources. configPath may
// be empty, in which case DefaultConfigPaths (and the env override)
// are searched; a missing config file is not an error.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path := resolveConfigPath(configPath)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveConfigPath picks the config file: explicit path, env
// override, then the first existing default path.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps environment variable names to koanf paths:
//
//	DRIFTLINE_APP_ID          -> app_id
//	DRIFTLINE_ENDPOINT        -> endpoint
//	DRIFTLINE_LOGGING_LEVEL   -> logging.level
//	DRIFTLINE_QUEUE_MAX_AGE   -> queue.max_age
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	for _, section := range []string{"logging", "storage", "queue", "session"} {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// Validate checks the configuration for values the pipeline cannot
// operate with. A missing app id is allowed here: initialization warns
// and disables logging instead of failing the host.
func (c *Config) Validate() error {
	if c.Queue.MaxFailures < 1 {
		return fmt.Errorf("config: queue.max_failures must be >= 1, got %d", c.Queue.MaxFailures)
	}
	if c.Queue.BackoffFactor <= 1 {
		return fmt.Errorf("config: queue.backoff_factor must be > 1, got %v", c.Queue.BackoffFactor)
	}
	if c.Session.MinDuration <= 0 {
		return fmt.Errorf("config: session.min_duration must be positive, got %v", c.Session.MinDuration)
	}
	if c.Session.PersistInterval <= 0 {
		return fmt.Errorf("config: session.persist_interval must be positive, got %v", c.Session.PersistInterval)
	}
	return nil
}
