// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxFailures != 27 {
		t.Errorf("MaxFailures = %d, want 27", cfg.Queue.MaxFailures)
	}
	if cfg.Queue.MaxAge != 48*time.Hour {
		t.Errorf("MaxAge = %v, want 48h", cfg.Queue.MaxAge)
	}
	if cfg.Queue.BackoffBase != 500*time.Millisecond {
		t.Errorf("BackoffBase = %v, want 500ms", cfg.Queue.BackoffBase)
	}
	if cfg.Session.PersistInterval != 10*time.Second {
		t.Errorf("PersistInterval = %v, want 10s", cfg.Session.PersistInterval)
	}
	if cfg.Session.EstimatedFloor != 5*time.Second {
		t.Errorf("EstimatedFloor = %v, want 5s", cfg.Session.EstimatedFloor)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "driftline.yaml")
	yaml := `
app_id: demo-app
endpoint: https://ingest.example.com/v1
queue:
  max_failures: 5
session:
  persist_interval: 30s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppID != "demo-app" {
		t.Errorf("AppID = %q", cfg.AppID)
	}
	if cfg.Queue.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cfg.Queue.MaxFailures)
	}
	if cfg.Session.PersistInterval != 30*time.Second {
		t.Errorf("PersistInterval = %v, want 30s", cfg.Session.PersistInterval)
	}
	// Untouched keys keep defaults.
	if cfg.Queue.BackoffFactor != 1.5 {
		t.Errorf("BackoffFactor = %v, want 1.5", cfg.Queue.BackoffFactor)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "driftline.yaml")
	if err := os.WriteFile(path, []byte("app_id: from-file\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DRIFTLINE_APP_ID", "from-env")
	t.Setenv("DRIFTLINE_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppID != "from-env" {
		t.Errorf("AppID = %q, want env value", cfg.AppID)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DRIFTLINE_APP_ID", "app_id"},
		{"DRIFTLINE_ENDPOINT", "endpoint"},
		{"DRIFTLINE_LOGGING_LEVEL", "logging.level"},
		{"DRIFTLINE_QUEUE_MAX_FAILURES", "queue.max_failures"},
		{"DRIFTLINE_SESSION_PERSIST_INTERVAL", "session.persist_interval"},
		{"DRIFTLINE_STORAGE_PATH", "storage.path"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate_RejectsBrokenRetryPolicy(t *testing.T) {
	cfg := defaultConfig()
	cfg.Queue.MaxFailures = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted max_failures = 0")
	}

	cfg = defaultConfig()
	cfg.Queue.BackoffFactor = 1.0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted backoff_factor = 1.0")
	}
}
