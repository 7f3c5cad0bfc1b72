package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	// Test global defaults
	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}

	// Test cache policy defaults
	if cfg.Caches.User.TTL != 24*time.Hour {
		t.Errorf("Expected user cache TTL to be 24h, got %v", cfg.Caches.User.TTL)
	}
	if cfg.Caches.Event.TTL != 30*time.Minute {
		t.Errorf("Expected event cache TTL to be 30m, got %v", cfg.Caches.Event.TTL)
	}
	if cfg.Caches.Image.MaxSize != "100MB" {
		t.Errorf("Expected image cache max size to be 100MB, got %s", cfg.Caches.Image.MaxSize)
	}
	if cfg.Caches.General.TTL != time.Hour {
		t.Errorf("Expected general cache TTL to be 1h, got %v", cfg.Caches.General.TTL)
	}

	// Test queue defaults
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("Expected queue MaxRetries to be 3, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.CompletedTTL != 24*time.Hour {
		t.Errorf("Expected CompletedTTL to be 24h, got %v", cfg.Queue.CompletedTTL)
	}

	// Test executor defaults
	if cfg.Executor.MaxAttempts != 3 {
		t.Errorf("Expected executor MaxAttempts to be 3, got %d", cfg.Executor.MaxAttempts)
	}
	if cfg.Executor.BaseTimeout != 10*time.Second {
		t.Errorf("Expected BaseTimeout to be 10s, got %v", cfg.Executor.BaseTimeout)
	}
	if !cfg.Executor.Jitter {
		t.Error("Expected Jitter to be enabled by default")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := NewDefault().Validate(); err != nil {
		t.Errorf("default configuration should validate, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
global:
  log_level: DEBUG
storage:
  path: /tmp/test-syncstore.db
caches:
  user:
    ttl: 1h
    max_size: 5MB
queue:
  max_retries: 5
executor:
  base_timeout: 2s
  max_timeout: 20s
`
	path := filepath.Join(t.TempDir(), "syncstore.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatal(err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Storage.Path != "/tmp/test-syncstore.db" {
		t.Errorf("Expected storage path override, got %s", cfg.Storage.Path)
	}
	if cfg.Caches.User.TTL != time.Hour || cfg.Caches.User.MaxSize != "5MB" {
		t.Errorf("Expected user cache override, got %+v", cfg.Caches.User)
	}
	if cfg.Queue.MaxRetries != 5 {
		t.Errorf("Expected MaxRetries 5, got %d", cfg.Queue.MaxRetries)
	}
	// Untouched sections keep their defaults.
	if cfg.Caches.Event.TTL != 30*time.Minute {
		t.Errorf("Expected event cache default to survive, got %v", cfg.Caches.Event.TTL)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("caches: [not a map]"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefault()
	if err := cfg.LoadFromFile(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SYNCSTORE_LOG_LEVEL", "WARN")
	t.Setenv("SYNCSTORE_STORAGE_PATH", "/data/app.db")
	t.Setenv("SYNCSTORE_QUEUE_MAX_RETRIES", "7")
	t.Setenv("SYNCSTORE_PROBE_INTERVAL", "45s")
	t.Setenv("SYNCSTORE_METRICS_ENABLED", "false")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatal(err)
	}

	if cfg.Global.LogLevel != "WARN" {
		t.Errorf("Expected LogLevel WARN, got %s", cfg.Global.LogLevel)
	}
	if cfg.Storage.Path != "/data/app.db" {
		t.Errorf("Expected storage path from env, got %s", cfg.Storage.Path)
	}
	if cfg.Queue.MaxRetries != 7 {
		t.Errorf("Expected MaxRetries 7, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Network.ProbeInterval != 45*time.Second {
		t.Errorf("Expected ProbeInterval 45s, got %v", cfg.Network.ProbeInterval)
	}
	if cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics disabled via env")
	}
}

func TestLoadFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("SYNCSTORE_QUEUE_MAX_RETRIES", "not-a-number")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatal(err)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("Invalid env value should keep default, got %d", cfg.Queue.MaxRetries)
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	cfg := NewDefault()
	cfg.Global.LogLevel = "ERROR"
	cfg.Caches.Event.MaxSize = "42MB"

	path := filepath.Join(t.TempDir(), "nested", "syncstore.yaml")
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel ERROR after reload, got %s", loaded.Global.LogLevel)
	}
	if loaded.Caches.Event.MaxSize != "42MB" {
		t.Errorf("Expected event max size 42MB after reload, got %s", loaded.Caches.Event.MaxSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Configuration)
		wantErr bool
	}{
		{"defaults pass", func(c *Configuration) {}, false},
		{"empty storage path", func(c *Configuration) { c.Storage.Path = "" }, true},
		{"zero queue retries", func(c *Configuration) { c.Queue.MaxRetries = 0 }, true},
		{"zero executor attempts", func(c *Configuration) { c.Executor.MaxAttempts = 0 }, true},
		{"base timeout above cap", func(c *Configuration) {
			c.Executor.BaseTimeout = 2 * time.Minute
		}, true},
		{"bad cache size", func(c *Configuration) { c.Caches.User.MaxSize = "lots" }, true},
		{"bad image quota", func(c *Configuration) { c.Images.MaxUsage = "???" }, true},
		{"bad log level", func(c *Configuration) { c.Global.LogLevel = "VERBOSE" }, true},
		{"lowercase log level ok", func(c *Configuration) { c.Global.LogLevel = "debug" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"10MB", 10 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"512KB", 512 * 1024, false},
		{"100B", 100, false},
		{"100", 100, false},
		{"1.5MB", int64(1.5 * 1024 * 1024), false},
		{" 20 MB ", 20 * 1024 * 1024, false},
		{"10mb", 10 * 1024 * 1024, false},
		{"", 0, true},
		{"abcMB", 0, true},
		{"-5MB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
