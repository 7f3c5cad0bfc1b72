package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Storage    StorageConfig    `yaml:"storage"`
	Caches     CachesConfig     `yaml:"caches"`
	Images     ImagesConfig     `yaml:"images"`
	Queue      QueueConfig      `yaml:"queue"`
	Network    NetworkConfig    `yaml:"network"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// StorageConfig represents durable store settings
type StorageConfig struct {
	Path        string        `yaml:"path"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// CachesConfig holds the per-domain cache policies
type CachesConfig struct {
	User    CachePolicy `yaml:"user"`
	Event   CachePolicy `yaml:"event"`
	Image   CachePolicy `yaml:"image"`
	General CachePolicy `yaml:"general"`
}

// CachePolicy represents one namespace's TTL and size policy
type CachePolicy struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxSize       string        `yaml:"max_size"`
	Compress      bool          `yaml:"compress"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	HotTier       bool          `yaml:"hot_tier"`
}

// ImagesConfig represents image disk cache settings
type ImagesConfig struct {
	Directory          string        `yaml:"directory"`
	MaxUsage           string        `yaml:"max_usage"`
	DownloadTimeout    time.Duration `yaml:"download_timeout"`
	MaxDownloadRetries int           `yaml:"max_download_retries"`
}

// QueueConfig represents offline sync queue settings
type QueueConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	CompletedTTL time.Duration `yaml:"completed_ttl"`
}

// NetworkConfig represents network observer settings
type NetworkConfig struct {
	ProbeURL      string        `yaml:"probe_url"`
	ProbeSamples  int           `yaml:"probe_samples"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// ExecutorConfig represents adaptive executor settings
type ExecutorConfig struct {
	BaseTimeout      time.Duration `yaml:"base_timeout"`
	MaxTimeout       time.Duration `yaml:"max_timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	Multiplier       float64       `yaml:"multiplier"`
	Jitter           bool          `yaml:"jitter"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
			LogFile:  "",
		},
		Storage: StorageConfig{
			Path:        "syncstore.db",
			OpenTimeout: 5 * time.Second,
		},
		Caches: CachesConfig{
			User:    CachePolicy{TTL: 24 * time.Hour, MaxSize: "10MB"},
			Event:   CachePolicy{TTL: 30 * time.Minute, MaxSize: "15MB"},
			Image:   CachePolicy{TTL: 7 * 24 * time.Hour, MaxSize: "100MB"},
			General: CachePolicy{TTL: time.Hour, MaxSize: "20MB"},
		},
		Images: ImagesConfig{
			Directory:          "images",
			MaxUsage:           "100MB",
			DownloadTimeout:    30 * time.Second,
			MaxDownloadRetries: 2,
		},
		Queue: QueueConfig{
			MaxRetries:   3,
			CompletedTTL: 24 * time.Hour,
		},
		Network: NetworkConfig{
			ProbeSamples:  4,
			ProbeTimeout:  5 * time.Second,
			ProbeInterval: 30 * time.Second,
		},
		Executor: ExecutorConfig{
			BaseTimeout:      10 * time.Second,
			MaxTimeout:       60 * time.Second,
			MaxAttempts:      3,
			InitialDelay:     100 * time.Millisecond,
			MaxDelay:         10 * time.Second,
			Multiplier:       2.0,
			Jitter:           true,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    true,
				ListenAddr: "",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("SYNCSTORE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("SYNCSTORE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("SYNCSTORE_STORAGE_PATH"); val != "" {
		c.Storage.Path = val
	}
	if val := os.Getenv("SYNCSTORE_IMAGE_DIR"); val != "" {
		c.Images.Directory = val
	}
	if val := os.Getenv("SYNCSTORE_IMAGE_MAX_USAGE"); val != "" {
		c.Images.MaxUsage = val
	}
	if val := os.Getenv("SYNCSTORE_QUEUE_MAX_RETRIES"); val != "" {
		if retries, err := strconv.Atoi(val); err == nil {
			c.Queue.MaxRetries = retries
		}
	}
	if val := os.Getenv("SYNCSTORE_PROBE_URL"); val != "" {
		c.Network.ProbeURL = val
	}
	if val := os.Getenv("SYNCSTORE_PROBE_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Network.ProbeInterval = duration
		}
	}
	if val := os.Getenv("SYNCSTORE_BASE_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Executor.BaseTimeout = duration
		}
	}
	if val := os.Getenv("SYNCSTORE_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("SYNCSTORE_METRICS_ADDR"); val != "" {
		c.Monitoring.Metrics.ListenAddr = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path must be set")
	}

	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue max_retries must be greater than 0")
	}

	if c.Executor.MaxAttempts <= 0 {
		return fmt.Errorf("executor max_attempts must be greater than 0")
	}

	if c.Executor.BaseTimeout > c.Executor.MaxTimeout {
		return fmt.Errorf("executor base_timeout cannot exceed max_timeout")
	}

	for name, policy := range map[string]CachePolicy{
		"user":    c.Caches.User,
		"event":   c.Caches.Event,
		"image":   c.Caches.Image,
		"general": c.Caches.General,
	} {
		if policy.MaxSize != "" {
			if _, err := ParseSize(policy.MaxSize); err != nil {
				return fmt.Errorf("invalid %s cache max_size: %w", name, err)
			}
		}
	}
	if c.Images.MaxUsage != "" {
		if _, err := ParseSize(c.Images.MaxUsage); err != nil {
			return fmt.Errorf("invalid images max_usage: %w", err)
		}
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// ParseSize converts a human-readable size string like "10MB" to bytes.
// A bare number is taken as bytes.
func ParseSize(size string) (int64, error) {
	size = strings.TrimSpace(strings.ToUpper(size))
	if size == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(size, "GB"):
		multiplier = 1024 * 1024 * 1024
		size = strings.TrimSuffix(size, "GB")
	case strings.HasSuffix(size, "MB"):
		multiplier = 1024 * 1024
		size = strings.TrimSuffix(size, "MB")
	case strings.HasSuffix(size, "KB"):
		multiplier = 1024
		size = strings.TrimSuffix(size, "KB")
	case strings.HasSuffix(size, "B"):
		size = strings.TrimSuffix(size, "B")
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(size), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", size, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative")
	}

	return int64(value * float64(multiplier)), nil
}
