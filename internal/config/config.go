package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete engine configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Updater    UpdaterConfig    `yaml:"updater"`
	IO         IOConfig         `yaml:"io"`
	Cache      CacheConfig      `yaml:"cache"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global engine settings
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// AnalyzerConfig represents dependency-analyzer settings
type AnalyzerConfig struct {
	Extensions      []string `yaml:"extensions"`
	IgnorePatterns  []string `yaml:"ignore_patterns"`
	ExcludeExternal bool     `yaml:"exclude_external"`
	MaxDepth        int      `yaml:"max_depth"`
}

// UpdaterConfig represents incremental-updater settings
type UpdaterConfig struct {
	MaxConcurrentUpdates int           `yaml:"max_concurrent_updates"`
	UpdateTimeout        time.Duration `yaml:"update_timeout"`
}

// IOConfig represents I/O optimizer settings
type IOConfig struct {
	MaxConcurrentReads int           `yaml:"max_concurrent_reads"`
	MaxQueueSize       int           `yaml:"max_queue_size"`
	BatchWindow        time.Duration `yaml:"batch_window"`
	PreloadCacheSize   int           `yaml:"preload_cache_size"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
}

// CacheConfig represents context-cache settings
type CacheConfig struct {
	MaxEntries int   `yaml:"max_entries"`
	MaxBytes   int64 `yaml:"max_bytes"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "info",
			LogFile:  "",
		},
		Analyzer: AnalyzerConfig{
			Extensions: []string{".ts", ".tsx", ".js", ".jsx", ".mjs"},
			IgnorePatterns: []string{
				"**/*.test.*",
				"**/*.spec.*",
				"**/node_modules/**",
				"**/.git/**",
				"**/dist/**",
				"**/build/**",
			},
			ExcludeExternal: true,
			MaxDepth:        50,
		},
		Updater: UpdaterConfig{
			MaxConcurrentUpdates: 5,
			UpdateTimeout:        10 * time.Second,
		},
		IO: IOConfig{
			MaxConcurrentReads: 10,
			MaxQueueSize:       1000,
			BatchWindow:        50 * time.Millisecond,
			PreloadCacheSize:   100,
			MaxRetries:         3,
			RetryDelay:         time.Second,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			MaxBytes:   1024 * 1024, // 1 MiB
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   false,
				Port:      9090,
				Path:      "/metrics",
				Namespace: "contextfs",
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

// LoadFromEnv loads configuration overrides from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("CONTEXTFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("CONTEXTFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	// Analyzer settings
	if val := os.Getenv("CONTEXTFS_EXTENSIONS"); val != "" {
		c.Analyzer.Extensions = splitList(val)
	}
	if val := os.Getenv("CONTEXTFS_IGNORE_PATTERNS"); val != "" {
		c.Analyzer.IgnorePatterns = splitList(val)
	}
	if val := os.Getenv("CONTEXTFS_EXCLUDE_EXTERNAL"); val != "" {
		c.Analyzer.ExcludeExternal = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CONTEXTFS_MAX_DEPTH"); val != "" {
		if depth, err := strconv.Atoi(val); err == nil {
			c.Analyzer.MaxDepth = depth
		}
	}

	// Updater settings
	if val := os.Getenv("CONTEXTFS_MAX_CONCURRENT_UPDATES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Updater.MaxConcurrentUpdates = n
		}
	}
	if val := os.Getenv("CONTEXTFS_UPDATE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Updater.UpdateTimeout = d
		}
	}

	// IO settings
	if val := os.Getenv("CONTEXTFS_MAX_CONCURRENT_READS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.IO.MaxConcurrentReads = n
		}
	}
	if val := os.Getenv("CONTEXTFS_MAX_QUEUE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.IO.MaxQueueSize = n
		}
	}
	if val := os.Getenv("CONTEXTFS_BATCH_WINDOW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.IO.BatchWindow = d
		}
	}
	if val := os.Getenv("CONTEXTFS_PRELOAD_CACHE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.IO.PreloadCacheSize = n
		}
	}
	if val := os.Getenv("CONTEXTFS_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.IO.MaxRetries = n
		}
	}
	if val := os.Getenv("CONTEXTFS_RETRY_DELAY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.IO.RetryDelay = d
		}
	}

	// Cache settings
	if val := os.Getenv("CONTEXTFS_CACHE_MAX_ENTRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxEntries = n
		}
	}
	if val := os.Getenv("CONTEXTFS_CACHE_MAX_BYTES"); val != "" {
		if size, err := ParseSize(val); err == nil {
			c.Cache.MaxBytes = size
		}
	}

	// Metrics settings
	if val := os.Getenv("CONTEXTFS_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CONTEXTFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.Metrics.Port = port
		}
	}

	return nil
}

// Validate checks configuration for invalid values
func (c *Configuration) Validate() error {
	if len(c.Analyzer.Extensions) == 0 {
		return fmt.Errorf("analyzer.extensions cannot be empty")
	}
	for _, ext := range c.Analyzer.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("analyzer extension %q must start with a dot", ext)
		}
	}
	if c.Analyzer.MaxDepth <= 0 {
		return fmt.Errorf("analyzer.max_depth must be positive, got %d", c.Analyzer.MaxDepth)
	}
	if c.Updater.MaxConcurrentUpdates <= 0 {
		return fmt.Errorf("updater.max_concurrent_updates must be positive, got %d", c.Updater.MaxConcurrentUpdates)
	}
	if c.Updater.UpdateTimeout <= 0 {
		return fmt.Errorf("updater.update_timeout must be positive, got %v", c.Updater.UpdateTimeout)
	}
	if c.IO.MaxConcurrentReads <= 0 {
		return fmt.Errorf("io.max_concurrent_reads must be positive, got %d", c.IO.MaxConcurrentReads)
	}
	if c.IO.MaxQueueSize <= 0 {
		return fmt.Errorf("io.max_queue_size must be positive, got %d", c.IO.MaxQueueSize)
	}
	if c.IO.BatchWindow < 0 {
		return fmt.Errorf("io.batch_window cannot be negative, got %v", c.IO.BatchWindow)
	}
	if c.IO.PreloadCacheSize < 0 {
		return fmt.Errorf("io.preload_cache_size cannot be negative, got %d", c.IO.PreloadCacheSize)
	}
	if c.IO.MaxRetries < 0 {
		return fmt.Errorf("io.max_retries cannot be negative, got %d", c.IO.MaxRetries)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache.max_bytes must be positive, got %d", c.Cache.MaxBytes)
	}
	if c.Monitoring.Metrics.Enabled {
		if c.Monitoring.Metrics.Port <= 0 || c.Monitoring.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port out of range: %d", c.Monitoring.Metrics.Port)
		}
	}
	return nil
}

// Load builds the effective configuration: defaults, then the optional YAML
// file, then environment overrides, then validation.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()

	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ParseSize parses human-readable size strings like "512KB", "1MB", "2GB"
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative: %d", value)
	}

	return value * multiplier, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
