package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	assert.Equal(t, []string{".ts", ".tsx", ".js", ".jsx", ".mjs"}, cfg.Analyzer.Extensions)
	assert.Contains(t, cfg.Analyzer.IgnorePatterns, "**/node_modules/**")
	assert.True(t, cfg.Analyzer.ExcludeExternal)
	assert.Equal(t, 50, cfg.Analyzer.MaxDepth)
	assert.Equal(t, 5, cfg.Updater.MaxConcurrentUpdates)
	assert.Equal(t, 10*time.Second, cfg.Updater.UpdateTimeout)
	assert.Equal(t, 10, cfg.IO.MaxConcurrentReads)
	assert.Equal(t, 1000, cfg.IO.MaxQueueSize)
	assert.Equal(t, 50*time.Millisecond, cfg.IO.BatchWindow)
	assert.Equal(t, 100, cfg.IO.PreloadCacheSize)
	assert.Equal(t, 3, cfg.IO.MaxRetries)
	assert.Equal(t, time.Second, cfg.IO.RetryDelay)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, int64(1024*1024), cfg.Cache.MaxBytes)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := `
analyzer:
  extensions: [".ts", ".js"]
  max_depth: 10
updater:
  max_concurrent_updates: 2
  update_timeout: 5s
io:
  batch_window: 20ms
cache:
  max_entries: 64
  max_bytes: 65536
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromFile(file))

	assert.Equal(t, []string{".ts", ".js"}, cfg.Analyzer.Extensions)
	assert.Equal(t, 10, cfg.Analyzer.MaxDepth)
	assert.Equal(t, 2, cfg.Updater.MaxConcurrentUpdates)
	assert.Equal(t, 5*time.Second, cfg.Updater.UpdateTimeout)
	assert.Equal(t, 20*time.Millisecond, cfg.IO.BatchWindow)
	assert.Equal(t, 64, cfg.Cache.MaxEntries)
	assert.Equal(t, int64(65536), cfg.Cache.MaxBytes)
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := NewDefault()
	assert.Error(t, cfg.LoadFromFile("/nonexistent/config.yaml"))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONTEXTFS_EXTENSIONS", ".ts, .vue")
	t.Setenv("CONTEXTFS_MAX_CONCURRENT_UPDATES", "7")
	t.Setenv("CONTEXTFS_UPDATE_TIMEOUT", "3s")
	t.Setenv("CONTEXTFS_CACHE_MAX_BYTES", "2MB")
	t.Setenv("CONTEXTFS_EXCLUDE_EXTERNAL", "false")

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, []string{".ts", ".vue"}, cfg.Analyzer.Extensions)
	assert.Equal(t, 7, cfg.Updater.MaxConcurrentUpdates)
	assert.Equal(t, 3*time.Second, cfg.Updater.UpdateTimeout)
	assert.Equal(t, int64(2*1024*1024), cfg.Cache.MaxBytes)
	assert.False(t, cfg.Analyzer.ExcludeExternal)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"empty extensions", func(c *Configuration) { c.Analyzer.Extensions = nil }},
		{"extension without dot", func(c *Configuration) { c.Analyzer.Extensions = []string{"ts"} }},
		{"zero max depth", func(c *Configuration) { c.Analyzer.MaxDepth = 0 }},
		{"zero permits", func(c *Configuration) { c.Updater.MaxConcurrentUpdates = 0 }},
		{"zero timeout", func(c *Configuration) { c.Updater.UpdateTimeout = 0 }},
		{"zero reads", func(c *Configuration) { c.IO.MaxConcurrentReads = 0 }},
		{"zero queue", func(c *Configuration) { c.IO.MaxQueueSize = 0 }},
		{"negative window", func(c *Configuration) { c.IO.BatchWindow = -time.Second }},
		{"zero cache entries", func(c *Configuration) { c.Cache.MaxEntries = 0 }},
		{"zero cache bytes", func(c *Configuration) { c.Cache.MaxBytes = 0 }},
		{"bad metrics port", func(c *Configuration) {
			c.Monitoring.Metrics.Enabled = true
			c.Monitoring.Metrics.Port = -1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"512B", 512, false},
		{"4KB", 4096, false},
		{"1MB", 1024 * 1024, false},
		{"2GB", 2 * 1024 * 1024 * 1024, false},
		{"1mb", 1024 * 1024, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-5MB", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "ParseSize(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "ParseSize(%q)", tt.in)
		assert.Equal(t, tt.want, got, "ParseSize(%q)", tt.in)
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
}
