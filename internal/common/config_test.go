package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestNewDefaultConfig_IsValid(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, 1, config.Coordinator.TotalNodes)
	assert.Equal(t, 0, config.Coordinator.NodeID)
	assert.Equal(t, "sqlite", config.Storage.Ledger)
	assert.Equal(t, "badger", config.Storage.Progress)
	assert.Equal(t, "auto", config.Crawler.FetchMode)
	assert.NotEmpty(t, config.Crawler.Seeds)
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	base := writeConfig(t, "base.toml", `
[coordinator]
total_nodes = 4
node_id = 1
max_retry_per_item = 5

[storage]
ledger = "postgres"

[storage.postgres]
dsn = "postgres://localhost/harvester"
`)
	override := writeConfig(t, "override.toml", `
[coordinator]
node_id = 3
incremental = true
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 4, config.Coordinator.TotalNodes)
	assert.Equal(t, 3, config.Coordinator.NodeID)
	assert.Equal(t, 5, config.Coordinator.MaxRetryPerItem)
	assert.True(t, config.Coordinator.Incremental)
	assert.Equal(t, "postgres", config.Storage.Ledger)
	require.NoError(t, config.Validate())
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "harvester.toml", `
[coordinator]
total_nodes = 2
`)
	t.Setenv("HARVESTER_TOTAL_NODES", "8")
	t.Setenv("HARVESTER_NODE_ID", "7")
	t.Setenv("HARVESTER_SEEDS", "https://a.example/x, https://b.example/y ,")
	t.Setenv("HARVESTER_CLAIM_TIMEOUT", "not-a-duration")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 8, config.Coordinator.TotalNodes)
	assert.Equal(t, 7, config.Coordinator.NodeID)
	assert.Equal(t, []string{"https://a.example/x", "https://b.example/y"}, config.Crawler.Seeds)
	assert.Equal(t, "1h", config.Coordinator.ClaimTimeout, "malformed duration must be ignored")
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	node, total, incremental := 2, 3, true

	ApplyFlagOverrides(config, FlagOverrides{
		NodeID:      &node,
		TotalNodes:  &total,
		Incremental: &incremental,
		FetchMode:   "static",
	})

	assert.Equal(t, 2, config.Coordinator.NodeID)
	assert.Equal(t, 3, config.Coordinator.TotalNodes)
	assert.True(t, config.Coordinator.Incremental)
	assert.Equal(t, "static", config.Crawler.FetchMode)
	assert.Equal(t, 1, config.Coordinator.MaxItemConcurrency, "unset flags leave config untouched")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"node id out of range", func(c *Config) { c.Coordinator.TotalNodes = 2; c.Coordinator.NodeID = 2 }},
		{"zero total nodes", func(c *Config) { c.Coordinator.TotalNodes = 0 }},
		{"zero item concurrency", func(c *Config) { c.Coordinator.MaxItemConcurrency = 0 }},
		{"negative retries", func(c *Config) { c.Coordinator.MaxRetryPerItem = -1 }},
		{"unknown ledger", func(c *Config) { c.Storage.Ledger = "redis" }},
		{"unknown progress store", func(c *Config) { c.Storage.Progress = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Ledger = "postgres" }},
		{"badger ledger with several nodes", func(c *Config) { c.Storage.Ledger = "badger"; c.Coordinator.TotalNodes = 2 }},
		{"unknown fetch mode", func(c *Config) { c.Crawler.FetchMode = "curl" }},
		{"bad duration", func(c *Config) { c.Coordinator.ClaimTimeout = "soon" }},
		{"bad cron", func(c *Config) { c.Schedule.Cron = "every day" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 90*time.Second, ParseDuration("90s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("nope", time.Minute))
}
