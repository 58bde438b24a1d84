package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFileYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", `
account:
  currency: USD
gateway:
  calls_per_minute: 120
  max_retries: 5
ledger:
  db_path: /tmp/test.db
  stale_after: 2h
log_level: debug
`)

	cfg, err := LoadFromFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "USD", cfg.Account.Currency)
	assert.Equal(t, 120, cfg.Gateway.CallsPerMinute)
	assert.Equal(t, 5, cfg.Gateway.MaxRetries)
	assert.Equal(t, "/tmp/test.db", cfg.Ledger.DBPath)
	assert.Equal(t, "2h", cfg.Ledger.StaleAfter)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched sections keep their defaults.
	assert.True(t, cfg.Reconcile.Enabled)
}

func TestLoadFromFileJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{
		"account": {"currency": "USDT"},
		"gateway": {"calls_per_minute": 30, "max_retries": 2},
		"ledger": {"db_path": "./x.db"}
	}`)

	cfg, err := LoadFromFile(path)
	assert.NoError(t, err)
	assert.Equal(t, 30, cfg.Gateway.CallsPerMinute)
	assert.Equal(t, 2, cfg.Gateway.MaxRetries)
}

func TestLoadFromFileMissing(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile("/no/such/file.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing currency", func(c *Config) { c.Account.Currency = "" }},
		{"zero call budget", func(c *Config) { c.Gateway.CallsPerMinute = 0 }},
		{"zero retries", func(c *Config) { c.Gateway.MaxRetries = 0 }},
		{"missing db path", func(c *Config) { c.Ledger.DBPath = "" }},
		{"bad duration", func(c *Config) { c.Gateway.MaxWait = "soon" }},
		{"monitor without addr", func(c *Config) { c.Monitor.Enabled = true; c.Monitor.Addr = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			assert.NoError(t, cfg.Validate())
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAccountLive(t *testing.T) {
	t.Parallel()

	a := AccountConfig{Currency: "USDT"}
	assert.False(t, a.Live())

	a.APIKey = "k"
	assert.False(t, a.Live())

	a.APISecret = "s"
	assert.True(t, a.Live())
}

func TestDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2*time.Hour, Duration("2h", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("garbage", time.Minute))
}
