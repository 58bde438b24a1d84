package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Account   AccountConfig   `json:"account" yaml:"account"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
	Monitor   MonitorConfig   `json:"monitor" yaml:"monitor"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
}

// AccountConfig holds exchange credentials. Empty credentials select the
// gateway's simulated mode explicitly.
type AccountConfig struct {
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APISecret string `json:"api_secret,omitempty" yaml:"api_secret,omitempty"`
	Currency  string `json:"currency" yaml:"currency"`
}

// Live reports whether live credentials are configured.
func (a AccountConfig) Live() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// GatewayConfig controls the call discipline on outbound exchange calls.
type GatewayConfig struct {
	CallsPerMinute int    `json:"calls_per_minute" yaml:"calls_per_minute"`
	Burst          int    `json:"burst,omitempty" yaml:"burst,omitempty"`
	FailFast       bool   `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`
	MaxWait        string `json:"max_wait,omitempty" yaml:"max_wait,omitempty"`
	MaxRetries     int    `json:"max_retries" yaml:"max_retries"`
	BaseDelay      string `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
	MaxDelay       string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	CallTimeout    string `json:"call_timeout,omitempty" yaml:"call_timeout,omitempty"`
}

// LedgerConfig controls event-log persistence and diagnosis.
type LedgerConfig struct {
	DBPath          string `json:"db_path" yaml:"db_path"`
	StaleAfter      string `json:"stale_after,omitempty" yaml:"stale_after,omitempty"`
	CheckpointEvery string `json:"checkpoint_every,omitempty" yaml:"checkpoint_every,omitempty"`
}

type ReconcileConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Interval string `json:"interval,omitempty" yaml:"interval,omitempty"`
}

type MonitorConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that would misbehave at
// runtime.
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Gateway.CallsPerMinute <= 0 {
		return fmt.Errorf("gateway.calls_per_minute must be positive")
	}
	if c.Gateway.MaxRetries <= 0 {
		return fmt.Errorf("gateway.max_retries must be positive")
	}
	if c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger.db_path is required")
	}
	for name, v := range map[string]string{
		"gateway.max_wait":        c.Gateway.MaxWait,
		"gateway.base_delay":      c.Gateway.BaseDelay,
		"gateway.max_delay":       c.Gateway.MaxDelay,
		"gateway.call_timeout":    c.Gateway.CallTimeout,
		"ledger.stale_after":      c.Ledger.StaleAfter,
		"ledger.checkpoint_every": c.Ledger.CheckpointEvery,
		"reconcile.interval":      c.Reconcile.Interval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		return fmt.Errorf("monitor.addr required when monitor is enabled")
	}
	return nil
}

// Duration parses a duration field, returning fallback for the empty
// string. Call Validate first; a malformed value falls back too.
func Duration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// Default returns a configuration with sensible defaults: simulated
// gateway, on-disk ledger, reconciliation and monitoring enabled.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Currency: "USDT",
		},
		Gateway: GatewayConfig{
			CallsPerMinute: 60,
			MaxRetries:     3,
			BaseDelay:      "250ms",
			MaxDelay:       "5s",
			CallTimeout:    "10s",
			MaxWait:        "10s",
		},
		Ledger: LedgerConfig{
			DBPath:          "./tradecore.db",
			StaleAfter:      "1h",
			CheckpointEvery: "5m",
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Interval: "1m",
		},
		Monitor: MonitorConfig{
			Enabled: true,
			Addr:    ":8686",
		},
		LogLevel: "info",
	}
}
