// config.go - Configuration management for the hushpool wallet
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hushpool/hushpool/internal/prover"
)

// Config represents the application configuration
type Config struct {
	// Wallet settings
	Decimals     int `json:"decimals"`
	TreeCapacity int `json:"tree_capacity"`

	// File paths
	LedgerPath string `json:"ledger_path"`
	KeyDir     string `json:"key_dir"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Withdrawal throttling
	WithdrawBurst    int `json:"withdraw_burst"`
	WithdrawPerMin   int `json:"withdraw_per_min"`
	TimeoutSeconds   int `json:"timeout_seconds"`
	ProgressTickMsec int `json:"progress_tick_msec"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Decimals:         6,
		TreeCapacity:     prover.Capacity,
		LedgerPath:       "wallet.json",
		KeyDir:           "keys",
		LogLevel:         "info",
		LogFile:          "hushpool.log",
		WithdrawBurst:    3,
		WithdrawPerMin:   6,
		TimeoutSeconds:   300,
		ProgressTickMsec: 250,
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}

		return &config, nil
	}

	// Create default config and save it
	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Decimals < 0 || c.Decimals > 18 {
		return fmt.Errorf("decimals must be between 0 and 18")
	}
	// The spend circuit is compiled for a fixed tree depth; a node with
	// any other capacity would hand the prover paths it cannot use.
	if c.TreeCapacity != prover.Capacity {
		return fmt.Errorf("tree_capacity must be %d to match the spend circuit", prover.Capacity)
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger_path must be set")
	}
	if c.WithdrawBurst <= 0 {
		return fmt.Errorf("withdraw_burst must be positive")
	}
	if c.WithdrawPerMin <= 0 {
		return fmt.Errorf("withdraw_per_min must be positive")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if c.ProgressTickMsec <= 0 {
		return fmt.Errorf("progress_tick_msec must be positive")
	}
	return nil
}
