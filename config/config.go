// Package config provides configuration management for the VPN broker.
// It handles loading, saving, and validating application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-broker/common"
)

// Config represents the broker configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// AuthRetryLimit is how many credential retries are allowed before a
	// session resolves to the error state.
	AuthRetryLimit int `yaml:"auth_retry_limit"`
	// StopGracePeriod is how long to wait for graceful subprocess
	// termination before killing it.
	StopGracePeriod time.Duration `yaml:"stop_grace_period"`
	// BackendTimeout bounds calls into the secret backend.
	BackendTimeout time.Duration `yaml:"backend_timeout"`
	// ShowNotifications enables desktop notifications for session events.
	ShowNotifications bool `yaml:"show_notifications"`
	// AutoReconnect automatically reconnects when the tunnel degrades.
	AutoReconnect bool `yaml:"auto_reconnect"`
	// HistoryKeep is how many finished sessions the history database retains.
	HistoryKeep int `yaml:"history_keep"`
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the default configuration.
// These are sensible defaults for most users.
func DefaultConfig() *Config {
	return &Config{
		AuthRetryLimit:    common.AuthRetryLimit,
		StopGracePeriod:   common.StopGracePeriod,
		BackendTimeout:    common.BackendTimeout,
		ShowNotifications: true,
		AutoReconnect:     true,
		HistoryKeep:       common.DefaultHistoryKeep,
		Debug:             false,
	}
}

// Load loads the configuration from the config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration from an explicit path.
func LoadFrom(configPath string) (*Config, error) {
	// If it doesn't exist, return default configuration
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(configPath); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	var config Config
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	config.validate()

	return &config, nil
}

// validate replaces out-of-range values with defaults.
func (c *Config) validate() {
	def := DefaultConfig()
	if c.AuthRetryLimit <= 0 {
		c.AuthRetryLimit = def.AuthRetryLimit
	}
	if c.StopGracePeriod <= 0 {
		c.StopGracePeriod = def.StopGracePeriod
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = def.BackendTimeout
	}
	if c.HistoryKeep <= 0 {
		c.HistoryKeep = def.HistoryKeep
	}
}

// Save saves the configuration to the default config file.
func (c *Config) Save() error {
	configPath, err := getConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to an explicit path.
func (c *Config) SaveTo(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing configuration: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}

	return nil
}

func getConfigPath() (string, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, common.ConfigFileName), nil
}
