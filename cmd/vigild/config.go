// Package main provides the vigil daemon CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvClusterPassword carries the cluster basic-auth password. It never lives
// in the config file.
const EnvClusterPassword = "VIGIL_CLUSTER_PASSWORD"

// Config represents the daemon configuration.
type Config struct {
	Cluster   ClusterConfig   `yaml:"cluster"`
	API       APIConfig       `yaml:"api"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Settings  SettingsConfig  `yaml:"settings"`
	LogLevel  string          `yaml:"log_level"`
	Verbose   bool            `yaml:"-"` // set via CLI flag
}

// ClusterConfig contains cluster connection settings.
type ClusterConfig struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Timeout   string   `yaml:"timeout"` // Go duration string, default 30s
}

// APIConfig contains HTTP API settings.
type APIConfig struct {
	Address        string `yaml:"address"`
	ExecuteTimeout string `yaml:"execute_timeout"` // Go duration string
}

// SchedulerConfig contains scheduler settings.
type SchedulerConfig struct {
	PollInterval string `yaml:"poll_interval"` // Go duration string, default 1m
}

// SettingsConfig points at the hot-reloadable runtime settings file.
type SettingsConfig struct {
	Path string `yaml:"path"` // optional; defaults apply when empty
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if len(c.Cluster.Addresses) == 0 {
		c.Cluster.Addresses = []string{"http://localhost:9200"}
	}
	if c.API.Address == "" {
		c.API.Address = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := c.ClusterTimeout(); err != nil {
		return fmt.Errorf("cluster.timeout: %w", err)
	}
	if _, err := c.ExecuteTimeout(); err != nil {
		return fmt.Errorf("api.execute_timeout: %w", err)
	}
	if _, err := c.PollInterval(); err != nil {
		return fmt.Errorf("scheduler.poll_interval: %w", err)
	}
	return nil
}

// ClusterTimeout parses the cluster request timeout.
func (c *Config) ClusterTimeout() (time.Duration, error) {
	return parseDuration(c.Cluster.Timeout)
}

// ExecuteTimeout parses the execute endpoint timeout.
func (c *Config) ExecuteTimeout() (time.Duration, error) {
	return parseDuration(c.API.ExecuteTimeout)
}

// PollInterval parses the scheduler poll interval.
func (c *Config) PollInterval() (time.Duration, error) {
	return parseDuration(c.Scheduler.PollInterval)
}

// parseDuration parses an optional duration string; empty means "use the
// component default" and returns zero.
func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", raw)
	}
	return d, nil
}
