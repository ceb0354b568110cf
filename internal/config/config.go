// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from config.yaml.
type Config struct {
	Project   string          `yaml:"project"`
	Store     StoreConfig     `yaml:"store"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Beads     BeadsConfig     `yaml:"beads"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// StoreConfig holds settings for the durable message store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig holds settings for the agent-facing MCP listener.
type GatewayConfig struct {
	Port int `yaml:"port"`
}

// DashboardConfig holds settings for the operator-facing HTTP server.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// BeadsConfig holds settings for the mediated bd issue-tracker CLI.
type BeadsConfig struct {
	Binary     string `yaml:"binary"`
	WorkDir    string `yaml:"workdir"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// NotifyConfig holds settings for offline notification delivery.
type NotifyConfig struct {
	Command    string      `yaml:"command"`     // shell command template for desktop alerts
	DigestCron string      `yaml:"digest_cron"` // 5-field cron for unread digests, empty disables
	Slack      SlackConfig `yaml:"slack"`
}

// SlackConfig holds Slack Web API credentials for offline push delivery.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{Project: "default"}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.Store.Path = filepath.Join(home, ".switchboard", "switchboard.db")
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 7420
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 7421
	}
	if c.Beads.Binary == "" {
		c.Beads.Binary = "bd"
	}
	if c.Beads.WorkDir == "" {
		c.Beads.WorkDir = "."
	}
	if c.Beads.TimeoutSec == 0 {
		c.Beads.TimeoutSec = 30
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Project == "" {
		errs = append(errs, "project is required")
	}
	if c.Gateway.Port == c.Dashboard.Port {
		errs = append(errs, "gateway and dashboard ports must differ")
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port out of range")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, "dashboard.port out of range")
	}
	if c.Beads.TimeoutSec < 0 {
		errs = append(errs, "beads.timeout_sec must be positive")
	}
	if c.Notify.Slack.Token != "" && c.Notify.Slack.Channel == "" {
		errs = append(errs, "notify.slack.channel is required when a token is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
