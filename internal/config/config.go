// Package config loads the gateway's on-disk configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the root configuration document.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Proxy  ProxyConfig  `yaml:"proxy"`
}

type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"apiKey"`
}

type ProxyConfig struct {
	// Endpoints is the ordered list of upstream endpoint aliases to try,
	// e.g. ["sandbox-daily", "non-sandbox-daily", "production"].
	Endpoints []string `yaml:"endpoints"`
	// DefaultEndpoint names the endpoint used when Endpoints is empty.
	DefaultEndpoint string `yaml:"defaultEndpoint"`
	// SwitchPreviewModel enables the model-fallback-chain step of the
	// orchestrator.
	SwitchPreviewModel bool `yaml:"switchPreviewModel"`
	// DefaultProjectID is the last-resort upstream project id used when an
	// account has none on record; its use is logged rather than silent.
	DefaultProjectID string `yaml:"defaultProjectId"`
	// RequestTimeout bounds a single request's end-to-end duration; zero
	// means unbounded.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// AccountsFile points at the persisted account store (yaml or json5).
	AccountsFile string `yaml:"accountsFile"`
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8085
	}
	if len(c.Proxy.Endpoints) == 0 {
		if c.Proxy.DefaultEndpoint != "" {
			c.Proxy.Endpoints = []string{c.Proxy.DefaultEndpoint}
		} else {
			c.Proxy.Endpoints = []string{"sandbox-daily", "non-sandbox-daily", "production"}
		}
	}
	if c.Proxy.AccountsFile == "" {
		c.Proxy.AccountsFile = "accounts.yaml"
	}
}
