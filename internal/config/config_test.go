package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected configured port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.Proxy.Endpoints) != 3 {
		t.Errorf("expected default 3-endpoint chain, got %v", cfg.Proxy.Endpoints)
	}
	if cfg.Proxy.AccountsFile != "accounts.yaml" {
		t.Errorf("expected default accounts file, got %q", cfg.Proxy.AccountsFile)
	}
}

func TestLoadHonorsExplicitEndpoints(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "proxy:\n  endpoints: [\"production\"]\n  switchPreviewModel: false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Proxy.Endpoints) != 1 || cfg.Proxy.Endpoints[0] != "production" {
		t.Errorf("expected explicit single endpoint, got %v", cfg.Proxy.Endpoints)
	}
	if cfg.Proxy.SwitchPreviewModel {
		t.Errorf("expected switchPreviewModel false")
	}
}

func TestExampleConfigParses(t *testing.T) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExampleConfig), &cfg); err != nil {
		t.Fatalf("example config failed to parse: %v", err)
	}
}
