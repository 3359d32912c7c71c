// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// isolate points CONFIG_PATH at a missing file and runs from an empty
// directory so no stray config.yaml is picked up.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(ConfigPathEnvVar, filepath.Join(dir, "missing.yaml"))
	t.Setenv("JWT_SECRET", testSecret)
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Broker.Transport != "nats" {
		t.Errorf("Broker.Transport = %q, want nats", cfg.Broker.Transport)
	}
	if cfg.Broker.Router.RetryCount != 3 {
		t.Errorf("Router.RetryCount = %d, want 3", cfg.Broker.Router.RetryCount)
	}
	if cfg.Broker.Router.RetryInitialInterval != 2*time.Second {
		t.Errorf("Router.RetryInitialInterval = %v, want 2s", cfg.Broker.Router.RetryInitialInterval)
	}
	if cfg.Counter.FlushInterval != 10*time.Minute {
		t.Errorf("Counter.FlushInterval = %v, want 10m", cfg.Counter.FlushInterval)
	}
	if !cfg.Indexer.GlobalLock {
		t.Error("Indexer.GlobalLock should default to true")
	}
	if cfg.Indexer.Clanker.MaxAttempts != 3 {
		t.Errorf("Clanker.MaxAttempts = %d, want 3", cfg.Indexer.Clanker.MaxAttempts)
	}
}

func TestLoadDefaultsWithSecret(t *testing.T) {
	isolate(t)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Security.JWTSecret != testSecret {
		t.Error("JWT_SECRET not applied")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("BROKER_TRANSPORT", "memory")
	t.Setenv("COUNTER_FLUSH_INTERVAL", "90s")
	t.Setenv("INDEXER_GLOBAL_LOCK", "false")
	t.Setenv("HTTP_PORT", "9191")
	t.Setenv("NATS_MAX_DELIVER", "9")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Broker.Transport != "memory" {
		t.Errorf("Transport = %q, want memory", cfg.Broker.Transport)
	}
	if cfg.Counter.FlushInterval != 90*time.Second {
		t.Errorf("FlushInterval = %v, want 90s", cfg.Counter.FlushInterval)
	}
	if cfg.Indexer.GlobalLock {
		t.Error("GlobalLock = true, want false")
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Broker.NATS.MaxDeliver != 9 {
		t.Errorf("MaxDeliver = %d, want 9", cfg.Broker.NATS.MaxDeliver)
	}
}

func TestLoadYAMLFileThenEnv(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
outbox:
  relay_interval: 5s
  retention: 48h
notify:
  provider: knock
  api_key: sk_test_123
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Outbox.RelayInterval != 5*time.Second {
		t.Errorf("RelayInterval = %v, want 5s", cfg.Outbox.RelayInterval)
	}
	if cfg.Outbox.Retention != 48*time.Hour {
		t.Errorf("Retention = %v, want 48h", cfg.Outbox.Retention)
	}
	if cfg.Notify.Provider != "knock" || cfg.Notify.APIKey != "sk_test_123" {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, env should win over file", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing secret", func(c *Config) { c.Security.JWTSecret = "short" }, "JWT_SECRET"},
		{"auth none", func(c *Config) { c.Security.AuthMode = "none"; c.Security.JWTSecret = "" }, ""},
		{"bad transport", func(c *Config) { c.Broker.Transport = "kafka" }, "BROKER_TRANSPORT"},
		{"bad db scheme", func(c *Config) { c.Database.URL = "mysql://x/y" }, "DATABASE_URL"},
		{"amqp needs url", func(c *Config) { c.Broker.Transport = "amqp"; c.Broker.AMQP.URL = "http://rabbit" }, "AMQP_URL"},
		{"knock needs key", func(c *Config) { c.Notify.Provider = "knock" }, "KNOCK_API_KEY"},
		{"clanker needs url", func(c *Config) {
			c.Indexer.Clanker.Enabled = true
			c.Indexer.Clanker.BaseURL = "ftp://clanker"
		}, "CLANKER_URL"},
		{"retention shorter than grace", func(c *Config) { c.Outbox.Retention = time.Second }, "OUTBOX_RETENTION"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "HTTP_PORT"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
		{"dedup ttl", func(c *Config) { c.Broker.Router.DedupTTL = 0 }, "ROUTER_DEDUP_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Security.JWTSecret = testSecret
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
