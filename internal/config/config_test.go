package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()

	if err := validateConfig(cfg); err != nil {
		t.Fatalf("Default configuration is invalid: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Security.RateLimit.RequestsPerMinute != 60 || cfg.Security.RateLimit.BurstSize != 10 {
		t.Errorf("Rate limit defaults = (%d, %d), want (60, 10)",
			cfg.Security.RateLimit.RequestsPerMinute, cfg.Security.RateLimit.BurstSize)
	}
	if cfg.Security.RateLimit.StoreTimeout != 2*time.Second {
		t.Errorf("StoreTimeout = %v, want 2s", cfg.Security.RateLimit.StoreTimeout)
	}
	if cfg.Security.Injection.Threshold != 0.8 {
		t.Errorf("Injection threshold = %f, want 0.8", cfg.Security.Injection.Threshold)
	}
	if cfg.Security.PII.Threshold != 0.75 {
		t.Errorf("PII threshold = %f, want 0.75", cfg.Security.PII.Threshold)
	}
	if cfg.Security.MaxPromptLength != 4000 {
		t.Errorf("MaxPromptLength = %d, want 4000", cfg.Security.MaxPromptLength)
	}
	if cfg.Backend.Type != "ollama" {
		t.Errorf("Backend type = %s, want ollama", cfg.Backend.Type)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Defaults", func(c *Config) {}, false},
		{"ZeroPort", func(c *Config) { c.Server.Port = 0 }, true},
		{"PortTooHigh", func(c *Config) { c.Server.Port = 70000 }, true},
		{"ZeroRequestsPerMinute", func(c *Config) { c.Security.RateLimit.RequestsPerMinute = 0 }, true},
		{"ZeroBurst", func(c *Config) { c.Security.RateLimit.BurstSize = 0 }, true},
		{"InjectionThresholdAboveOne", func(c *Config) { c.Security.Injection.Threshold = 1.5 }, true},
		{"NegativePIIThreshold", func(c *Config) { c.Security.PII.Threshold = -0.1 }, true},
		{"PromptLengthTooSmall", func(c *Config) { c.Security.MaxPromptLength = 50 }, true},
		{"UnknownBackend", func(c *Config) { c.Backend.Type = "bedrock" }, true},
		{"AnthropicBackend", func(c *Config) { c.Backend.Type = "anthropic" }, false},
		{"BadLogLevel", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"BadLogFormat", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := GetDefaults()
			tc.mutate(cfg)

			err := validateConfig(cfg)
			if tc.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9090
security:
  rate_limit:
    requests_per_minute: 120
    burst_size: 20
backend:
  type: openai
  model: gpt-4
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("Writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Security.RateLimit.RequestsPerMinute != 120 {
		t.Errorf("RequestsPerMinute = %d, want 120", cfg.Security.RateLimit.RequestsPerMinute)
	}
	if cfg.Backend.Type != "openai" || cfg.Backend.Model != "gpt-4" {
		t.Errorf("Backend = (%s, %s), want (openai, gpt-4)", cfg.Backend.Type, cfg.Backend.Model)
	}

	// Fields absent from the file keep their defaults
	if cfg.Security.MaxPromptLength != 4000 {
		t.Errorf("MaxPromptLength = %d, want default 4000", cfg.Security.MaxPromptLength)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
backend:
  type: unsupported
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("Writing config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted an unsupported backend type")
	}
}
