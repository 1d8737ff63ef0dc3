package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Jira.BaseURL != "https://issues.apache.org/jira" {
		t.Errorf("BaseURL = %q", cfg.Jira.BaseURL)
	}
	if cfg.Scraping.RateLimit.RequestsPerMinute != 30 {
		t.Errorf("RequestsPerMinute = %d, want 30", cfg.Scraping.RateLimit.RequestsPerMinute)
	}
	if cfg.Scraping.RateLimit.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.Scraping.RateLimit.RetryAttempts)
	}
	if cfg.Scraping.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.Scraping.BatchSize)
	}
	if cfg.Checkpointing.CheckpointEvery != 10 {
		t.Errorf("CheckpointEvery = %d, want 10", cfg.Checkpointing.CheckpointEvery)
	}
	if !cfg.Scraping.Features.FetchComments {
		t.Error("FetchComments default = false, want true")
	}
	if !cfg.Transformer.Enabled {
		t.Error("Transformer.Enabled default = false, want true")
	}
	if cfg.Cache.RedisAddr != "" {
		t.Errorf("RedisAddr default = %q, want empty (disabled)", cfg.Cache.RedisAddr)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
jira:
  base_url: https://jira.example.com
  projects:
    - name: KAFKA
      max_issues: 150
    - name: SPARK
scraping:
  rate_limit:
    requests_per_minute: 10
  batch_size: 25
checkpointing:
  db_path: /tmp/test.db
  checkpoint_every: 5
cache:
  redis_addr: localhost:6379
  ttl_minutes: 15
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Jira.BaseURL != "https://jira.example.com" {
		t.Errorf("BaseURL = %q", cfg.Jira.BaseURL)
	}
	if len(cfg.Jira.Projects) != 2 {
		t.Fatalf("Projects = %d, want 2", len(cfg.Jira.Projects))
	}
	if cfg.Jira.Projects[0].Name != "KAFKA" || cfg.Jira.Projects[0].MaxIssues != 150 {
		t.Errorf("Projects[0] = %+v", cfg.Jira.Projects[0])
	}
	if cfg.Jira.Projects[1].MaxIssues != 0 {
		t.Errorf("Projects[1].MaxIssues = %d, want 0 (unlimited)", cfg.Jira.Projects[1].MaxIssues)
	}
	if cfg.Scraping.RateLimit.RequestsPerMinute != 10 {
		t.Errorf("RequestsPerMinute = %d, want 10", cfg.Scraping.RateLimit.RequestsPerMinute)
	}
	// Unset keys keep their defaults.
	if cfg.Scraping.RateLimit.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want default 3", cfg.Scraping.RateLimit.RetryAttempts)
	}
	if cfg.Cache.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.Cache.RedisAddr)
	}
	if got := cfg.CacheTTL().Minutes(); got != 15 {
		t.Errorf("CacheTTL = %v minutes, want 15", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load(absent file) expected error, got nil")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.Jira.BaseURL = " " }},
		{"unnamed project", func(c *Config) { c.Jira.Projects = []ProjectConfig{{Name: ""}} }},
		{"zero rate limit", func(c *Config) { c.Scraping.RateLimit.RequestsPerMinute = 0 }},
		{"zero retry attempts", func(c *Config) { c.Scraping.RateLimit.RetryAttempts = 0 }},
		{"backoff factor below one", func(c *Config) { c.Scraping.RateLimit.BackoffFactor = 0.5 }},
		{"zero batch size", func(c *Config) { c.Scraping.BatchSize = 0 }},
		{"empty db path", func(c *Config) { c.Checkpointing.DBPath = "" }},
		{"zero checkpoint interval", func(c *Config) { c.Checkpointing.CheckpointEvery = 0 }},
		{"cache enabled without ttl", func(c *Config) { c.Cache.RedisAddr = "localhost:6379"; c.Cache.TTLMinutes = 0 }},
		{"empty output directory", func(c *Config) { c.Output.Directory = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error, got nil")
			}
		})
	}
}
