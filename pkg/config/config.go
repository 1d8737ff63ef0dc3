// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Jira          JiraConfig          `mapstructure:"jira"`
	Scraping      ScrapingConfig      `mapstructure:"scraping"`
	Checkpointing CheckpointingConfig `mapstructure:"checkpointing"`
	Transformer   TransformerConfig   `mapstructure:"transformer"`
	Output        OutputConfig        `mapstructure:"output"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// JiraConfig identifies the server and the projects to harvest.
type JiraConfig struct {
	BaseURL  string          `mapstructure:"base_url"`
	Fields   []string        `mapstructure:"fields"`
	Projects []ProjectConfig `mapstructure:"projects"`
}

// ProjectConfig is one project to harvest.
type ProjectConfig struct {
	Name      string `mapstructure:"name"`
	MaxIssues int    `mapstructure:"max_issues"`
}

// ScrapingConfig governs rate limiting, retries, and pagination.
type ScrapingConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	BatchSize int             `mapstructure:"batch_size"`
	Features  FeaturesConfig  `mapstructure:"features"`
}

// RateLimitConfig bounds request frequency and retry behavior.
type RateLimitConfig struct {
	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
	RetryAttempts     int     `mapstructure:"retry_attempts"`
	BackoffFactor     float64 `mapstructure:"backoff_factor"`
}

// FeaturesConfig toggles optional enrichment.
type FeaturesConfig struct {
	FetchComments bool `mapstructure:"fetch_comments"`
	MaxComments   int  `mapstructure:"max_comments"`
}

// CheckpointingConfig controls durable progress tracking.
type CheckpointingConfig struct {
	DBPath          string `mapstructure:"db_path"`
	CheckpointEvery int    `mapstructure:"checkpoint_every"`
}

// TransformerConfig controls document generation.
type TransformerConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cleaning CleaningConfig `mapstructure:"cleaning"`
}

// CleaningConfig sets text normalization limits.
type CleaningConfig struct {
	RemoveHTML           bool `mapstructure:"remove_html"`
	MaxDescriptionLength int  `mapstructure:"max_description_length"`
	MaxCommentLength     int  `mapstructure:"max_comment_length"`
}

// OutputConfig sets where JSONL files are written.
type OutputConfig struct {
	Directory string `mapstructure:"directory"`
}

// CacheConfig configures the optional Redis issue cache. An empty address
// disables caching.
type CacheConfig struct {
	RedisAddr  string `mapstructure:"redis_addr"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

// MetricsConfig configures the optional Prometheus endpoint. An empty
// address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JIRA_HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jira.base_url", "https://issues.apache.org/jira")
	v.SetDefault("jira.fields", []string{"summary", "description", "status", "priority", "issuetype", "created", "updated", "labels", "components", "assignee", "reporter", "comment"})
	v.SetDefault("scraping.rate_limit.requests_per_minute", 30)
	v.SetDefault("scraping.rate_limit.retry_attempts", 3)
	v.SetDefault("scraping.rate_limit.backoff_factor", 2.0)
	v.SetDefault("scraping.batch_size", 50)
	v.SetDefault("scraping.features.fetch_comments", true)
	v.SetDefault("scraping.features.max_comments", 20)
	v.SetDefault("checkpointing.db_path", "data/checkpoints.db")
	v.SetDefault("checkpointing.checkpoint_every", 10)
	v.SetDefault("transformer.enabled", true)
	v.SetDefault("transformer.cleaning.remove_html", true)
	v.SetDefault("transformer.cleaning.max_description_length", 5000)
	v.SetDefault("transformer.cleaning.max_comment_length", 2000)
	v.SetDefault("output.directory", "data/output")
	v.SetDefault("cache.ttl_minutes", 60)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Jira.BaseURL) == "" {
		return fmt.Errorf("jira.base_url must be set")
	}
	for i, project := range c.Jira.Projects {
		if strings.TrimSpace(project.Name) == "" {
			return fmt.Errorf("jira.projects[%d].name must be set", i)
		}
	}
	if c.Scraping.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("scraping.rate_limit.requests_per_minute must be > 0")
	}
	if c.Scraping.RateLimit.RetryAttempts <= 0 {
		return fmt.Errorf("scraping.rate_limit.retry_attempts must be > 0")
	}
	if c.Scraping.RateLimit.BackoffFactor < 1 {
		return fmt.Errorf("scraping.rate_limit.backoff_factor must be >= 1")
	}
	if c.Scraping.BatchSize <= 0 {
		return fmt.Errorf("scraping.batch_size must be > 0")
	}
	if c.Checkpointing.DBPath == "" {
		return fmt.Errorf("checkpointing.db_path must be set")
	}
	if c.Checkpointing.CheckpointEvery <= 0 {
		return fmt.Errorf("checkpointing.checkpoint_every must be > 0")
	}
	if c.Cache.RedisAddr != "" && c.Cache.TTLMinutes <= 0 {
		return fmt.Errorf("cache.ttl_minutes must be > 0 when cache is enabled")
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory must be set")
	}
	return nil
}

// CacheTTL converts the cache TTL config into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}
