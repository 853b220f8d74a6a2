package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port            int   `yaml:"port"`
	MaxArchiveSize  int64 `yaml:"max_archive_size"`  // bytes
	MaxManifestSize int64 `yaml:"max_manifest_size"` // bytes
	RateLimit       int   `yaml:"rate_limit"`        // submissions per window per key
	RateWindowSecs  int   `yaml:"rate_window_secs"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type BatchConfig struct {
	WorkDir string `yaml:"work_dir"` // root of per-job working directories
	Workers int    `yaml:"workers"`  // concurrent batch jobs
}

type BillingConfig struct {
	UnitPriceCents int64 `yaml:"unit_price_cents"` // price per converted document
}

type ComposerConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type RetentionConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Batch     BatchConfig     `yaml:"batch"`
	Billing   BillingConfig   `yaml:"billing"`
	Composer  ComposerConfig  `yaml:"composer"`
	Retention RetentionConfig `yaml:"retention"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxArchiveSize <= 0 {
		cfg.Server.MaxArchiveSize = 500 << 20 // 500MB
	}
	if cfg.Server.MaxManifestSize <= 0 {
		cfg.Server.MaxManifestSize = 10 << 20 // 10MB
	}
	if cfg.Server.RateLimit <= 0 {
		cfg.Server.RateLimit = 30
	}
	if cfg.Server.RateWindowSecs <= 0 {
		cfg.Server.RateWindowSecs = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Batch.WorkDir == "" {
		cfg.Batch.WorkDir = os.TempDir()
	}
	if cfg.Batch.Workers <= 0 {
		cfg.Batch.Workers = 4
	}
	if cfg.Billing.UnitPriceCents <= 0 {
		cfg.Billing.UnitPriceCents = 20
	}
	if cfg.Composer.Timeout <= 0 {
		cfg.Composer.Timeout = 60 * time.Second
	}
	if cfg.Retention.Interval <= 0 {
		cfg.Retention.Interval = time.Hour
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if !dev && cfg.Composer.BaseURL == "" {
		return nil, errors.New("composer.base_url is required outside dev mode")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
