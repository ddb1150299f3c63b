package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port     int `yaml:"port"`
	MetaPort int `yaml:"meta_port"` // /health and /metrics
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AppConfig identifies the application this deployment serves. One
// deployment reconciles purchases for exactly one app.
type AppConfig struct {
	ID       string `yaml:"id"`
	BundleID string `yaml:"bundle_id"`    // App Store bundle id
	Package  string `yaml:"package_name"` // Play Store package name
}

type AppleConfig struct {
	IssuerID      string `yaml:"issuer_id"`
	KeyID         string `yaml:"key_id"`
	PrivateKey    string `yaml:"private_key"`      // PEM, inline
	PrivateKeyEnv string `yaml:"private_key_env"`  // or env var holding the PEM
	Sandbox       bool   `yaml:"sandbox"`          // force sandbox endpoint
}

type GoogleConfig struct {
	CredentialsJSON string `yaml:"credentials_json"`     // service account key, inline
	CredentialsEnv  string `yaml:"credentials_json_env"` // or env var holding it
}

type WebhookConfig struct {
	URL            string        `yaml:"url"`    // empty disables delivery
	Secret         string        `yaml:"secret"` // HMAC signing key
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Workers        int           `yaml:"workers"`
}

type SweeperConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Lookahead time.Duration `yaml:"lookahead"` // expiring-soon window
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	App      AppConfig      `yaml:"app"`
	Apple    AppleConfig    `yaml:"apple"`
	Google   GoogleConfig   `yaml:"google"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string = ""
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.App.ID == "" {
		return nil, errors.New("app.id is required")
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Webhook.URL != "" && cfg.Webhook.Secret == "" {
		return nil, errors.New("webhook.secret is required when webhook.url is set")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetaPort <= 0 {
		cfg.Server.MetaPort = 9090
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 3
	}
	if cfg.Webhook.AttemptTimeout <= 0 {
		cfg.Webhook.AttemptTimeout = 30 * time.Second
	}
	if cfg.Webhook.Workers <= 0 {
		cfg.Webhook.Workers = 4
	}
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = 5 * time.Minute
	}
	if cfg.Sweeper.Lookahead <= 0 {
		cfg.Sweeper.Lookahead = 24 * time.Hour
	}
}

// ApplePrivateKey resolves the signing key, preferring inline PEM.
func (c *AppleConfig) ApplePrivateKey() []byte {
	if c.PrivateKey != "" {
		return []byte(c.PrivateKey)
	}
	if c.PrivateKeyEnv != "" {
		return []byte(os.Getenv(c.PrivateKeyEnv))
	}
	return nil
}

// Credentials resolves the service account JSON, preferring inline.
func (c *GoogleConfig) Credentials() []byte {
	if c.CredentialsJSON != "" {
		return []byte(c.CredentialsJSON)
	}
	if c.CredentialsEnv != "" {
		return []byte(os.Getenv(c.CredentialsEnv))
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
