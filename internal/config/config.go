// Package config loads and validates verifier configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Collectors CollectorsConfig `mapstructure:"collectors"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig governs job claiming and the per-job worker pool.
type SchedulerConfig struct {
	Workers         int `mapstructure:"workers"`
	ClaimIntervalMs int `mapstructure:"claim_interval_ms"`
	ItemRetries     int `mapstructure:"item_retries"`
}

// RateLimitConfig bounds outbound probe traffic.
type RateLimitConfig struct {
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
	MaxWaitSeconds int     `mapstructure:"max_wait_seconds"`
}

// CollectorsConfig configures the signal collectors.
type CollectorsConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	SearchEndpoint string `mapstructure:"search_endpoint"`
	WhoisServer    string `mapstructure:"whois_server"`
}

// DBConfig selects and configures the persistence backend.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig configures the distributed business lock.
type RedisConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Addr           string `mapstructure:"addr"`
	LockTTLSeconds int    `mapstructure:"lock_ttl_seconds"`
}

// PubSubConfig holds metadata for outcome event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VERIFIER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.claim_interval_ms", 1000)
	v.SetDefault("scheduler.item_retries", 2)
	v.SetDefault("rate_limit.rps", 5)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.max_wait_seconds", 30)
	v.SetDefault("collectors.timeout_seconds", 15)
	v.SetDefault("collectors.user_agent", "zzp-presence-verifier/1.0")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.lock_ttl_seconds", 60)
	v.SetDefault("pubsub.topic_name", "verification-outcomes")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.ItemRetries < 0 {
		return fmt.Errorf("scheduler.item_retries must be >= 0")
	}
	if c.Collectors.TimeoutSeconds <= 0 {
		return fmt.Errorf("collectors.timeout_seconds must be > 0")
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	default:
		return fmt.Errorf("db.provider must be memory or postgres, got %q", c.DB.Provider)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ClaimInterval returns the scheduler claim polling interval.
func (c Config) ClaimInterval() time.Duration {
	return time.Duration(c.Scheduler.ClaimIntervalMs) * time.Millisecond
}

// ProbeTimeout returns the per-collector probe budget.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Collectors.TimeoutSeconds) * time.Second
}

// RateLimitMaxWait returns the longest a worker may block on the limiter.
func (c Config) RateLimitMaxWait() time.Duration {
	return time.Duration(c.RateLimit.MaxWaitSeconds) * time.Second
}

// LockTTL returns the distributed lock expiry.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}
