package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/mq"
	"codejudge/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStatusTTL       = time.Hour
	defaultFinalTopic      = "submissions.status.final"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
}

// StatusConfig controls the queue-side status and result mirrors and the
// terminal-status event topic.
type StatusConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	FinalTopic string        `yaml:"finalTopic"`
}

// AppConfig is the submit-service configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.PostgreSQLConfig `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	Auth     AuthConfig          `yaml:"auth"`
	Status   StatusConfig        `yaml:"status"`
}

// envOverrides are deployment-level settings that take precedence over the
// config file.
type envOverrides struct {
	DatabaseURL      string   `env:"DATABASE_URL"`
	RedisHost        string   `env:"REDIS_HOST"`
	RedisPort        string   `env:"REDIS_PORT"`
	KafkaBrokers     []string `env:"KAFKA_BROKERS"`
	JWTSecret        string   `env:"JWT_SECRET"`
	StatusTTLSeconds int      `env:"STATUS_TTL_SECONDS"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("parse env overrides failed: %w", err)
	}
	applyOverrides(&cfg, overrides)

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	applyRedisDefaults(&cfg.Redis)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	if cfg.Status.FinalTopic == "" {
		cfg.Status.FinalTopic = defaultFinalTopic
	}
	return &cfg, nil
}

func applyOverrides(cfg *AppConfig, overrides envOverrides) {
	if overrides.DatabaseURL != "" {
		cfg.Database.DSN = overrides.DatabaseURL
	}
	if overrides.RedisHost != "" {
		port := overrides.RedisPort
		if port == "" {
			port = "6379"
		}
		cfg.Redis.Addr = net.JoinHostPort(overrides.RedisHost, port)
	}
	if len(overrides.KafkaBrokers) > 0 {
		cfg.Kafka.Brokers = overrides.KafkaBrokers
	}
	if overrides.JWTSecret != "" {
		cfg.Auth.JWTSecret = overrides.JWTSecret
	}
	if overrides.StatusTTLSeconds > 0 {
		cfg.Status.TTL = time.Duration(overrides.StatusTTLSeconds) * time.Second
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
}
