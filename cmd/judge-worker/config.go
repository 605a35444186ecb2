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
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/worker"
	"codejudge/pkg/utils/logger"
)

const (
	defaultStatusTTL  = time.Hour
	defaultFinalTopic = "submissions.status.final"
)

// WorkerConfig holds the per-process worker settings.
type WorkerConfig struct {
	Language    string        `yaml:"language"`
	PollTimeout time.Duration `yaml:"pollTimeout"`
}

// StatusConfig controls the queue-side status and result mirrors and the
// terminal-status event topic.
type StatusConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	FinalTopic string        `yaml:"finalTopic"`
}

// AppConfig is the judge-worker configuration.
type AppConfig struct {
	Logger   logger.Config        `yaml:"logger"`
	Database db.PostgreSQLConfig  `yaml:"database"`
	Redis    cache.RedisConfig    `yaml:"redis"`
	Kafka    mq.KafkaConfig       `yaml:"kafka"`
	Sandbox  sandbox.DockerConfig `yaml:"sandbox"`
	Worker   WorkerConfig         `yaml:"worker"`
	Status   StatusConfig         `yaml:"status"`
}

// envOverrides are deployment-level settings that take precedence over the
// config file. WORKER_LANGUAGE is how the manager routes each child to its
// queue.
type envOverrides struct {
	WorkerLanguage     string   `env:"WORKER_LANGUAGE"`
	DequeuePollSeconds int      `env:"DEQUEUE_POLL_SECONDS"`
	SandboxNetwork     string   `env:"SANDBOX_NETWORK"`
	DatabaseURL        string   `env:"DATABASE_URL"`
	RedisHost          string   `env:"REDIS_HOST"`
	RedisPort          string   `env:"REDIS_PORT"`
	KafkaBrokers       []string `env:"KAFKA_BROKERS"`
	StatusTTLSeconds   int      `env:"STATUS_TTL_SECONDS"`
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

	if cfg.Worker.Language == "" {
		return nil, fmt.Errorf("worker language is required (WORKER_LANGUAGE)")
	}
	if !model.Language(cfg.Worker.Language).Valid() {
		return nil, fmt.Errorf("unsupported worker language: %s", cfg.Worker.Language)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	applyRedisDefaults(&cfg.Redis)
	applySandboxDefaults(&cfg.Sandbox)
	if cfg.Worker.PollTimeout == 0 {
		cfg.Worker.PollTimeout = worker.DefaultPollTimeout
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
	if overrides.WorkerLanguage != "" {
		cfg.Worker.Language = overrides.WorkerLanguage
	}
	if overrides.DequeuePollSeconds > 0 {
		cfg.Worker.PollTimeout = time.Duration(overrides.DequeuePollSeconds) * time.Second
	}
	if overrides.SandboxNetwork != "" {
		cfg.Sandbox.NetworkMode = overrides.SandboxNetwork
	}
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
	if overrides.StatusTTLSeconds > 0 {
		cfg.Status.TTL = time.Duration(overrides.StatusTTLSeconds) * time.Second
	}
}

func applySandboxDefaults(cfg *sandbox.DockerConfig) {
	defaults := sandbox.DefaultDockerConfig()
	if cfg.NetworkMode == "" {
		cfg.NetworkMode = defaults.NetworkMode
	}
	if cfg.TmpfsSize == "" {
		cfg.TmpfsSize = defaults.TmpfsSize
	}
	if cfg.OpenFileLimit <= 0 {
		cfg.OpenFileLimit = defaults.OpenFileLimit
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
