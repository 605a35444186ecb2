package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"codejudge/internal/judge/manager"
	"codejudge/internal/judge/model"
	"codejudge/pkg/utils/logger"
)

const defaultWorkerBinary = "judge-worker"

// ManagerConfig holds supervision settings.
type ManagerConfig struct {
	// WorkerBinary is the judge-worker executable launched per language.
	WorkerBinary string `yaml:"workerBinary"`

	// WorkerArgs are passed verbatim to every child, e.g. a -config flag.
	WorkerArgs []string `yaml:"workerArgs"`

	Languages       []string      `yaml:"languages"`
	MonitorInterval time.Duration `yaml:"monitorInterval"`
	GracePeriod     time.Duration `yaml:"gracePeriod"`
}

// AppConfig is the worker-manager configuration.
type AppConfig struct {
	Logger  logger.Config `yaml:"logger"`
	Manager ManagerConfig `yaml:"manager"`
}

type envOverrides struct {
	WorkerBinary string   `env:"WORKER_BINARY"`
	Languages    []string `env:"WORKER_LANGUAGES"`
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
	if overrides.WorkerBinary != "" {
		cfg.Manager.WorkerBinary = overrides.WorkerBinary
	}
	if len(overrides.Languages) > 0 {
		cfg.Manager.Languages = overrides.Languages
	}

	if cfg.Manager.WorkerBinary == "" {
		cfg.Manager.WorkerBinary = defaultWorkerBinary
	}
	if cfg.Manager.MonitorInterval == 0 {
		cfg.Manager.MonitorInterval = manager.DefaultMonitorInterval
	}
	if cfg.Manager.GracePeriod == 0 {
		cfg.Manager.GracePeriod = manager.DefaultGracePeriod
	}
	return &cfg, nil
}

func (c ManagerConfig) languages() ([]model.Language, error) {
	if len(c.Languages) == 0 {
		return model.Languages(), nil
	}
	langs := make([]model.Language, 0, len(c.Languages))
	for _, raw := range c.Languages {
		lang := model.Language(raw)
		if !lang.Valid() {
			return nil, fmt.Errorf("unsupported language: %s", raw)
		}
		langs = append(langs, lang)
	}
	return langs, nil
}
