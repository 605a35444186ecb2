package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"codejudge/internal/judge/manager"
	"codejudge/pkg/utils/logger"
)

const defaultConfigPath = "configs/worker_manager.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	langs, err := appCfg.Manager.languages()
	if err != nil {
		logger.Error(context.Background(), "invalid language list", zap.Error(err))
		return
	}

	m, err := manager.New(manager.Config{
		Languages: langs,
		Launcher: &manager.ExecLauncher{
			Binary: appCfg.Manager.WorkerBinary,
			Args:   appCfg.Manager.WorkerArgs,
		},
		MonitorInterval: appCfg.Manager.MonitorInterval,
		GracePeriod:     appCfg.Manager.GracePeriod,
	})
	if err != nil {
		logger.Error(context.Background(), "init manager failed", zap.Error(err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "worker manager started",
		zap.String("binary", appCfg.Manager.WorkerBinary),
		zap.Int("languages", len(langs)))

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(context.Background(), "manager stopped", zap.Error(err))
		return
	}
	logger.Info(context.Background(), "worker manager stopped")
}
