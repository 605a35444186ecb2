package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/mq"
	"codejudge/internal/judge/executor"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/queue"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/service"
	"codejudge/internal/judge/worker"
	"codejudge/pkg/utils/logger"
)

const defaultConfigPath = "configs/judge_worker.yaml"

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

	pg, err := db.NewPostgreSQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = pg.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	queueService, err := queue.NewService(redisCache, appCfg.Status.TTL)
	if err != nil {
		logger.Error(context.Background(), "init queue failed", zap.Error(err))
		return
	}

	var publisher repository.StatusEventPublisher
	if len(appCfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = producer.Close()
		}()
		publisher = repository.NewMQStatusEventPublisher(producer, appCfg.Status.FinalTopic)
	}

	submitService, err := service.NewSubmitService(service.Config{
		Submissions: repository.NewSubmissionRepository(pg),
		Challenges:  repository.NewChallengeRepository(pg, redisCache),
		Queue:       queueService,
		Publisher:   publisher,
	})
	if err != nil {
		logger.Error(context.Background(), "init submit service failed", zap.Error(err))
		return
	}

	runner, err := sandbox.NewDockerRunner(appCfg.Sandbox)
	if err != nil {
		logger.Error(context.Background(), "init sandbox failed", zap.Error(err))
		return
	}
	defer func() {
		_ = runner.Close()
	}()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = runner.Ping(pingCtx)
	cancelPing()
	if err != nil {
		logger.Error(context.Background(), "docker daemon unreachable", zap.Error(err))
		return
	}

	caseExecutor, err := executor.New(runner)
	if err != nil {
		logger.Error(context.Background(), "init executor failed", zap.Error(err))
		return
	}

	w, err := worker.New(worker.Config{
		Language:    model.Language(appCfg.Worker.Language),
		Queue:       queueService,
		Executor:    caseExecutor,
		Store:       submitService,
		PollTimeout: appCfg.Worker.PollTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init worker failed", zap.Error(err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "judge worker started",
		zap.String("language", appCfg.Worker.Language),
		zap.Duration("poll_timeout", appCfg.Worker.PollTimeout))

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(context.Background(), "worker stopped", zap.Error(err))
		return
	}
	logger.Info(context.Background(), "judge worker stopped")
}
