package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	judgecache "codejudge/internal/judge/cache"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/dispatcher"
	"codejudge/internal/judge/evaluator"
	"codejudge/internal/judge/orchestrator"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/internal/judge/service"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		return fmt.Errorf("init minio: %w", err)
	}

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		return fmt.Errorf("init kafka: %w", err)
	}
	defer func() {
		_ = mqClient.Close()
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observer.NewPrometheus(registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	langs, err := profile.NewTable(appCfg.Languages)
	if err != nil {
		return fmt.Errorf("load language table: %w", err)
	}
	eng, err := engine.NewEngine(appCfg.Sandbox)
	if err != nil {
		return fmt.Errorf("init sandbox engine: %w", err)
	}
	langRunner, err := runner.NewRunner(eng, langs, appCfg.Judge.runnerConfig(), metrics)
	if err != nil {
		return fmt.Errorf("init runner: %w", err)
	}
	eval := evaluator.New(langRunner)

	submissions := repository.NewSubmissionRepository(mysqlDB)
	problems := repository.NewProblemRepository(mysqlDB, redisCache, appCfg.Judge.MetaTTL)
	solved := repository.NewSolvedRepository(mysqlDB)
	statuses := repository.NewStatusRepository(redisCache, appCfg.Judge.StatusTTL)
	cooldown := repository.NewCooldownRepository(redisCache, appCfg.Cooldown.Window)
	publisher := repository.NewMQStatusEventPublisher(mqClient, appCfg.Kafka.FinalTopic)

	packs := judgecache.NewDataPackCache(appCfg.DataCache, objStorage, redisCache)
	tests := judgecache.NewTestCaseLoader(problems, packs)

	notifier := service.NewNotifier(statuses, publisher, solved, metrics, appCfg.Judge.StatusTimeout)
	orch, err := orchestrator.New(submissions, tests, langRunner, eval, appCfg.Judge.orchestratorConfig(), notifier)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	owner, _ := os.Hostname()
	owner = owner + "/" + uuid.NewString()
	claimer, err := dispatcher.NewRedisClaimer(redisCache, owner, appCfg.Judge.ClaimTTL)
	if err != nil {
		return fmt.Errorf("init claimer: %w", err)
	}
	disp, err := dispatcher.New(orch, appCfg.Judge.dispatcherConfig(),
		dispatcher.WithClaimer(claimer), dispatcher.WithRecorder(metrics))
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}
	disp.Start()
	defer disp.Stop()

	judgeSvc, err := service.NewService(service.Config{
		Submissions:   submissions,
		Problems:      problems,
		Tests:         tests,
		Compiler:      langRunner,
		Evaluator:     eval,
		Dispatcher:    disp,
		Statuses:      statuses,
		Cooldown:      cooldown,
		Deferred:      mqClient,
		IntakeTopic:   appCfg.Kafka.IntakeTopic,
		MaxCodeBytes:  appCfg.Judge.MaxCodeBytes,
		Slots:         disp.Slots(),
		RunSlotWait:   appCfg.Judge.RunSlotWait,
		StatusTimeout: appCfg.Judge.StatusTimeout,
		RecoveryIdle:  appCfg.Judge.RecoveryIdle,
	})
	if err != nil {
		return fmt.Errorf("init judge service: %w", err)
	}

	recoveryCtx, stopRecovery := context.WithCancel(ctx)
	defer stopRecovery()
	go judgeSvc.RunRecovery(recoveryCtx, appCfg.Judge.RecoveryInterval, appCfg.Judge.RecoveryBatch)

	intake := service.NewIntake(judgeSvc, mqClient, appCfg.Kafka.poolRetry())
	for _, topic := range []string{appCfg.Kafka.IntakeTopic, appCfg.Kafka.RetryTopic} {
		if err := mqClient.Subscribe(ctx, topic, intake.HandleMessage, appCfg.Kafka.subscribeOptions()); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	if err := mqClient.Start(); err != nil {
		return fmt.Errorf("start kafka consumer: %w", err)
	}
	defer func() {
		_ = mqClient.Stop()
	}()

	judgeController := controller.NewJudgeController(judgeSvc, disp, controller.Options{
		WatchInterval: appCfg.Server.WatchInterval,
		WatchTimeout:  appCfg.Server.WatchTimeout,
	})
	auth := middleware.Auth(appCfg.Auth)
	httpServer := buildHTTPServer(appCfg.Server, appCfg.Metrics, registry, func(r routeRegistrar) {
		judgeController.RegisterRoutes(r, auth)
	})

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	health, err := startHealthServer(shutdownCtx, appCfg.GRPC, disp, errCh)
	if err != nil {
		return err
	}
	go func() {
		logger.Info(ctx, "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
	defer cancel()
	if health != nil {
		health.stop()
	}
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}
