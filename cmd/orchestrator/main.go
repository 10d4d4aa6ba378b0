package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/devflow-orchestrator/internal/agent"
	"github.com/xela07ax/devflow-orchestrator/internal/approval"
	"github.com/xela07ax/devflow-orchestrator/internal/audit"
	"github.com/xela07ax/devflow-orchestrator/internal/infra"
	"github.com/xela07ax/devflow-orchestrator/internal/infra/auth"
	"github.com/xela07ax/devflow-orchestrator/internal/orchestrator"
	"github.com/xela07ax/devflow-orchestrator/internal/policy"
	"github.com/xela07ax/devflow-orchestrator/internal/repository/postgres"
	"github.com/xela07ax/devflow-orchestrator/internal/server"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин.
	// При SIGTERM cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pgRepo, err := postgres.New(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer pgRepo.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := pgRepo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// 3. Аудит: диспетчер + хуки (лог, файл, БД, сигналы)
	auditor := audit.NewDispatcher(cfg.Orchestrator.AuditBufferSize, logger)
	auditor.RegisterHook(audit.NewZapHook(logger))
	auditor.RegisterHook(audit.NewStorageHook(pgRepo, cfg.Orchestrator.AuditBatchSize, cfg.Orchestrator.AuditFlushInterval))
	auditor.RegisterHook(audit.NewSignalHook(rdb, infra.RedisChanAuditSignal))
	if cfg.Orchestrator.AuditFilePath != "" {
		fileHook, err := audit.NewFileHook(cfg.Orchestrator.AuditFilePath)
		if err != nil {
			logger.Fatal("audit file hook init failed", zap.Error(err))
		}
		auditor.RegisterHook(fileHook)
	}
	auditor.Start()
	defer auditor.Stop()

	// 4. Политики: кэш-как-единственный-источник в Hot Path
	docCache := policy.NewDocCache(pgRepo, rdb, logger)
	if cfg.Policy.BootstrapPath != "" {
		seed, err := policy.LoadDocuments(cfg.Policy.BootstrapPath)
		if err != nil {
			logger.Fatal("policy bootstrap failed", zap.Error(err))
		}
		docCache.Seed(seed)
	}
	if err := docCache.Warmup(appCtx); err != nil {
		logger.Warn("initial policy warmup failed, cache may be stale", zap.Error(err))
	}
	go docCache.StartListener(appCtx, infra.RedisChanPolicyUpdate)

	engine := policy.NewEngine(docCache)

	// 5. Апрувы и специалисты
	protocol := approval.NewProtocol(pgRepo, logger)

	invoker := agent.NewReliabilityWrapper(&agent.StubInvoker{}, agent.ReliabilityConfig{
		CBMaxRequests: cfg.Orchestrator.CBMaxRequests,
		CBInterval:    cfg.Orchestrator.CBInterval,
		CBTimeout:     cfg.Orchestrator.CBTimeout,
		RateLimit:     cfg.Orchestrator.RateLimit,
		RateBurst:     cfg.Orchestrator.RateBurst,
		CallTimeout:   cfg.Orchestrator.CallTimeout,
	})
	registry := agent.DefaultRegistry(invoker)

	// 6. Метрики
	reg := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(reg)

	// 7. Сборка ядра
	core := orchestrator.NewCore(
		pgRepo,
		engine,
		protocol,
		auditor,
		registry,
		metrics,
		logger,
		orchestrator.Config{ApprovalTTL: cfg.Orchestrator.ApprovalTTL},
	)
	core.SetApprovalQueue(pgRepo)

	// Слушатель решений оператора (HITL)
	listener := orchestrator.NewDecisionListener(core, rdb, infra.RedisChanApprovalDecisions, logger)
	go listener.Listen(appCtx)

	// Продолжаем незавершенные прогоны после рестарта
	if err := core.ResumeAll(appCtx); err != nil {
		logger.Error("resume of active runs failed", zap.Error(err))
	}

	// 8. HTTP Server
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("public key load failed", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	runHandler := server.NewRunHandler(core, logger)
	api := server.NewRunServer(cfg, logger, validator, runHandler, reg)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("orchestrator started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("orchestrator stopping")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("orchestrator exited properly")
}
