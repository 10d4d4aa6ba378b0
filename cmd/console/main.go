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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/devflow-orchestrator/internal/approval"
	"github.com/xela07ax/devflow-orchestrator/internal/console/handler"
	"github.com/xela07ax/devflow-orchestrator/internal/console/server"
	"github.com/xela07ax/devflow-orchestrator/internal/console/service"
	"github.com/xela07ax/devflow-orchestrator/internal/infra"
	"github.com/xela07ax/devflow-orchestrator/internal/infra/auth"
	"github.com/xela07ax/devflow-orchestrator/internal/repository/postgres"
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

	// 2. Инициализация ресурсов
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pgRepo, err := postgres.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer pgRepo.Close()
	if err := pgRepo.Ping(ctx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancel()

	// 3. Ключи RS256: консоль и подписывает, и проверяет
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("private key load failed", zap.Error(err))
	}
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("public key load failed", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// 4. Инициализация слоев (Dependency Injection)
	protocol := approval.NewProtocol(pgRepo, logger)

	authService := service.NewAuthService(pgRepo, privKey, cfg.Auth.TokenTTL)
	policyService := service.NewPolicyService(pgRepo, rdb)
	approvalService := service.NewApprovalService(pgRepo, protocol, rdb, logger)
	auditService := service.NewAuditService(pgRepo)
	dashService := service.NewDashboardService(pgRepo)

	consoleSrv := server.NewConsoleServer(
		cfg,
		logger,
		validator,
		handler.NewAuthHandler(authService),
		handler.NewPolicyHandler(policyService),
		handler.NewApprovalHandler(approvalService),
		handler.NewDashboardHandler(dashService),
		handler.NewAuditHandler(auditService),
	)

	// 5. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console API stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}
