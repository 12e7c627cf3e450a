package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/cache"
	"github.com/josh-kwaku/roomlink-settlements/internal/commission"
	"github.com/josh-kwaku/roomlink-settlements/internal/config"
	"github.com/josh-kwaku/roomlink-settlements/internal/gateway"
	"github.com/josh-kwaku/roomlink-settlements/internal/handler"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
	"github.com/josh-kwaku/roomlink-settlements/internal/notify"
	"github.com/josh-kwaku/roomlink-settlements/internal/repository"
	"github.com/josh-kwaku/roomlink-settlements/internal/router"
	"github.com/josh-kwaku/roomlink-settlements/internal/scheduler"
	"github.com/josh-kwaku/roomlink-settlements/internal/service"
	"github.com/josh-kwaku/roomlink-settlements/internal/service/reconciliation"
	"github.com/josh-kwaku/roomlink-settlements/internal/service/settlement"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Init("roomlink-settlements", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	systemUser, err := uuid.Parse(cfg.SystemUserID)
	if err != nil {
		return fmt.Errorf("SYSTEM_USER_ID: %w", err)
	}

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		ConnectAttempts:  cfg.DBConnectAttempts,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	// A nil cache is a no-op; the service reads straight from Postgres.
	var readCache *cache.ReadCache
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		readCache = cache.NewReadCache(client, "roomlink", time.Duration(cfg.CacheTTLS)*time.Second)
		defer readCache.Close()
		logger.Info("read cache enabled", "ttl_s", cfg.CacheTTLS)
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kn, err := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		defer kn.Close()
		notifier = kn
		logger.Info("kafka notifications enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	gw := gateway.NewClient(gateway.Config{
		BaseURL:           cfg.GatewayBaseURL,
		APIKey:            cfg.GatewayAPIKey,
		Timeout:           time.Duration(cfg.GatewayTimeoutS) * time.Second,
		ChargeCallbackURL: cfg.ChargeCallbackURL,
		TransferResultURL: cfg.TransferResultURL,
	})

	users := repository.NewUserRepository(db)
	catalog := repository.NewCatalogRepository(db)
	recRepo := repository.NewReconciliationRepository(db)
	settlementRepo := repository.NewSettlementRepository(db)
	eventRepo := repository.NewSettlementEventRepository(db)
	callbacks := repository.NewGatewayCallbackRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	recSvc := reconciliation.NewService(
		recRepo, settlementRepo, catalog, gw,
		commission.NewPolicy(cfg.DefaultCommissionPct, cfg.TaxPct),
		notifier, readCache, db,
		reconciliation.Options{VerifyWithGateway: cfg.VerifyWithGateway},
	)
	settleSvc := settlement.NewService(
		settlementRepo, recRepo, eventRepo, catalog, gw,
		notifier, readCache, db, systemUser,
	)

	processor := service.NewCallbackProcessor(
		callbacks, catalog, recSvc, settleSvc, logger,
		time.Duration(cfg.WebhookPollMS)*time.Millisecond, cfg.WebhookBatchSize,
	)
	go processor.Start(ctx)

	sched := scheduler.New(logger)
	if err := sched.AddAutoSettle(cfg.AutoSettleCron, settleSvc); err != nil {
		return err
	}
	if err := sched.AddIdempotencyCleanup(cfg.IdempotencyCleanup, idempotency); err != nil {
		return err
	}
	sched.Start()

	var cachePinger interface{ Ping(context.Context) error }
	if readCache != nil {
		cachePinger = readCache
	}

	mux := router.New(router.Handlers{
		Auth:            handler.NewAuthHandler(users, cfg.JWTSecret, time.Duration(cfg.JWTExpiryH)*time.Hour),
		Health:          handler.NewHealthHandler(db, cachePinger),
		Settlements:     handler.NewSettlementHandler(settleSvc),
		Reconciliations: handler.NewReconciliationHandler(recSvc),
		Earnings:        handler.NewEarningsHandler(recSvc),
		Charges:         handler.NewChargeHandler(recSvc),
		Webhooks:        handler.NewWebhookHandler(callbacks, cfg.WebhookSecret),
	}, idempotency, router.Options{
		JWTSecret:      cfg.JWTSecret,
		IdempotencyTTL: time.Duration(cfg.IdempotencyTTLH) * time.Hour,
		Logger:         logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Duration(cfg.GatewayTimeoutS)*time.Second + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
