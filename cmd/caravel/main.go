package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/caravel-erp/caravel-erp/internal/app"
	"github.com/caravel-erp/caravel-erp/internal/batches"
	"github.com/caravel-erp/caravel-erp/internal/branchstock"
	"github.com/caravel-erp/caravel-erp/internal/movements"
	"github.com/caravel-erp/caravel-erp/internal/orders/purchase"
	"github.com/caravel-erp/caravel-erp/internal/orders/sales"
	"github.com/caravel-erp/caravel-erp/internal/platform/cache"
	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/shared"
	"github.com/caravel-erp/caravel-erp/internal/transfers"
	"github.com/caravel-erp/caravel-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, picker cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	movementRepo := movements.NewRepository(pool)
	movementHandler := movements.NewHandler(logger, movementRepo)

	batchRepo := batches.NewRepository(pool)
	batchService := batches.NewService(batchRepo, auditLogger, idempotencyStore)
	batchHandler := batches.NewHandler(logger, batchService)

	stockCache := branchstock.NewCache(redisClient, cfg.CacheTTL)
	stockRepo := branchstock.NewRepository(pool)
	stockService := branchstock.NewService(stockRepo, stockCache, auditLogger)
	stockHandler := branchstock.NewHandler(logger, stockService)

	transferRepo := transfers.NewRepository(pool)
	transferService := transfers.NewService(transferRepo, auditLogger, stockService)
	transferHandler := transfers.NewHandler(logger, transferService)

	purchaseRepo := purchase.NewRepository(pool)
	purchaseService := purchase.NewService(purchaseRepo, auditLogger, idempotencyStore, stockService)
	purchaseHandler := purchase.NewHandler(logger, purchaseService)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, auditLogger, idempotencyStore, stockService)
	salesHandler := sales.NewHandler(logger, salesService)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		BatchHandler:    batchHandler,
		StockHandler:    stockHandler,
		MovementHandler: movementHandler,
		TransferHandler: transferHandler,
		PurchaseHandler: purchaseHandler,
		SalesHandler:    salesHandler,
		JobHandler:      jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
