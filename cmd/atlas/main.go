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

	"github.com/atlas-dms/atlas-dms/internal/app"
	"github.com/atlas-dms/atlas-dms/internal/booking"
	"github.com/atlas-dms/atlas-dms/internal/commission"
	"github.com/atlas-dms/atlas-dms/internal/ledger"
	"github.com/atlas-dms/atlas-dms/internal/observability"
	"github.com/atlas-dms/atlas-dms/internal/onaccount"
	"github.com/atlas-dms/atlas-dms/internal/platform/cache"
	"github.com/atlas-dms/atlas-dms/internal/platform/db"
	"github.com/atlas-dms/atlas-dms/internal/shared"
	"github.com/atlas-dms/atlas-dms/internal/vehicle"
	"github.com/atlas-dms/atlas-dms/jobs"
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
		// The statement cache degrades to direct reads without redis.
		logger.Warn("redis unavailable", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	txMode, err := db.ParseMode(cfg.TxMode)
	if err != nil {
		logger.Error("parse tx mode", slog.Any("error", err))
		os.Exit(1)
	}
	runner := db.NewRunner(pool, txMode, logger)
	locks := shared.NewKeyedLock()

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	metrics := observability.NewMetrics()

	statementCache := booking.NewStatementCache(redisClient, cfg.StatementCacheTTL)
	bookingRepo := booking.NewRepository(pool)
	bookingService := booking.NewService(bookingRepo, statementCache, logger)

	vehicleRepo := vehicle.NewRepository(pool)
	deriver := vehicle.NewDeriver(vehicleRepo, bookingService, runner, locks, logger)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, bookingService, runner, locks, approvalRecorder, auditLogger, idempotencyStore, deriver, logger)

	onaccountRepo := onaccount.NewRepository(pool)
	onaccountService := onaccount.NewService(onaccountRepo, bookingService, ledgerService, runner, locks, auditLogger, logger)

	commissionRepo := commission.NewRepository(pool)
	commissionService := commission.NewService(commissionRepo, onaccountService, ledgerService, auditLogger, logger)

	bookingHandler := booking.NewHandler(logger, bookingService)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, metrics)
	onaccountHandler := onaccount.NewHandler(logger, onaccountService, metrics)
	commissionHandler := commission.NewHandler(logger, commissionService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		BookingHandler:    bookingHandler,
		LedgerHandler:     ledgerHandler,
		OnAccountHandler:  onaccountHandler,
		CommissionHandler: commissionHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
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
