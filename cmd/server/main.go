package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sokomarket/payment-service/internal/adapters/collab"
	"github.com/sokomarket/payment-service/internal/adapters/flutterwave"
	"github.com/sokomarket/payment-service/internal/adapters/monnify"
	"github.com/sokomarket/payment-service/internal/adapters/paystack"
	"github.com/sokomarket/payment-service/internal/adapters/postgres"
	"github.com/sokomarket/payment-service/internal/adapters/redisstore"
	"github.com/sokomarket/payment-service/internal/adapters/walletrail"
	"github.com/sokomarket/payment-service/internal/config"
	adminHandler "github.com/sokomarket/payment-service/internal/handlers/admin"
	paymentHandler "github.com/sokomarket/payment-service/internal/handlers/payment"
	walletHandler "github.com/sokomarket/payment-service/internal/handlers/wallet"
	webhookHandler "github.com/sokomarket/payment-service/internal/handlers/webhook"
	auditService "github.com/sokomarket/payment-service/internal/services/audit"
	paymentService "github.com/sokomarket/payment-service/internal/services/payment"
	walletService "github.com/sokomarket/payment-service/internal/services/wallet"
	webhookService "github.com/sokomarket/payment-service/internal/services/webhook"
	withdrawalService "github.com/sokomarket/payment-service/internal/services/withdrawal"
	"github.com/sokomarket/payment-service/pkg/observability"
	"github.com/sokomarket/payment-service/pkg/security"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting payment service",
		zap.String("version", "0.1.0"),
		zap.Int("port", cfg.Server.Port),
	)

	// Database pool
	dbPool, err := initDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbPool.Close()

	logger.Info("Database connection established",
		zap.String("database", cfg.Database.Database),
	)

	// Redis, backing the withdrawal OTP store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	cancelPing()
	defer redisClient.Close()

	mux := initRoutes(dbPool, redisClient, cfg, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsServer := observability.StartMetricsServer(fmt.Sprintf("%d", cfg.Server.MetricsPort))
	logger.Info("Metrics server listening", zap.Int("port", cfg.Server.MetricsPort))

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := observability.ShutdownMetricsServer(metricsServer); err != nil {
		logger.Error("Metrics server shutdown error", zap.Error(err))
	}

	logger.Info("Servers stopped")
}

// initLogger initializes the logger
func initLogger(cfg *config.Config) *zap.Logger {
	if cfg.Logger.Development {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	zapCfg := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, _ := zapCfg.Build()
	return logger
}

// initDatabase initializes the PostgreSQL connection pool
func initDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// initRoutes wires every adapter, service, and handler, and returns the mux
func initRoutes(dbPool *pgxpool.Pool, redisClient *redis.Client, cfg *config.Config, logger *zap.Logger) *http.ServeMux {
	ctx := context.Background()
	log := security.NewZapLogger(logger)

	db := postgres.NewDBExecutor(dbPool)
	paymentRepo := postgres.NewPaymentRepository(db)
	walletRepo := postgres.NewWalletRepository(db)
	withdrawalRepo := postgres.NewWithdrawalRepository(db)
	bankRepo := postgres.NewBankRepository(db)
	otpStore := redisstore.NewOTPStore(redisClient)

	// Gateway credentials, resolved through the secret backend when one is
	// configured
	secretManager := initSecretManager(ctx, cfg, logger)

	paystackCfg := paystack.DefaultConfig(resolveSecret(ctx, secretManager, cfg.Paystack.SecretKey, logger))
	paystackCfg.BaseURL = cfg.Paystack.BaseURL
	paystackCfg.Timeout = time.Duration(cfg.Paystack.Timeout) * time.Second

	flutterwaveCfg := flutterwave.DefaultConfig(
		resolveSecret(ctx, secretManager, cfg.Flutterwave.SecretKey, logger),
		resolveSecret(ctx, secretManager, cfg.Flutterwave.WebhookHash, logger),
	)
	flutterwaveCfg.BaseURL = cfg.Flutterwave.BaseURL
	flutterwaveCfg.RedirectURL = cfg.Flutterwave.RedirectURL
	flutterwaveCfg.Timeout = time.Duration(cfg.Flutterwave.Timeout) * time.Second

	monnifyCfg := monnify.DefaultConfig(
		resolveSecret(ctx, secretManager, cfg.Monnify.APIKey, logger),
		resolveSecret(ctx, secretManager, cfg.Monnify.SecretKey, logger),
		cfg.Monnify.ContractCode,
	)
	monnifyCfg.BaseURL = cfg.Monnify.BaseURL
	monnifyCfg.RedirectURL = cfg.Monnify.RedirectURL
	monnifyCfg.Timeout = time.Duration(cfg.Monnify.Timeout) * time.Second

	// Marketplace collaborators
	collabCfg := collab.DefaultConfig(cfg.Marketplace.BaseURL, cfg.Marketplace.APIToken)
	collabCfg.Timeout = time.Duration(cfg.Marketplace.Timeout) * time.Second
	orderClient := collab.NewOrderClientWithDefaults(collabCfg, log)
	cartClient := collab.NewCartClientWithDefaults(collabCfg, log)
	notifier := collab.NewQueueNotifier(log)

	// Services
	walletSvc := walletService.NewService(db, walletRepo, log)

	registry := paymentService.NewRegistry(
		paystack.NewAdapterWithDefaults(paystackCfg, log),
		flutterwave.NewAdapterWithDefaults(flutterwaveCfg, log),
		monnify.NewAdapterWithDefaults(monnifyCfg, log),
		walletrail.NewAdapter(log),
	)

	paymentSvc := paymentService.NewService(
		db,
		paymentRepo,
		walletSvc,
		registry,
		orderClient,
		cartClient,
		notifier,
		log,
		cfg.Ledger.CommissionRate,
	)

	webhookSvc := webhookService.NewService(registry, paymentSvc, log)

	withdrawalCfg := withdrawalService.DefaultServiceConfig()
	withdrawalCfg.OTPTTL = time.Duration(cfg.Ledger.OTPTTLSeconds) * time.Second
	withdrawalCfg.MaxAttempts = int64(cfg.Ledger.OTPMaxAttempts)
	withdrawalCfg.DefaultFee = cfg.Ledger.WithdrawalFee
	withdrawalSvc := withdrawalService.NewService(
		db,
		withdrawalRepo,
		bankRepo,
		walletSvc,
		otpStore,
		notifier,
		log,
		withdrawalCfg,
	)

	auditor := auditService.NewAuditor(db, walletRepo, log)

	// Handlers
	mux := http.NewServeMux()
	webhookHandler.NewHandler(webhookSvc, paymentSvc, logger).Register(mux)
	paymentHandler.NewHandler(paymentSvc, logger).Register(mux)
	walletHandler.NewHandler(walletSvc, withdrawalSvc, logger).Register(mux)
	adminHandler.NewHandler(withdrawalSvc, walletSvc, auditor, cfg.Server.AdminSecret, logger).Register(mux)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}
