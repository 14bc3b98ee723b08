package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"social-wallet/config"
	"social-wallet/internal/adapter/gateway"
	httpHandler "social-wallet/internal/adapter/http/handler"
	memStorage "social-wallet/internal/adapter/storage/memory"
	pgStorage "social-wallet/internal/adapter/storage/postgres"
	redisStorage "social-wallet/internal/adapter/storage/redis"
	"social-wallet/internal/core/domain"
	"social-wallet/internal/core/ports"
	"social-wallet/internal/service"
	"social-wallet/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ledgerStore is a unit-of-work store that also exposes the ledger event repository.
type ledgerStore interface {
	ports.Store
	Events() ports.EventRepository
}

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting Social Wallet ledger")

	ctx := context.Background()
	var checkers []ports.HealthChecker

	// Storage
	var store ledgerStore
	switch cfg.Storage.Driver {
	case "memory":
		store = memStorage.NewStore()
		log.Warn().Msg("in-memory storage selected, balances are lost on restart")
	default:
		if cfg.Database.AutoMigrate {
			if err := pgStorage.Migrate(cfg.Database.MigrateURL(), log); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply database migrations")
			}
		}
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		store = pgStorage.NewStore(pool, log)
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))
	}

	// Redis (optional): confirmation cache, idempotency cache + rate limiting
	var (
		depositCache     ports.DepositCache
		idempotencyCache ports.IdempotencyCache
		rateLimitStore   ports.RateLimitStore
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		depositCache = redisStorage.NewDepositCache(rdb, cfg.Redis.ConfirmCacheTTL)
		idempotencyCache = redisStorage.NewIdempotencyCache(rdb, cfg.Redis.IdempotencyTTL)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
	} else {
		log.Warn().Msg("Redis disabled, running without confirmation cache, idempotency cache and rate limiting")
	}

	// Payment processor
	if cfg.Payment.SecretKey == "" {
		log.Warn().Msg("payment.secret_key is empty, deposits will fail at the processor")
	}
	stripeGateway := gateway.NewStripe(cfg.Payment, &http.Client{Timeout: 15 * time.Second}, log)
	var verifier ports.WebhookVerifier
	if cfg.Payment.WebhookSecret != "" {
		verifier = gateway.NewWebhookVerifier(cfg.Payment.WebhookSecret, gateway.DefaultTolerance)
	} else {
		log.Warn().Msg("payment.webhook_secret is empty, processor webhooks are disabled")
	}

	// Core services
	cipher, err := service.NewAESDetailsCipher(cfg.Crypto.DetailsKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize payout details cipher")
	}
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	recorder := service.NewEventRecorder(store.Events(), logger.Component(log, "ledger_events"))
	defer recorder.Wait()

	policy, err := walletPolicy(cfg.Wallet)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid wallet policy")
	}

	ledger := service.NewLedger(store, recorder, log)
	transfers := service.NewTransferProtocol(store, ledger, log)
	reconciler := service.NewReconciler(store, ledger, stripeGateway, depositCache, log)
	guard := service.NewIdempotencyGuard(store, recorder, idempotencyCache, logger.Component(log, "idempotency"))
	walletSvc := service.NewWalletService(store, ledger, transfers, reconciler, guard, cipher, policy, log)

	if _, err := walletSvc.OpenAccount(ctx, policy.PlatformAccountID); err != nil {
		log.Fatal().Err(err).Msg("Failed to open platform account")
	}

	// Setup Gin router with all routes
	gin.SetMode(ginMode(cfg.Server.Mode))
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:       walletSvc,
		WebhookVerifier: verifier,
		TokenSvc:        tokenSvc,
		RateLimitStore:  rateLimitStore,
		HealthCheckers:  checkers,
		InternalToken:   cfg.Server.InternalToken,
		CORSOrigins:     cfg.Server.CORSOrigins,
		Logger:          log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func walletPolicy(cfg config.WalletConfig) (service.WalletPolicy, error) {
	platform, err := uuid.Parse(cfg.PlatformAccountID)
	if err != nil {
		return service.WalletPolicy{}, fmt.Errorf("wallet.platform_account_id: %w", err)
	}
	methods := make([]domain.WithdrawalMethod, 0, len(cfg.WithdrawalMethods))
	for _, m := range cfg.WithdrawalMethods {
		methods = append(methods, domain.WithdrawalMethod(m))
	}
	return service.WalletPolicy{
		Currency:          cfg.Currency,
		MinWithdrawal:     cfg.MinWithdrawal,
		MaxWithdrawal:     cfg.MaxWithdrawal,
		WithdrawalMethods: methods,
		PlatformAccountID: platform,
		MaxPageSize:       cfg.MaxPageSize,
	}, nil
}

func ginMode(mode string) string {
	switch mode {
	case gin.ReleaseMode, gin.TestMode:
		return mode
	}
	return gin.DebugMode
}
