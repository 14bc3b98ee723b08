package handler

import (
	"time"

	"social-wallet/internal/adapter/http/middleware"
	"social-wallet/internal/core/ports"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc       ports.WalletService
	WebhookVerifier ports.WebhookVerifier
	TokenSvc        ports.TokenService
	RateLimitStore  ports.RateLimitStore // nil = rate limiting disabled
	HealthCheckers  []ports.HealthChecker
	InternalToken   string   // empty = fee and refund routes not mounted
	CORSOrigins     []string // empty = no CORS headers
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  deps.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Authorization", "Content-Type", middleware.HeaderRequestID, middleware.HeaderIdempotencyKey},
			ExposeHeaders: []string{middleware.HeaderRequestID},
			MaxAge:        12 * time.Hour,
		}))
	}

	// Health check (deep; pings storage and cache)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	walletHandler := NewWalletHandler(deps.WalletSvc)
	idem := middleware.IdempotencyKey()

	// --- Processor webhooks (signature verified, no JWT) ---
	if deps.WebhookVerifier != nil {
		webhookHandler := NewWebhookHandler(deps.WebhookVerifier, deps.WalletSvc, deps.Logger)
		v1.POST("/webhooks/payments", rl("webhooks"), webhookHandler.Handle)
	}

	// --- JWT-authenticated routes (account owner) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	wallet := v1.Group("/wallet", jwtAuth)
	{
		wallet.POST("/account", rl("money"), walletHandler.OpenAccount)
		wallet.POST("/deposits", rl("deposits"), walletHandler.Deposit)
		wallet.POST("/deposits/:intent_ref/confirm", rl("deposits"), walletHandler.ConfirmDeposit)
		wallet.POST("/transfers", rl("money"), idem, walletHandler.Transfer)
		wallet.POST("/orders/:order_ref/pay", rl("money"), idem, walletHandler.PayOrder)
		wallet.POST("/withdrawals", rl("money"), idem, walletHandler.Withdraw)
		wallet.GET("/balance", rl("read"), walletHandler.GetBalance)
		wallet.GET("/transactions", rl("read"), walletHandler.GetHistory)
		wallet.GET("/transactions/:id", rl("read"), walletHandler.GetTransaction)
		wallet.POST("/transactions/:id/cancel", rl("money"), walletHandler.CancelPending)
		wallet.GET("/reconciliation", rl("read"), walletHandler.Reconcile)
	}

	// --- Internal callers (shared token) ---
	if deps.InternalToken != "" {
		internal := v1.Group("/wallet", middleware.InternalAuth(deps.InternalToken))
		{
			internal.POST("/fees", rl("internal"), idem, walletHandler.ApplyFee)
			internal.POST("/refunds", rl("internal"), idem, walletHandler.Refund)
		}
	}

	return r
}
