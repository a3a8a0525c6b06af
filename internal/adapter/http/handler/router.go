package handler

import (
	"nostr-escrow-gateway/config"
	"nostr-escrow-gateway/internal/adapter/http/middleware"
	redisStore "nostr-escrow-gateway/internal/adapter/storage/redis"
	"nostr-escrow-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	OrderSvc       ports.OrderService
	EscrowSvc      ports.EscrowService
	CollateralSvc  ports.CollateralService
	Verifier       ports.IdentityVerifier
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	RateLimit      config.RateLimitConfig
	CORS           config.CORSConfig
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.CORS(deps.CORS))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Helper: return rate limiter middleware if enabled, else noop.
	rl := func(group string, rule middleware.RateLimitRule) gin.HandlerFunc {
		if deps.RateLimitStore == nil || !deps.RateLimit.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}
	globalRule := middleware.RateLimitRule{Limit: deps.RateLimit.GlobalLimit, Window: deps.RateLimit.GlobalWindow}
	createRule := middleware.RateLimitRule{Limit: deps.RateLimit.CreateLimit, Window: deps.RateLimit.CreateWindow}

	auth := middleware.RequireNostrAuth(deps.Verifier, deps.Logger)
	optionalAuth := middleware.OptionalNostrAuth(deps.Verifier, deps.Logger)

	// API v1 routes. Auth runs before rate limiting so limits key on the
	// verified pubkey (client IP for anonymous callers on optional routes).
	v1 := r.Group("/api/v1")
	authed := v1.Group("", auth, rl("global", globalRule))

	orderHandler := NewOrderHandler(deps.OrderSvc)
	orders := authed.Group("/orders")
	{
		orders.POST("/create", rl("orders_create", createRule), orderHandler.Create)
		orders.GET("/available", orderHandler.ListAvailable)
		orders.GET("/user/:pubkey", orderHandler.ListByUser)
		orders.GET("/:id", orderHandler.Get)
		orders.POST("/:id/accept", orderHandler.Accept)
		orders.POST("/:id/cancel", orderHandler.Cancel)
		orders.POST("/:id/submit-proof", orderHandler.SubmitProof)
		orders.POST("/:id/validate", orderHandler.Validate)
	}

	escrowHandler := NewEscrowHandler(deps.EscrowSvc)
	escrow := authed.Group("/escrow")
	{
		escrow.POST("/create", rl("escrow_create", createRule), escrowHandler.Lock)
		escrow.POST("/release", escrowHandler.Release)
	}
	// Escrow reads take optional auth: visibility is scoped in the service,
	// so an anonymous caller is just a non-participant.
	v1.GET("/escrow/:order_id", optionalAuth, rl("global", globalRule), escrowHandler.Get)

	collateralHandler := NewCollateralHandler(deps.CollateralSvc)
	collateral := authed.Group("/collateral")
	{
		collateral.POST("/deposit", rl("collateral_deposit", createRule), collateralHandler.Deposit)
		collateral.POST("/confirm", collateralHandler.Confirm)
		collateral.POST("/lock", collateralHandler.Lock)
		collateral.POST("/unlock", collateralHandler.Unlock)
		collateral.GET("/:pubkey", collateralHandler.Summary)
	}

	return r
}
