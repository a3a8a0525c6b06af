package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nostr-escrow-gateway/config"
	httpHandler "nostr-escrow-gateway/internal/adapter/http/handler"
	"nostr-escrow-gateway/internal/adapter/lightning"
	pgStorage "nostr-escrow-gateway/internal/adapter/storage/postgres"
	redisStorage "nostr-escrow-gateway/internal/adapter/storage/redis"
	"nostr-escrow-gateway/internal/core/ports"
	"nostr-escrow-gateway/internal/service"
	"nostr-escrow-gateway/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Nostr Escrow Gateway")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	orderRepo := pgStorage.NewOrderRepo(pool)
	escrowRepo := pgStorage.NewEscrowRepo(pool)
	collateralRepo := pgStorage.NewCollateralRepo(pool)
	obligationRepo := pgStorage.NewObligationRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	replayStore := redisStorage.NewReplayStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize settlement backend
	settlement := lightning.NewSimulatedClient(log)

	// Initialize request authentication
	verifier := service.NewNostrVerifier(replayStore, cfg.Auth.TimestampTolerance, log)

	// Initialize business services
	orderSvc := service.NewOrderService(
		orderRepo,
		escrowRepo,
		obligationRepo,
		settlement,
		transactor,
		cfg.Auth.ValidatorPubkeys,
		cfg.Sweeper.OrderTTL,
		log,
	)
	escrowSvc := service.NewEscrowService(
		escrowRepo,
		orderRepo,
		obligationRepo,
		settlement,
		transactor,
		cfg.Auth.ValidatorPubkeys,
		cfg.Escrow.ProviderFee,
		cfg.Escrow.PlatformFee,
		log,
	)
	collateralSvc := service.NewCollateralService(collateralRepo, orderRepo, settlement, cfg.Auth.ValidatorPubkeys, log)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		OrderSvc:       orderSvc,
		EscrowSvc:      escrowSvc,
		CollateralSvc:  collateralSvc,
		Verifier:       verifier,
		RateLimitStore: rateLimitStore,
		RateLimit:      cfg.RateLimit,
		CORS:           cfg.CORS,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// Start the expiration sweeper
	sweeperCtx, stopSweeper := context.WithCancel(ctx)
	sweeper := service.NewSweeper(orderSvc, cfg.Sweeper.Interval, log)
	go sweeper.Start(sweeperCtx)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
