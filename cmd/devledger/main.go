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

	"github.com/gin-gonic/gin"

	"cid-escrow-backend/internal/common/config"
	"cid-escrow-backend/internal/common/logger"
	"cid-escrow-backend/internal/common/middleware"
	"cid-escrow-backend/internal/platform/ledger/httpledger"
	"cid-escrow-backend/internal/platform/ledger/memory"
	redisplatform "cid-escrow-backend/internal/platform/redis"
)

// devledger serves an in-memory ledger over the gateway API for local runs
// and integration tests. State is lost on exit.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.ServiceName+"-devledger", cfg.Debug)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger := memory.New()

	if cfg.Ledger.Events == config.EventsPush {
		redisClient, err := redisplatform.Open(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		publisher := redisplatform.NewPublisher(redisClient, cfg.Redis.EventsChannel, logger.Component("ledger_events"))
		stopForward := publisher.Forward(ledger)
		defer stopForward()
		logger.Info().Str("channel", cfg.Redis.EventsChannel).Msg("Publishing account changes")
	}

	if cfg.Server.AdminToken == "" {
		logger.Warn().Msg("ADMIN_TOKEN is empty, faucet is disabled")
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Component("http")))
	router.Use(middleware.ErrorHandler(logger.Component("http")))

	v1 := router.Group("/api/v1")
	httpledger.NewServer(ledger, logger.Component("ledger_gateway")).
		RegisterRoutes(v1, middleware.RequireAdmin(cfg.Server.AdminToken, logger.Component("admin")))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   "cid-escrow-devledger",
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("Starting dev ledger")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down dev ledger...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	logger.Info().Msg("Dev ledger exited")
}
