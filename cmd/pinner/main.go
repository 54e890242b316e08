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

	"github.com/benbjohnson/clock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"cid-escrow-backend/docs"
	"cid-escrow-backend/internal/common/cache"
	"cid-escrow-backend/internal/common/config"
	"cid-escrow-backend/internal/common/logger"
	"cid-escrow-backend/internal/common/middleware"
	"cid-escrow-backend/internal/domain/wallet"
	accessHTTP "cid-escrow-backend/internal/features/accessproof/delivery/http"
	accessproofMW "cid-escrow-backend/internal/features/accessproof/middleware"
	accessService "cid-escrow-backend/internal/features/accessproof/service"
	revealService "cid-escrow-backend/internal/features/reveal/service"
	"cid-escrow-backend/internal/features/watch"
	"cid-escrow-backend/internal/platform/ledger/httpledger"
	"cid-escrow-backend/internal/platform/manifest"
	redisplatform "cid-escrow-backend/internal/platform/redis"
	"cid-escrow-backend/internal/workers"
)

// @title           CID Escrow Pinner API
// @version         1.0
// @description     Access proof verification and access-gated content manifests served by a pinner.

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey AdminToken
// @in header
// @name Authorization
// @description Bearer token for operator endpoints

// @tag.name access
// @tag.description Access proof verification and verification cache controls

// @tag.name content
// @tag.description Content manifests gated by access proofs

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.ServiceName, cfg.Debug)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.Wallet.SecretKey == "" {
		logger.Fatal().Msg("WALLET_SECRET_KEY is required for the pinner")
	}
	if len(cfg.Reveal.Catalog) == 0 {
		logger.Fatal().Msg("PINNER_CATALOG is empty, nothing to serve")
	}

	pinner, err := wallet.FromBase58(cfg.Wallet.SecretKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load pinner wallet")
	}

	logger.Info().
		Str("pinner", pinner.PublicKey().String()).
		Str("ledger", cfg.Ledger.URL).
		Str("events", cfg.Ledger.Events).
		Int("collections", len(cfg.Reveal.Catalog)).
		Msg("Starting pinner")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger := httpledger.NewClient(cfg.Ledger.URL, cfg.Ledger.Timeout, logger.Component("ledger_client"))

	var redisClient *redisplatform.Client
	if cfg.NeedsRedis() {
		redisClient, err = redisplatform.Open(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
	}

	var watcher watch.Watcher
	switch cfg.Ledger.Events {
	case config.EventsPush:
		sub := redisplatform.NewSubscriber(redisClient, cfg.Redis.EventsChannel, logger.Component("ledger_events"))
		watcher = watch.NewPushWatcher(sub.Subscribe, logger.Component("watcher"))
		logger.Info().Str("channel", cfg.Redis.EventsChannel).Msg("Watching ledger via Redis pub/sub")
	default:
		watcher = watch.NewPollWatcher(cfg.Ledger.PollInterval, clock.New())
		logger.Info().Dur("interval", cfg.Ledger.PollInterval).Msg("Polling ledger")
	}

	verifier, err := accessService.NewVerifier(ledger, accessService.VerifierConfig{
		MaxAge:           cfg.Proof.MaxAge,
		CacheTTL:         cfg.Proof.CacheTTL,
		CacheSize:        cfg.Proof.CacheSize,
		BatchConcurrency: cfg.Proof.BatchConcurrency,
	}, clock.New(), logger.Component("proof_verifier"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create proof verifier")
	}

	reveals := revealService.NewService(ledger, watcher, pinner, revealService.Config{}, clock.New(), logger.Component("reveal_service"))
	worker, err := workers.NewRevealWorker(reveals, cfg.Reveal.Catalog, logger.Component("reveal_worker"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create reveal worker")
	}

	var gateway accessHTTP.ManifestFetcher = manifest.NewClient(cfg.Gateway.URL, cfg.Gateway.Timeout, logger.Component("gateway"))
	if cfg.Gateway.CacheTTL > 0 {
		gateway = manifest.NewCachedFetcher(gateway, cache.NewCacheService(redisClient, "manifest:"), cfg.Gateway.CacheTTL, logger.Component("gateway"))
		logger.Info().Dur("ttl", cfg.Gateway.CacheTTL).Msg("Manifest cache enabled")
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Component("http")))
	router.Use(middleware.ErrorHandler(logger.Component("http")))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Server.Origin}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Authorization", "Accept", accessproofMW.ProofHeader}
	router.Use(cors.New(corsConfig))

	docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", cfg.Server.Port)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	accessHTTP.NewHandler(verifier, logger.Component("access_handler")).
		RegisterRoutes(v1, middleware.RequireAdmin(cfg.Server.AdminToken, logger.Component("admin")))
	accessHTTP.NewContentHandler(cfg.Reveal.Catalog, gateway, verifier, logger.Component("content_handler")).
		RegisterRoutes(v1)

	setupProbes(router, ledger, redisClient, pinner.PublicKey())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(gctx)
	})
	g.Go(func() error {
		logger.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Pinner stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Pinner exited")
}

func setupProbes(router *gin.Engine, ledger *httpledger.Client, redisClient *redisplatform.Client, pinner wallet.PublicKey) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   "cid-escrow-pinner",
			"pinner":    pinner.String(),
		})
	})

	router.GET("/live", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		// a typed answer, including "not found", means the gateway is up
		if _, err := ledger.GetEscrow(ctx, pinner.String()); errors.Is(err, httpledger.ErrUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unready",
				"error":   "ledger unavailable",
				"details": err.Error(),
			})
			return
		}

		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unready",
					"error":   "redis unavailable",
					"details": err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   "cid-escrow-pinner",
		})
	})
}
