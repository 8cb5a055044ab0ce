package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"stockdash/config"
	"stockdash/middleware"
	"stockdash/models"
	"stockdash/routes"
	"stockdash/scheduler"
)

// app holds what the background initialisation creates, so the probes and
// the shutdown path can see it.
type app struct {
	mu        sync.RWMutex
	ready     bool
	db        *gorm.DB
	rdb       *redis.Client
	deps      *routes.Dependencies
	api       http.Handler
	scheduler *scheduler.Scheduler
	stopHub   context.CancelFunc
	hubDone   chan struct{}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		config.SetupLogger("info", os.Getenv("ENVIRONMENT"))
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	config.SetupLogger(cfg.LogLevel, cfg.Environment)

	log.Info().Str("environment", cfg.Environment).Msg("StockDash API starting")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CORSOrigin))
	router.Use(middleware.RequestLogger())

	a := &app{}

	// Probes first so the platform sees the service as up while the
	// database connects.
	setupHealthEndpoints(router, a)
	router.NoRoute(a.serveAPI)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	go a.initialize(cfg)

	gracefulShutdown(server, a)
}

// initialize connects storage, wires services and builds the API engine.
// The engine is complete before it is published to serveAPI.
func (a *app) initialize(cfg *config.Config) {
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Database connection failed, running in limited mode (probes only)")
		return
	}

	log.Info().Msg("Running database migrations...")
	if err := models.MigrateModels(db); err != nil {
		log.Error().Err(err).Msg("Migration failed")
		return
	}
	if err := models.SeedAdminUser(db, cfg.Auth.AdminEmail, cfg.Auth.AdminPasswordHash); err != nil {
		log.Warn().Err(err).Msg("Could not seed admin user")
	}

	ctx := context.Background()
	rdb, err := config.InitRedis(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, using in-memory cache")
		rdb = nil
	}

	deps := routes.NewDependencies(ctx, cfg, db, rdb)
	api := gin.New()
	api.Use(gin.Recovery())
	routes.SetupRoutes(api, deps)

	hubCtx, stopHub := context.WithCancel(ctx)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		deps.Hub.Run(hubCtx)
	}()

	jobs := scheduler.NewScheduler(scheduler.Options{
		DB:           db,
		Market:       deps.Market,
		Portfolio:    deps.Portfolio,
		Orders:       deps.Orders,
		Fulfiller:    deps.Fulfiller,
		LoginLimiter: deps.LoginLimiter,
		APILimiter:   deps.APILimiter,
		PollInterval: cfg.Orders.PollInterval,
	})
	if err := jobs.Start(); err != nil {
		log.Error().Err(err).Msg("Scheduler failed to start")
		jobs = nil
	}

	a.mu.Lock()
	a.db = db
	a.rdb = rdb
	a.deps = deps
	a.api = api
	a.scheduler = jobs
	a.stopHub = stopHub
	a.hubDone = hubDone
	a.ready = true
	a.mu.Unlock()

	log.Info().Msg("Application fully initialized")
}

// serveAPI hands every non-probe request to the API engine, or answers 503
// until initialisation has finished.
func (a *app) serveAPI(c *gin.Context) {
	a.mu.RLock()
	api := a.api
	a.mu.RUnlock()

	if api == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "not_ready",
			"message": "Service is starting",
		})
		return
	}
	api.ServeHTTP(c.Writer, c.Request)
}

// setupHealthEndpoints sets up liveness, readiness and startup probes
func setupHealthEndpoints(router *gin.Engine, a *app) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "StockDash API",
			"version": "1.0.0",
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		a.mu.RLock()
		ready, db := a.ready, a.db
		a.mu.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "started"})
	})
}

// gracefulShutdown waits for SIGINT/SIGTERM and stops everything in order:
// scheduler, HTTP server, hub, then storage.
func gracefulShutdown(server *http.Server, a *app) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if a.stopHub != nil {
		a.stopHub()
		select {
		case <-a.hubDone:
		case <-ctx.Done():
			log.Warn().Msg("Realtime hub did not stop in time")
		}
	}

	if a.deps != nil {
		a.deps.Close(ctx)
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
			log.Info().Msg("Database connection closed")
		}
	}

	log.Info().Msg("Server shutdown completed")
}
