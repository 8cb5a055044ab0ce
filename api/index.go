// Package handler is the serverless entrypoint. It serves the same API as
// the long-running server but leaves background jobs to the scheduler
// deployment; order processing can be triggered through the admin route.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"stockdash/config"
	"stockdash/middleware"
	"stockdash/models"
	"stockdash/routes"
)

var (
	mu     sync.Mutex
	router http.Handler

	// build is swapped in tests
	build = setup
)

func setup() (http.Handler, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	config.SetupLogger(cfg.LogLevel, cfg.Environment)

	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := models.MigrateModels(db); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	rdb, err := config.InitRedis(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, using in-memory cache")
		rdb = nil
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.CORSOrigin))
	engine.Use(middleware.RequestLogger())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	routes.SetupRoutes(engine, routes.NewDependencies(ctx, cfg, db, rdb))
	return engine, nil
}

// instance returns the router, building it on first use. A failed build is
// retried on the next request.
func instance() (http.Handler, error) {
	mu.Lock()
	defer mu.Unlock()

	if router != nil {
		return router, nil
	}
	h, err := build()
	if err != nil {
		return nil, err
	}
	router = h
	return router, nil
}

// Handler is the Vercel serverless function handler
func Handler(w http.ResponseWriter, r *http.Request) {
	h, err := instance()
	if err != nil {
		log.Error().Err(err).Msg("Serverless initialisation failed")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "service_unavailable",
			"message": "Service is starting, please retry",
		})
		return
	}
	h.ServeHTTP(w, r)
}
