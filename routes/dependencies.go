package routes

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"stockdash/config"
	"stockdash/middleware"
	"stockdash/services/auth"
	"stockdash/services/billing"
	"stockdash/services/marketdata"
	"stockdash/services/orders"
	"stockdash/services/portfolio"
	"stockdash/services/realtime"
	"stockdash/services/watchlist"
)

const (
	loginMaxAttempts = 5
	loginWindow      = 15 * time.Minute
	loginLockout     = 30 * time.Minute

	apiRatePerSecond = 10
	apiRateBurst     = 30
)

// Dependencies is everything the router needs. Build it once per process.
type Dependencies struct {
	DB           *gorm.DB
	Secret       []byte
	CORSOrigin   string
	Auth         auth.Provider
	LoginLimiter *middleware.LoginLimiter
	APILimiter   *middleware.IPRateLimiter
	Market       *marketdata.Service
	Portfolio    *portfolio.Service
	Watchlists   *watchlist.Service
	Orders       *orders.Service
	Fulfiller    *orders.Fulfiller
	Billing      *billing.Service
	Relay        *realtime.Relay
	Hub          *realtime.Hub

	archive *marketdata.MongoNewsArchive
}

// NewDependencies wires the services from configuration. Redis and MongoDB
// are optional: without them the cache and refresh tokens stay in memory and
// news is not archived.
func NewDependencies(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *Dependencies {
	var cache marketdata.Cache = marketdata.NewMemoryCache()
	if rdb != nil {
		cache = marketdata.NewRedisCache(rdb, "stockdash:market:")
	}

	deps := &Dependencies{DB: db, CORSOrigin: cfg.CORSOrigin}

	var archive marketdata.NewsArchive
	if cfg.Mongo.URI != "" {
		a, err := marketdata.ConnectNewsArchive(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			log.Warn().Err(err).Msg("MongoDB unavailable, news archive disabled")
		} else {
			deps.archive = a
			archive = a
		}
	}

	deps.Secret = auth.ResolveSecret(cfg.Auth.JWTSecret)
	deps.Auth = auth.NewProvider(cfg.Auth, deps.Secret, db, rdb)
	deps.LoginLimiter = middleware.NewLoginLimiter(loginMaxAttempts, loginWindow, loginLockout)
	deps.APILimiter = middleware.NewIPRateLimiter(apiRatePerSecond, apiRateBurst)

	deps.Market = marketdata.NewServiceFromConfig(cfg.Providers, cache, archive)
	deps.Portfolio = portfolio.NewService(db, deps.Market)
	deps.Watchlists = watchlist.NewService(db, deps.Market)
	deps.Orders = orders.NewService(db, deps.Market)
	deps.Fulfiller = orders.NewFulfiller(db, cfg.Orders.FillProbability)
	deps.Billing = billing.NewService(db, cfg.Stripe)

	deps.Relay = realtime.NewRelay(cfg.Providers.FinnhubWSURL, cfg.Providers.FinnhubKey, cfg.Relay.Window)
	deps.Hub = realtime.NewHub(deps.Relay, realtime.HubOptions{
		MaxClients:   cfg.Relay.MaxClients,
		PollInterval: cfg.Relay.PollInterval,
	})
	return deps
}

// Close releases connections the dependencies own
func (d *Dependencies) Close(ctx context.Context) {
	if d.archive != nil {
		if err := d.archive.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to close news archive")
		}
	}
}
