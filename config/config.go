package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	CORSOrigin  string

	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Providers ProvidersConfig
	Mongo     MongoConfig
	Stripe    StripeConfig
	Orders    OrdersConfig
	Relay     RelayConfig
}

type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds the token secret and the optional Supabase project.
// When SupabaseURL is set, JWTSecret must be the project's JWT secret.
type AuthConfig struct {
	JWTSecret          string
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	AdminEmail         string
	AdminPasswordHash  string
}

type ProvidersConfig struct {
	AlphaVantageKey string
	AlphaVantageURL string
	PolygonKey      string
	PolygonURL      string
	FinnhubKey      string
	FinnhubURL      string
	FinnhubWSURL    string
	NewsAPIKey      string
	NewsAPIURL      string
	RatePerSecond   float64
}

type MongoConfig struct {
	URI      string
	Database string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	AppURL        string
}

type OrdersConfig struct {
	PollInterval    time.Duration
	FillProbability float64
}

type RelayConfig struct {
	Window       time.Duration
	PollInterval time.Duration
	MaxClients   int
}

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:        v.GetString("PORT"),
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		CORSOrigin:  v.GetString("CORS_ALLOWED_ORIGIN"),
		Database: DatabaseConfig{
			Driver:     strings.ToLower(v.GetString("DB_DRIVER")),
			Host:       v.GetString("DB_HOST"),
			Port:       v.GetString("DB_PORT"),
			User:       v.GetString("DB_USER"),
			Password:   v.GetString("DB_PASSWORD"),
			Name:       v.GetString("DB_NAME"),
			SSLMode:    v.GetString("DB_SSLMODE"),
			SQLitePath: v.GetString("DB_PATH"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Auth: AuthConfig{
			JWTSecret:          v.GetString("JWT_SECRET"),
			SupabaseURL:        strings.TrimRight(v.GetString("SUPABASE_URL"), "/"),
			SupabaseAnonKey:    v.GetString("SUPABASE_ANON_KEY"),
			SupabaseServiceKey: v.GetString("SUPABASE_SERVICE_KEY"),
			AdminEmail:         v.GetString("ADMIN_EMAIL"),
			AdminPasswordHash:  v.GetString("ADMIN_PASSWORD_HASH"),
		},
		Providers: ProvidersConfig{
			AlphaVantageKey: v.GetString("ALPHA_VANTAGE_API_KEY"),
			AlphaVantageURL: v.GetString("ALPHA_VANTAGE_URL"),
			PolygonKey:      v.GetString("POLYGON_API_KEY"),
			PolygonURL:      v.GetString("POLYGON_URL"),
			FinnhubKey:      v.GetString("FINNHUB_API_KEY"),
			FinnhubURL:      v.GetString("FINNHUB_URL"),
			FinnhubWSURL:    v.GetString("FINNHUB_WS_URL"),
			NewsAPIKey:      v.GetString("NEWS_API_KEY"),
			NewsAPIURL:      v.GetString("NEWS_API_URL"),
			RatePerSecond:   v.GetFloat64("PROVIDER_RATE_PER_SECOND"),
		},
		Mongo: MongoConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
			PriceID:       v.GetString("STRIPE_PRICE_ID"),
			AppURL:        strings.TrimRight(v.GetString("APP_URL"), "/"),
		},
		Orders: OrdersConfig{
			PollInterval:    v.GetDuration("ORDER_POLL_INTERVAL"),
			FillProbability: v.GetFloat64("ORDER_FILL_PROBABILITY"),
		},
		Relay: RelayConfig{
			Window:       v.GetDuration("RELAY_WINDOW"),
			PollInterval: v.GetDuration("RELAY_POLL_INTERVAL"),
			MaxClients:   v.GetInt("RELAY_MAX_CLIENTS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "postgres")
	v.SetDefault("DB_SSLMODE", "require")
	v.SetDefault("DB_PATH", "data/stockdash.db")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "")

	v.SetDefault("ALPHA_VANTAGE_URL", "https://www.alphavantage.co")
	v.SetDefault("POLYGON_URL", "https://api.polygon.io")
	v.SetDefault("FINNHUB_URL", "https://finnhub.io/api/v1")
	v.SetDefault("FINNHUB_WS_URL", "wss://ws.finnhub.io")
	v.SetDefault("NEWS_API_URL", "https://newsapi.org/v2")
	v.SetDefault("PROVIDER_RATE_PER_SECOND", 5.0)

	v.SetDefault("MONGODB_DATABASE", "stockdash")
	v.SetDefault("APP_URL", "http://localhost:5173")

	v.SetDefault("ORDER_POLL_INTERVAL", "30s")
	v.SetDefault("ORDER_FILL_PROBABILITY", 0.5)

	v.SetDefault("RELAY_WINDOW", "3s")
	v.SetDefault("RELAY_POLL_INTERVAL", "5s")
	v.SetDefault("RELAY_MAX_CLIENTS", 100)
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks the settings that would otherwise fail at request time
func (c *Config) Validate() error {
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	if c.Database.Driver != DriverPostgres && c.Database.Driver != DriverSQLite {
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Orders.FillProbability < 0 || c.Orders.FillProbability > 1 {
		return fmt.Errorf("ORDER_FILL_PROBABILITY must be within [0,1], got %v", c.Orders.FillProbability)
	}
	if c.Orders.PollInterval <= 0 {
		return errors.New("ORDER_POLL_INTERVAL must be positive")
	}
	if c.Relay.Window <= 0 {
		return errors.New("RELAY_WINDOW must be positive")
	}
	if c.Relay.MaxClients < 1 {
		return errors.New("RELAY_MAX_CLIENTS must be at least 1")
	}
	if c.Providers.RatePerSecond <= 0 {
		return errors.New("PROVIDER_RATE_PER_SECOND must be positive")
	}
	return nil
}

// InitDB initializes database connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	logLevel := logger.Warn
	if cfg.IsProduction() {
		logLevel = logger.Error
	}
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case DriverSQLite:
		if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		log.Info().Str("path", cfg.Database.SQLitePath).Msg("Opening SQLite database")
		dialector = sqlite.Open(cfg.Database.SQLitePath + "?_foreign_keys=on")
	default:
		// Log connection info (masked for security)
		log.Info().
			Str("host", maskHost(cfg.Database.Host)).
			Str("port", cfg.Database.Port).
			Str("user", cfg.Database.User).
			Str("dbname", cfg.Database.Name).
			Msg("Connecting to database")

		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Database.Host,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Name,
			cfg.Database.Port,
			cfg.Database.SSLMode,
		)
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().Str("driver", cfg.Database.Driver).Msg("Database connection verified successfully")
	return db, nil
}

// InitRedis connects to Redis. It returns a nil client when Redis is disabled.
func InitRedis(ctx context.Context, cfg *Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		log.Info().Msg("Redis disabled, using in-memory cache")
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connected")
	return rdb, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}
