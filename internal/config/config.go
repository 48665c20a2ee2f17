package config

import (
	"fmt"
	"time"

	"github.com/william-takayama/ecommerce-cart/internal/catalog"
	pkgconfig "github.com/william-takayama/ecommerce-cart/pkg/config"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config holds all configuration for the storefront.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"STOREFRONT_HTTP_PORT" envDefault:"8080"`

	// Remote catalog
	CatalogBaseURL    string        `env:"CATALOG_BASE_URL" envDefault:"http://localhost:3333"`
	CatalogLookup     string        `env:"CATALOG_LOOKUP" envDefault:"query"`
	CatalogTimeout    time.Duration `env:"CATALOG_TIMEOUT" envDefault:"10s"`
	CatalogMaxRetries int           `env:"CATALOG_MAX_RETRIES" envDefault:"2"`

	// Cart persistence
	StorageDriver string `env:"CART_STORAGE_DRIVER" envDefault:"file"`
	StorageDir    string `env:"CART_STORAGE_DIR" envDefault:"./data"`
	StorageKey    string `env:"CART_STORAGE_KEY" envDefault:"@RocketShoes:cart"`
	// Cart TTL in hours for the redis driver; 0 keeps carts forever.
	CartTTL int `env:"CART_TTL_HOURS" envDefault:"168"`
	// Session carts held in memory; 0 keeps every session loaded.
	CartSessionLimit int `env:"CART_SESSION_LIMIT" envDefault:"10000"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// PostgreSQL
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"storefront"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"storefront"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// Kafka; no brokers disables cart events.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Notifications kept for the presentation layer.
	NotificationBuffer int `env:"NOTIFICATION_BUFFER" envDefault:"50"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CartTTLDuration returns CartTTL as a duration.
func (c *Config) CartTTLDuration() time.Duration {
	return time.Duration(c.CartTTL) * time.Hour
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.CatalogBaseURL == "" {
		return fmt.Errorf("CATALOG_BASE_URL is required")
	}
	switch catalog.Lookup(c.CatalogLookup) {
	case catalog.LookupQuery, catalog.LookupPath:
	default:
		return fmt.Errorf("CATALOG_LOOKUP must be one of query, path: got %q", c.CatalogLookup)
	}
	if c.CatalogTimeout <= 0 {
		return fmt.Errorf("CATALOG_TIMEOUT must be positive")
	}
	if c.CatalogMaxRetries < 0 {
		return fmt.Errorf("CATALOG_MAX_RETRIES must not be negative")
	}
	switch c.StorageDriver {
	case StorageMemory, StorageRedis, StoragePostgres:
	case StorageFile:
		if c.StorageDir == "" {
			return fmt.Errorf("CART_STORAGE_DIR is required for the file driver")
		}
	default:
		return fmt.Errorf("CART_STORAGE_DRIVER must be one of memory, file, redis, postgres: got %q", c.StorageDriver)
	}
	if c.StorageKey == "" {
		return fmt.Errorf("CART_STORAGE_KEY is required")
	}
	if c.CartTTL < 0 {
		return fmt.Errorf("CART_TTL_HOURS must not be negative")
	}
	if c.CartSessionLimit < 0 {
		return fmt.Errorf("CART_SESSION_LIMIT must not be negative")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %v", c.OTELSampleRate)
	}
	if c.NotificationBuffer < 1 {
		return fmt.Errorf("NOTIFICATION_BUFFER must be at least 1")
	}
	return nil
}
