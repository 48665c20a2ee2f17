package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/william-takayama/ecommerce-cart/internal/config"
	"github.com/william-takayama/ecommerce-cart/internal/storage"
	"github.com/william-takayama/ecommerce-cart/internal/storage/file"
	pgstore "github.com/william-takayama/ecommerce-cart/internal/storage/postgres"
	redisstore "github.com/william-takayama/ecommerce-cart/internal/storage/redis"
	"github.com/william-takayama/ecommerce-cart/pkg/database"
	"github.com/william-takayama/ecommerce-cart/pkg/health"
)

const slowQueryThreshold = 200 * time.Millisecond

// cartStore is the configured storage driver plus what the app needs to
// check and release it.
type cartStore struct {
	storage.Store
	ping  health.Checker
	close func()
}

func openStore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*cartStore, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		return &cartStore{Store: storage.NewMemory(), close: func() {}}, nil

	case config.StorageFile:
		s, err := file.New(cfg.StorageDir)
		if err != nil {
			return nil, err
		}
		return &cartStore{Store: s, ping: s.Ping, close: func() {}}, nil

	case config.StorageRedis:
		rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
		s := redisstore.New(rdb, cfg.CartTTLDuration())
		return &cartStore{Store: s, ping: s.Ping, close: func() {
			if err := rdb.Close(); err != nil {
				logger.Error("redis close error", slog.String("error", err.Error()))
			}
		}}, nil

	case config.StoragePostgres:
		pgcfg := database.DefaultPostgresConfig()
		pgcfg.Host = cfg.PostgresHost
		pgcfg.Port = cfg.PostgresPort
		pgcfg.User = cfg.PostgresUser
		pgcfg.Password = cfg.PostgresPassword
		pgcfg.DBName = cfg.PostgresDB
		pgcfg.SSLMode = cfg.PostgresSSLMode

		pool, err := database.NewPostgresPool(ctx, &pgcfg, logger)
		if err != nil {
			return nil, err
		}
		if err := database.RegisterPoolMetrics(reg, pool, "storefront"); err != nil {
			pool.Close()
			return nil, err
		}
		database.SetSlowQueryLogging(slowQueryThreshold, logger)

		s := pgstore.New(pool)
		if err := s.Migrate(ctx, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate kv_store: %w", err)
		}
		return &cartStore{Store: s, ping: pool.Ping, close: pool.Close}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
