package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/william-takayama/ecommerce-cart/internal/catalog"
	"github.com/william-takayama/ecommerce-cart/internal/config"
	"github.com/william-takayama/ecommerce-cart/internal/event"
	handler "github.com/william-takayama/ecommerce-cart/internal/handler/http"
	"github.com/william-takayama/ecommerce-cart/internal/notify"
	"github.com/william-takayama/ecommerce-cart/internal/service"
	"github.com/william-takayama/ecommerce-cart/pkg/health"
	"github.com/william-takayama/ecommerce-cart/pkg/httpclient"
	pkgkafka "github.com/william-takayama/ecommerce-cart/pkg/kafka"
	"github.com/william-takayama/ecommerce-cart/pkg/middleware"
	"github.com/william-takayama/ecommerce-cart/pkg/tracing"
)

const serviceName = "storefront"

// initTracer is swapped in tests.
var initTracer = tracing.InitTracer

// App wires together all dependencies and runs the storefront.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	store          *cartStore
	producer       *pkgkafka.Producer
	tracerShutdown func(context.Context) error
	httpServer     *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Tracing.
	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Environment = cfg.Environment
	tcfg.Enabled = cfg.OTELEnabled
	tcfg.OTLPEndpoint = cfg.OTELEndpoint
	tcfg.SampleRate = cfg.OTELSampleRate
	tracerShutdown, err := initTracer(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	fail := func(err error) (*App, error) {
		if shutdownErr := tracerShutdown(context.Background()); shutdownErr != nil {
			logger.Error("tracer shutdown error", slog.String("error", shutdownErr.Error()))
		}
		return nil, err
	}

	// Remote catalog behind retry and a circuit breaker.
	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = cfg.CatalogTimeout
	hcfg.MaxRetries = cfg.CatalogMaxRetries
	catalogHTTP := httpclient.NewCircuitBreakerClient(
		httpclient.New(hcfg),
		httpclient.DefaultCircuitBreakerConfig("catalog"),
		logger,
	)
	catalogClient, err := catalog.NewClient(cfg.CatalogBaseURL, catalog.Lookup(cfg.CatalogLookup), catalogHTTP, logger)
	if err != nil {
		return fail(fmt.Errorf("create catalog client: %w", err))
	}

	// Cart persistence.
	store, err := openStore(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return fail(fmt.Errorf("open cart store: %w", err))
	}
	logger.Info("cart store ready", slog.String("driver", cfg.StorageDriver))

	// Notifications go to the log and to the request that raised them.
	// Those raised outside a mutation wait in the session's queue.
	queue := notify.NewQueue(cfg.NotificationBuffer)
	sink := notify.Fanout{notify.NewLogger(logger), notify.Scoped{Fallback: queue}}

	var opts []service.Option

	// Cart events are optional.
	var producer *pkgkafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		opts = append(opts, service.WithEventPublisher(event.NewProducer(producer, logger)))
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph. Each shopper session gets its own cart.
	carts := service.NewCartSessions(cfg.StorageKey, cfg.CartSessionLimit, func(ctx context.Context, key string) *service.CartService {
		return service.NewCartService(ctx, catalogClient, store, sink, logger,
			append([]service.Option{service.WithStorageKey(key)}, opts...)...)
	})
	productService := service.NewProductService(catalogClient, carts, sink, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	if store.ping != nil {
		healthHandler.RegisterCritical("store", store.ping)
	}
	healthHandler.RegisterNonCritical("catalog", catalogClient.Ping)
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
	}

	// HTTP router.
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	router := handler.NewRouter(
		handler.NewCartHandler(carts, queue, logger),
		handler.NewProductHandler(productService, logger),
		healthHandler,
		cors,
		logger,
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		store:          store,
		producer:       producer,
		tracerShutdown: tracerShutdown,
		httpServer:     httpServer,
	}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	a.store.close()

	if err := a.tracerShutdown(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
