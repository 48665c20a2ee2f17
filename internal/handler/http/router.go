package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/william-takayama/ecommerce-cart/pkg/health"
	"github.com/william-takayama/ecommerce-cart/pkg/middleware"
)

const serviceName = "storefront"

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(
	cartHandler *CartHandler,
	productHandler *ProductHandler,
	healthHandler *health.Handler,
	cors middleware.CORSConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cors))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Session)
		r.Use(ContentTypeJSON)

		r.Get("/products", productHandler.ListProducts)
		r.Get("/notifications", cartHandler.DrainNotifications)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Post("/items", cartHandler.AddProduct)
			r.Patch("/items/{productId}", cartHandler.UpdateProductAmount)
			r.Put("/items/{productId}", cartHandler.SetProductAmount)
			r.Delete("/items/{productId}", cartHandler.RemoveProduct)
		})
	})

	return r
}
