package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/william-takayama/ecommerce-cart/internal/service"
	"github.com/william-takayama/ecommerce-cart/pkg/httputil"
)

// ProductLister builds the product listing.
type ProductLister interface {
	ListProducts(ctx context.Context) ([]service.ProductListing, error)
}

// ProductHandler serves the product listing page.
type ProductHandler struct {
	products ProductLister
	logger   *slog.Logger
}

// NewProductHandler creates a new product HTTP handler.
func NewProductHandler(products ProductLister, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{products: products, logger: logger}
}

// ListProducts handles GET /api/v1/products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: products})
}
