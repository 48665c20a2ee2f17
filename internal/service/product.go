package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/william-takayama/ecommerce-cart/internal/domain"
	"github.com/william-takayama/ecommerce-cart/internal/notify"
	"github.com/william-takayama/ecommerce-cart/pkg/logger"
	"github.com/william-takayama/ecommerce-cart/pkg/money"
)

const (
	MsgProductsLoaded     = "Products loaded successfully!"
	MsgProductsLoadFailed = "Erro no carregamento dos produtos"
)

const opListProducts = "list_products"

// ProductLister lists the whole catalog.
type ProductLister interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// CartReader exposes the cart of the shopper session in ctx.
type CartReader interface {
	Snapshot(ctx context.Context) domain.Cart
}

// ProductListing is a catalog product decorated for the listing page.
type ProductListing struct {
	domain.Product
	PriceFormatted string `json:"price_formatted"`
	CartAmount     int    `json:"cart_amount"`
}

// ProductService builds the product listing.
type ProductService struct {
	catalog ProductLister
	cart    CartReader
	sink    notify.Sink
	logger  *slog.Logger
}

// NewProductService creates a new product service.
func NewProductService(catalog ProductLister, cart CartReader, sink notify.Sink, logger *slog.Logger) *ProductService {
	return &ProductService{
		catalog: catalog,
		cart:    cart,
		sink:    sink,
		logger:  logger,
	}
}

// ListProducts returns every catalog product with its formatted price and the
// amount already in the cart. The shopper is notified either way.
func (s *ProductService) ListProducts(ctx context.Context) ([]ProductListing, error) {
	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		cartOperations.WithLabelValues(opListProducts, outcomeOf(err)).Inc()
		logger.WithContext(ctx, s.logger).ErrorContext(ctx, "failed to load products",
			slog.String("error", err.Error()),
		)
		s.sink.Notify(ctx, MsgProductsLoadFailed, notify.SeverityError)
		return nil, fmt.Errorf("list products: %w", err)
	}

	amounts := s.cart.Snapshot(ctx).AmountByProduct()
	out := make([]ProductListing, len(products))
	for i, p := range products {
		out[i] = ProductListing{
			Product:        p,
			PriceFormatted: money.Format(p.Price.Decimal),
			CartAmount:     amounts[p.ID],
		}
	}

	cartOperations.WithLabelValues(opListProducts, outcomeSuccess).Inc()
	s.sink.Notify(ctx, MsgProductsLoaded, notify.SeveritySuccess)
	return out, nil
}
