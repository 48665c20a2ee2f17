package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/william-takayama/ecommerce-cart/internal/domain"
	"github.com/william-takayama/ecommerce-cart/internal/notify"
	"github.com/william-takayama/ecommerce-cart/internal/service"
	"github.com/william-takayama/ecommerce-cart/pkg/httputil"
	"github.com/william-takayama/ecommerce-cart/pkg/money"
	"github.com/william-takayama/ecommerce-cart/pkg/validator"
)

// CartEngine is the cart API the handlers drive. Every call acts on the cart
// of the shopper session carried by ctx.
type CartEngine interface {
	AddProduct(ctx context.Context, productID int)
	RemoveProduct(ctx context.Context, productID int)
	UpdateProductAmount(ctx context.Context, in service.UpdateProductAmount)
	SetProductAmount(ctx context.Context, in service.UpdateProductAmount)
	Snapshot(ctx context.Context) domain.Cart
}

// Notifications hands out the notifications queued for the session in ctx.
type Notifications interface {
	Drain(ctx context.Context) []notify.Notification
}

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	cart          CartEngine
	notifications Notifications
	logger        *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(cart CartEngine, notifications Notifications, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		cart:          cart,
		notifications: notifications,
		logger:        logger,
	}
}

// --- Request DTOs ---

// AddProductRequest is the JSON request body for adding a product to the cart.
type AddProductRequest struct {
	ProductID int `json:"product_id" validate:"required,gt=0"`
}

// AmountRequest is the JSON request body for changing a line's amount. A
// non-positive amount is accepted and ignored by the cart.
type AmountRequest struct {
	Amount *int `json:"amount" validate:"required"`
}

// --- Response DTOs ---

// LineItemResponse is a cart line with its subtotal.
type LineItemResponse struct {
	domain.CartLineItem
	PriceFormatted    string       `json:"price_formatted"`
	Subtotal          domain.Price `json:"subtotal"`
	SubtotalFormatted string       `json:"subtotal_formatted"`
}

// CartResponse is the cart page view.
type CartResponse struct {
	Items          []LineItemResponse `json:"items"`
	ItemCount      int                `json:"item_count"`
	Total          domain.Price       `json:"total"`
	TotalFormatted string             `json:"total_formatted"`
}

// MutationResponse is returned by every cart mutation. Notifications holds
// exactly what the mutation raised; business failures show up only there.
type MutationResponse struct {
	Cart          CartResponse          `json:"cart"`
	Notifications []notify.Notification `json:"notifications"`
}

func newCartResponse(c domain.Cart) CartResponse {
	items := make([]LineItemResponse, len(c.Items))
	for i, item := range c.Items {
		items[i] = LineItemResponse{
			CartLineItem:      item,
			PriceFormatted:    money.Format(item.Price.Decimal),
			Subtotal:          item.Subtotal(),
			SubtotalFormatted: money.Format(item.Subtotal().Decimal),
		}
	}
	total := c.Total()
	return CartResponse{
		Items:          items,
		ItemCount:      c.ItemCount(),
		Total:          total,
		TotalFormatted: money.Format(total.Decimal),
	}
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newCartResponse(h.cart.Snapshot(r.Context()))})
}

// AddProduct handles POST /api/v1/cart/items
func (h *CartHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	var req AddProductRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ctx, collected := notify.Collect(r.Context())
	h.cart.AddProduct(ctx, req.ProductID)
	h.writeMutation(ctx, w, collected)
}

// UpdateProductAmount handles PATCH /api/v1/cart/items/{productId}
func (h *CartHandler) UpdateProductAmount(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	ctx, collected := notify.Collect(r.Context())
	h.cart.UpdateProductAmount(ctx, in)
	h.writeMutation(ctx, w, collected)
}

// SetProductAmount handles PUT /api/v1/cart/items/{productId}
func (h *CartHandler) SetProductAmount(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	ctx, collected := notify.Collect(r.Context())
	h.cart.SetProductAmount(ctx, in)
	h.writeMutation(ctx, w, collected)
}

// RemoveProduct handles DELETE /api/v1/cart/items/{productId}
func (h *CartHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseID(w, chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	ctx, collected := notify.Collect(r.Context())
	h.cart.RemoveProduct(ctx, productID)
	h.writeMutation(ctx, w, collected)
}

// DrainNotifications handles GET /api/v1/notifications
func (h *CartHandler) DrainNotifications(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.notifications.Drain(r.Context())})
}

func (h *CartHandler) decodeAmount(w http.ResponseWriter, r *http.Request) (service.UpdateProductAmount, bool) {
	productID, ok := httputil.ParseID(w, chi.URLParam(r, "productId"))
	if !ok {
		return service.UpdateProductAmount{}, false
	}

	var req AmountRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return service.UpdateProductAmount{}, false
	}

	return service.UpdateProductAmount{ProductID: productID, Amount: *req.Amount}, true
}

func (h *CartHandler) writeMutation(ctx context.Context, w http.ResponseWriter, collected *notify.Collector) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: MutationResponse{
		Cart:          newCartResponse(h.cart.Snapshot(ctx)),
		Notifications: collected.Notifications(),
	}})
}
