package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/william-takayama/ecommerce-cart/internal/domain"
	"github.com/william-takayama/ecommerce-cart/internal/notify"
	"github.com/william-takayama/ecommerce-cart/internal/storage"
	apperrors "github.com/william-takayama/ecommerce-cart/pkg/errors"
	"github.com/william-takayama/ecommerce-cart/pkg/logger"
)

// DefaultStorageKey is the key the cart snapshot is persisted under.
const DefaultStorageKey = "@RocketShoes:cart"

// maxCommitAttempts bounds how often an operation is re-planned when another
// operation committed first.
const maxCommitAttempts = 3

// Shopper-facing messages.
const (
	MsgAddFailed     = "Erro na adição do produto"
	MsgRemoveFailed  = "Erro na remoção do produto"
	MsgUpdateFailed  = "Erro na alteração de quantidade do produto"
	MsgOutOfStock    = "Quantidade solicitada fora de estoque"
	MsgRemoved       = "Product removed successfully!"
	msgAddedTemplate = "%s added successfully!"
)

const (
	opAddProduct    = "add_product"
	opRemoveProduct = "remove_product"
	opUpdateAmount  = "update_product_amount"
	opSetAmount     = "set_product_amount"
)

var errPersist = errors.New("persist cart")

// Catalog is the read side of the remote catalog the engine depends on.
type Catalog interface {
	GetProductByID(ctx context.Context, id int) (*domain.Product, error)
	GetStockByProductID(ctx context.Context, id int) (*domain.Stock, error)
}

// EventPublisher announces committed cart changes.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, key, operation string, cart domain.Cart, version int64) error
}

// UpdateProductAmount holds the parameters for changing a line's amount.
type UpdateProductAmount struct {
	ProductID int `json:"product_id" validate:"required,gt=0"`
	Amount    int `json:"amount"`
}

// Option configures a CartService.
type Option func(*CartService)

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) Option {
	return func(s *CartService) {
		if key != "" {
			s.key = key
		}
	}
}

// WithEventPublisher publishes a cart.updated event after every commit.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *CartService) { s.publisher = p }
}

// WithClock replaces time.Now for seeding the cart version.
func WithClock(now func() time.Time) Option {
	return func(s *CartService) {
		if now != nil {
			s.now = now
		}
	}
}

// CartService owns the shopper's cart. Operations never return errors: every
// failure is reported through the notification sink and leaves the cart as it
// was.
//
// Each operation plans its change against a versioned snapshot without holding
// the lock, then commits only if no other operation committed in between.
// The store is written before memory is updated.
//
// The version starts at the load time in nanoseconds and grows by one per
// commit, so versions published after a reload are higher than any published
// before it.
type CartService struct {
	catalog   Catalog
	store     storage.Store
	sink      notify.Sink
	publisher EventPublisher
	logger    *slog.Logger
	key       string
	now       func() time.Time

	mu      sync.Mutex
	cart    domain.Cart
	version int64
}

// NewCartService creates a cart service and loads the persisted cart. A
// missing, empty or malformed snapshot yields an empty cart.
func NewCartService(ctx context.Context, catalog Catalog, store storage.Store, sink notify.Sink, logger *slog.Logger, opts ...Option) *CartService {
	s := &CartService{
		catalog: catalog,
		store:   store,
		sink:    sink,
		logger:  logger,
		key:     DefaultStorageKey,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cart = s.load(ctx)
	s.version = s.now().UnixNano()
	return s
}

func (s *CartService) load(ctx context.Context) domain.Cart {
	raw, ok, err := s.store.Get(ctx, s.key)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read persisted cart, starting empty",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
		)
		return domain.Cart{}
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return domain.Cart{}
	}

	items, err := decodeItems(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "persisted cart is malformed, starting empty",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
		)
		return domain.Cart{}
	}

	s.logger.InfoContext(ctx, "cart restored",
		slog.String("key", s.key),
		slog.Int("lines", len(items)),
	)
	return domain.Cart{Items: items}
}

func decodeItems(raw string) ([]domain.CartLineItem, error) {
	var items []domain.CartLineItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}

	seen := make(map[int]bool, len(items))
	for _, item := range items {
		if item.Amount < 1 {
			return nil, fmt.Errorf("product %d has amount %d", item.ID, item.Amount)
		}
		if seen[item.ID] {
			return nil, fmt.Errorf("product %d appears twice", item.ID)
		}
		seen[item.ID] = true
	}
	return items, nil
}

func encodeItems(items []domain.CartLineItem) (string, error) {
	if items == nil {
		items = []domain.CartLineItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode cart: %w", err)
	}
	return string(raw), nil
}

// Cart returns a copy of the current line items in insertion order.
func (s *CartService) Cart() []domain.CartLineItem {
	return s.Snapshot().Items
}

// Snapshot returns a copy of the current cart.
func (s *CartService) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// AddProduct adds one unit of productID. A product already in the cart is
// incremented by one; a new one is appended with amount 1.
func (s *CartService) AddProduct(ctx context.Context, productID int) {
	var title string

	err := s.mutate(ctx, opAddProduct, func(ctx context.Context, current domain.Cart) (domain.Cart, error) {
		product, err := s.catalog.GetProductByID(ctx, productID)
		if err != nil {
			return domain.Cart{}, fmt.Errorf("get product %d: %w", productID, err)
		}
		title = product.Title

		if current.IndexOf(productID) >= 0 {
			return s.increment(ctx, current, productID, 1)
		}

		if err := s.checkStock(ctx, productID, 1); err != nil {
			return domain.Cart{}, err
		}
		current.Items = append(current.Items, domain.NewCartLineItem(*product, 1))
		return current, nil
	})
	if err != nil {
		s.fail(ctx, opAddProduct, productID, err, MsgAddFailed)
		return
	}

	s.succeed(ctx, opAddProduct, productID)
	s.sink.Notify(ctx, fmt.Sprintf(msgAddedTemplate, title), notify.SeveritySuccess)
}

// RemoveProduct drops the line for productID, keeping the order of the rest.
func (s *CartService) RemoveProduct(ctx context.Context, productID int) {
	err := s.mutate(ctx, opRemoveProduct, func(_ context.Context, current domain.Cart) (domain.Cart, error) {
		idx := current.IndexOf(productID)
		if idx < 0 {
			return domain.Cart{}, apperrors.NotFound("cart item", strconv.Itoa(productID))
		}
		current.Items = slices.Delete(current.Items, idx, idx+1)
		return current, nil
	})
	if err != nil {
		s.fail(ctx, opRemoveProduct, productID, err, MsgRemoveFailed)
		return
	}

	s.succeed(ctx, opRemoveProduct, productID)
	s.sink.Notify(ctx, MsgRemoved, notify.SeveritySuccess)
}

// UpdateProductAmount increments the line for in.ProductID by in.Amount. A
// non-positive amount is ignored. There is no success notification.
func (s *CartService) UpdateProductAmount(ctx context.Context, in UpdateProductAmount) {
	if in.Amount <= 0 {
		cartOperations.WithLabelValues(opUpdateAmount, outcomeNoop).Inc()
		return
	}

	err := s.mutate(ctx, opUpdateAmount, func(ctx context.Context, current domain.Cart) (domain.Cart, error) {
		return s.increment(ctx, current, in.ProductID, in.Amount)
	})
	if err != nil {
		s.fail(ctx, opUpdateAmount, in.ProductID, err, MsgUpdateFailed)
		return
	}

	s.succeed(ctx, opUpdateAmount, in.ProductID)
}

// SetProductAmount sets the line for in.ProductID to exactly in.Amount. A
// non-positive amount is ignored. There is no success notification.
func (s *CartService) SetProductAmount(ctx context.Context, in UpdateProductAmount) {
	if in.Amount <= 0 {
		cartOperations.WithLabelValues(opSetAmount, outcomeNoop).Inc()
		return
	}

	err := s.mutate(ctx, opSetAmount, func(ctx context.Context, current domain.Cart) (domain.Cart, error) {
		if err := s.checkStock(ctx, in.ProductID, in.Amount); err != nil {
			return domain.Cart{}, err
		}
		idx := current.IndexOf(in.ProductID)
		if idx < 0 {
			return domain.Cart{}, apperrors.NotFound("cart item", strconv.Itoa(in.ProductID))
		}
		current.Items[idx].Amount = in.Amount
		return current, nil
	})
	if err != nil {
		s.fail(ctx, opSetAmount, in.ProductID, err, MsgUpdateFailed)
		return
	}

	s.succeed(ctx, opSetAmount, in.ProductID)
}

// increment adds amount to an existing line after checking the result fits
// the current stock.
func (s *CartService) increment(ctx context.Context, current domain.Cart, productID, amount int) (domain.Cart, error) {
	idx := current.IndexOf(productID)
	var have int
	if idx >= 0 {
		have = current.Items[idx].Amount
	}

	if err := s.checkStock(ctx, productID, have+amount); err != nil {
		return domain.Cart{}, err
	}
	if idx < 0 {
		return domain.Cart{}, apperrors.NotFound("cart item", strconv.Itoa(productID))
	}

	current.Items[idx].Amount += amount
	return current, nil
}

// checkStock fetches fresh stock and fails with OutOfStock when it cannot
// cover wanted. An unavailable stock record counts as zero.
func (s *CartService) checkStock(ctx context.Context, productID, wanted int) error {
	stock, err := s.catalog.GetStockByProductID(ctx, productID)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("get stock %d: %w", productID, err)
		}
		logger.WithContext(ctx, s.logger).WarnContext(ctx, "stock unavailable, treating as zero",
			slog.Int("product_id", productID),
			slog.String("error", err.Error()),
		)
		return apperrors.OutOfStock(strconv.Itoa(productID), wanted, 0)
	}
	if !stock.Covers(wanted) {
		return apperrors.OutOfStock(strconv.Itoa(productID), wanted, stock.Amount)
	}
	return nil
}

// planFunc computes the next cart from a private copy of the current one.
type planFunc func(ctx context.Context, current domain.Cart) (domain.Cart, error)

func (s *CartService) mutate(ctx context.Context, operation string, plan planFunc) error {
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		current, version := s.snapshotVersion()

		next, err := plan(ctx, current)
		if err != nil {
			return err
		}

		committed, err := s.commit(ctx, next, version)
		if err != nil {
			return err
		}
		if committed {
			s.publish(ctx, operation, next, version+1)
			return nil
		}

		logger.WithContext(ctx, s.logger).DebugContext(ctx, "cart changed during operation, replanning",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
		)
	}
	return apperrors.Conflict("cart was modified concurrently")
}

func (s *CartService) snapshotVersion() (domain.Cart, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone(), s.version
}

// commit persists next and installs it as the current cart, provided the
// version is still expected. It reports false when another commit won.
func (s *CartService) commit(ctx context.Context, next domain.Cart, expected int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version != expected {
		return false, nil
	}

	raw, err := encodeItems(next.Items)
	if err != nil {
		return false, fmt.Errorf("%w: %w", errPersist, err)
	}
	if err := s.store.Set(ctx, s.key, raw); err != nil {
		return false, fmt.Errorf("%w: %w", errPersist, err)
	}

	s.cart = next
	s.version++
	return true, nil
}

func (s *CartService) publish(ctx context.Context, operation string, cart domain.Cart, version int64) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishCartUpdated(ctx, s.key, operation, cart, version); err != nil {
		logger.WithContext(ctx, s.logger).ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CartService) succeed(ctx context.Context, operation string, productID int) {
	cartOperations.WithLabelValues(operation, outcomeSuccess).Inc()
	logger.WithContext(ctx, s.logger).InfoContext(ctx, "cart updated",
		slog.String("operation", operation),
		slog.Int("product_id", productID),
	)
}

// fail reports err to the shopper. Stock rejections become a warning; every
// other failure becomes an error carrying the operation's message.
func (s *CartService) fail(ctx context.Context, operation string, productID int, err error, message string) {
	outcome := outcomeOf(err)
	cartOperations.WithLabelValues(operation, outcome).Inc()

	l := logger.WithContext(ctx, s.logger)
	attrs := []any{
		slog.String("operation", operation),
		slog.Int("product_id", productID),
		slog.String("outcome", outcome),
		slog.String("error", err.Error()),
	}

	switch outcome {
	case outcomeOutOfStock:
		l.InfoContext(ctx, "cart operation rejected", attrs...)
		s.sink.Notify(ctx, MsgOutOfStock, notify.SeverityWarning)
		return
	case outcomeNotFound:
		l.InfoContext(ctx, "cart operation rejected", attrs...)
	case outcomeConflict:
		l.WarnContext(ctx, "cart operation failed", attrs...)
	default:
		l.ErrorContext(ctx, "cart operation failed", attrs...)
	}
	s.sink.Notify(ctx, message, notify.SeverityError)
}
