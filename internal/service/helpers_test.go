package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/william-takayama/ecommerce-cart/internal/domain"
	"github.com/william-takayama/ecommerce-cart/internal/notify"
	"github.com/william-takayama/ecommerce-cart/internal/storage"
	apperrors "github.com/william-takayama/ecommerce-cart/pkg/errors"
)

// --- Fake catalog ---

type fakeCatalog struct {
	mu       sync.Mutex
	products map[int]domain.Product
	stock    map[int]int
	// productErr and stockErr force failures for every lookup.
	productErr error
	stockErr   error
	listErr    error

	beforeProduct func(id int)
	beforeStock   func(id int)

	productCalls int
	stockCalls   int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: map[int]domain.Product{
			1: {ID: 1, Title: "Tênis de Caminhada Leve Confortável", Price: domain.NewPrice(decimal.RequireFromString("179.9")), Image: "https://img/1.jpg"},
			2: {ID: 2, Title: "Tênis VR Caminhada Confortável Detalhes Couro Masculino", Price: domain.NewPrice(decimal.RequireFromString("139.9")), Image: "https://img/2.jpg"},
			3: {ID: 3, Title: "Tênis Adidas Duramo Lite 2.0", Price: domain.NewPrice(decimal.RequireFromString("219.9")), Image: "https://img/3.jpg"},
		},
		stock: map[int]int{1: 3, 2: 5, 3: 2},
	}
}

func (c *fakeCatalog) setStock(id, amount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[id] = amount
}

func (c *fakeCatalog) GetProductByID(_ context.Context, id int) (*domain.Product, error) {
	c.mu.Lock()
	c.productCalls++
	hook := c.beforeProduct
	c.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.productErr != nil {
		return nil, c.productErr
	}
	p, ok := c.products[id]
	if !ok {
		return nil, apperrors.NotFound("catalog resource", "/products?id="+strconv.Itoa(id))
	}
	return &p, nil
}

func (c *fakeCatalog) GetStockByProductID(_ context.Context, id int) (*domain.Stock, error) {
	c.mu.Lock()
	c.stockCalls++
	hook := c.beforeStock
	c.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stockErr != nil {
		return nil, c.stockErr
	}
	amount, ok := c.stock[id]
	if !ok {
		return nil, apperrors.NotFound("catalog resource", "/stock?id="+strconv.Itoa(id))
	}
	return &domain.Stock{ProductID: id, Amount: amount}, nil
}

func (c *fakeCatalog) ListProducts(_ context.Context) ([]domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]domain.Product, 0, len(c.products))
	for id := 1; id <= len(c.products); id++ {
		out = append(out, c.products[id])
	}
	return out, nil
}

// --- Recording sink ---

type toast struct {
	Message  string
	Severity notify.Severity
}

type recordingSink struct {
	mu     sync.Mutex
	toasts []toast
}

func (s *recordingSink) Notify(_ context.Context, message string, severity notify.Severity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toasts = append(s.toasts, toast{Message: message, Severity: severity})
}

func (s *recordingSink) all() []toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]toast, len(s.toasts))
	copy(out, s.toasts)
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toasts = nil
}

// --- Store doubles ---

type failingStore struct {
	storage.Store
	failSet bool
	failGet bool
}

func (f *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet {
		return "", false, errors.New("store unreadable")
	}
	return f.Store.Get(ctx, key)
}

func (f *failingStore) Set(ctx context.Context, key, value string) error {
	if f.failSet {
		return errors.New("quota exceeded")
	}
	return f.Store.Set(ctx, key, value)
}

// --- Test helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc     *CartService
	catalog *fakeCatalog
	store   storage.Store
	sink    *recordingSink
}

func newFixture(t *testing.T, store storage.Store, opts ...Option) *fixture {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	catalog := newFakeCatalog()
	sink := &recordingSink{}
	svc := NewCartService(context.Background(), catalog, store, sink, newTestLogger(), opts...)
	return &fixture{svc: svc, catalog: catalog, store: store, sink: sink}
}

// sessions serves f.svc to every session.
func (f *fixture) sessions() *CartSessions {
	return NewCartSessions(DefaultStorageKey, 0, func(context.Context, string) *CartService { return f.svc })
}

// persisted decodes the stored snapshot.
func (f *fixture) persisted(t *testing.T) []domain.CartLineItem {
	t.Helper()
	raw, ok, err := f.store.Get(context.Background(), DefaultStorageKey)
	require.NoError(t, err)
	require.True(t, ok, "cart was never persisted")
	items, err := decodeItems(raw)
	require.NoError(t, err)
	return items
}

func amounts(items []domain.CartLineItem) map[int]int {
	return domain.Cart{Items: items}.AmountByProduct()
}

func ids(items []domain.CartLineItem) []int {
	out := make([]int, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
