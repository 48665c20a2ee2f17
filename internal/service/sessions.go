package service

import (
	"context"
	"sync"
	"time"

	"github.com/william-takayama/ecommerce-cart/internal/domain"
	"github.com/william-takayama/ecommerce-cart/pkg/logger"
)

// CartFactory builds the cart persisted under key.
type CartFactory func(ctx context.Context, key string) *CartService

// CartSessions keeps one CartService per shopper session. The session id is
// taken from the request context and each session's cart is persisted under
// "<base key>:<session id>"; a context without a session uses the base key.
//
// At most limit carts are held in memory. Past that, the least recently used
// cart with no operation in flight is dropped; it is reloaded from the store
// on the session's next request.
type CartSessions struct {
	build   CartFactory
	baseKey string
	limit   int
	now     func() time.Time

	mu    sync.Mutex
	carts map[string]*sessionCart
}

type sessionCart struct {
	cart     *CartService
	ready    chan struct{}
	refs     int
	lastUsed time.Time
}

// NewCartSessions creates a session registry. A limit below 1 disables
// eviction.
func NewCartSessions(baseKey string, limit int, build CartFactory) *CartSessions {
	if baseKey == "" {
		baseKey = DefaultStorageKey
	}
	return &CartSessions{
		build:   build,
		baseKey: baseKey,
		limit:   limit,
		now:     time.Now,
		carts:   make(map[string]*sessionCart),
	}
}

// StorageKey returns the key the cart of sessionID is persisted under.
func (s *CartSessions) StorageKey(sessionID string) string {
	if sessionID == "" {
		return s.baseKey
	}
	return s.baseKey + ":" + sessionID
}

// Len returns the number of carts held in memory.
func (s *CartSessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carts)
}

// acquire returns the cart of the session in ctx, loading it on first use.
// release must be called once the caller is done with it.
func (s *CartSessions) acquire(ctx context.Context) (cart *CartService, release func()) {
	id := logger.SessionIDFromContext(ctx)

	s.mu.Lock()
	entry, ok := s.carts[id]
	if !ok {
		s.evictIdle()
		entry = &sessionCart{ready: make(chan struct{})}
		s.carts[id] = entry
	}
	entry.refs++
	entry.lastUsed = s.now()
	s.mu.Unlock()

	if ok {
		<-entry.ready
	} else {
		// The load outlives cancellation of the request that triggered it.
		entry.cart = s.build(context.WithoutCancel(ctx), s.StorageKey(id))
		close(entry.ready)
	}

	return entry.cart, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entry.refs--
		entry.lastUsed = s.now()
	}
}

// evictIdle drops idle carts until there is room for one more. Callers hold mu.
func (s *CartSessions) evictIdle() {
	if s.limit < 1 {
		return
	}
	for len(s.carts) >= s.limit {
		var (
			victim string
			oldest time.Time
			found  bool
		)
		for id, entry := range s.carts {
			if entry.refs > 0 {
				continue
			}
			if !found || entry.lastUsed.Before(oldest) {
				victim, oldest, found = id, entry.lastUsed, true
			}
		}
		if !found {
			return
		}
		delete(s.carts, victim)
	}
}

// AddProduct runs CartService.AddProduct on the session's cart.
func (s *CartSessions) AddProduct(ctx context.Context, productID int) {
	cart, release := s.acquire(ctx)
	defer release()
	cart.AddProduct(ctx, productID)
}

// RemoveProduct runs CartService.RemoveProduct on the session's cart.
func (s *CartSessions) RemoveProduct(ctx context.Context, productID int) {
	cart, release := s.acquire(ctx)
	defer release()
	cart.RemoveProduct(ctx, productID)
}

// UpdateProductAmount runs CartService.UpdateProductAmount on the session's cart.
func (s *CartSessions) UpdateProductAmount(ctx context.Context, in UpdateProductAmount) {
	cart, release := s.acquire(ctx)
	defer release()
	cart.UpdateProductAmount(ctx, in)
}

// SetProductAmount runs CartService.SetProductAmount on the session's cart.
func (s *CartSessions) SetProductAmount(ctx context.Context, in UpdateProductAmount) {
	cart, release := s.acquire(ctx)
	defer release()
	cart.SetProductAmount(ctx, in)
}

// Snapshot returns a copy of the session's cart.
func (s *CartSessions) Snapshot(ctx context.Context) domain.Cart {
	cart, release := s.acquire(ctx)
	defer release()
	return cart.Snapshot()
}
