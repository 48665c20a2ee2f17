package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/william-takayama/ecommerce-cart/internal/domain"
	"github.com/william-takayama/ecommerce-cart/internal/notify"
	"github.com/william-takayama/ecommerce-cart/internal/service"
	apperrors "github.com/william-takayama/ecommerce-cart/pkg/errors"
	"github.com/william-takayama/ecommerce-cart/pkg/health"
	"github.com/william-takayama/ecommerce-cart/pkg/logger"
	"github.com/william-takayama/ecommerce-cart/pkg/middleware"
)

// ============================================================================
// Mocks
// ============================================================================

type mockCartEngine struct {
	mock.Mock
}

func (m *mockCartEngine) AddProduct(ctx context.Context, productID int) {
	m.Called(ctx, productID)
}

func (m *mockCartEngine) RemoveProduct(ctx context.Context, productID int) {
	m.Called(ctx, productID)
}

func (m *mockCartEngine) UpdateProductAmount(ctx context.Context, in service.UpdateProductAmount) {
	m.Called(ctx, in)
}

func (m *mockCartEngine) SetProductAmount(ctx context.Context, in service.UpdateProductAmount) {
	m.Called(ctx, in)
}

func (m *mockCartEngine) Snapshot(_ context.Context) domain.Cart {
	return m.Called().Get(0).(domain.Cart)
}

type mockProductLister struct {
	mock.Mock
}

func (m *mockProductLister) ListProducts(ctx context.Context) ([]service.ProductListing, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.ProductListing), args.Error(1)
}

// ============================================================================
// Test helpers
// ============================================================================

type testEnv struct {
	engine   *mockCartEngine
	products *mockProductLister
	queue    *notify.Queue
	sink     notify.Sink
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		engine:   new(mockCartEngine),
		products: new(mockProductLister),
		queue:    notify.NewQueue(10),
	}
	env.sink = notify.Scoped{Fallback: env.queue}
	env.router = NewRouter(
		NewCartHandler(env.engine, env.queue, l),
		NewProductHandler(env.products, l),
		health.NewHandler(),
		middleware.DefaultCORSConfig(),
		l,
	)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, "", method, path, body)
}

func (e *testEnv) doAs(t *testing.T, session, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set(middleware.SessionHeader, session)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// notifyFrom makes a mocked engine call raise a notification the way the cart
// service does, through the request context.
func (e *testEnv) notifyFrom(message string, severity notify.Severity) func(mock.Arguments) {
	return func(args mock.Arguments) {
		e.sink.Notify(args.Get(0).(context.Context), message, severity)
	}
}

func sessionCtx(id string) context.Context {
	return logger.WithSessionID(context.Background(), id)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func sampleCart() domain.Cart {
	return domain.Cart{Items: []domain.CartLineItem{
		{ID: 1, Title: "Tênis", Price: domain.NewPrice(decimal.RequireFromString("179.9")), Image: "a", Amount: 2},
		{ID: 3, Title: "Adidas", Price: domain.NewPrice(decimal.RequireFromString("219.9")), Image: "c", Amount: 1},
	}}
}

// ============================================================================
// Tests
// ============================================================================

func TestGetCart(t *testing.T) {
	env := newTestEnv(t)
	env.engine.On("Snapshot").Return(sampleCart())

	rec := env.do(t, http.MethodGet, "/api/v1/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cart CartResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &cart))
	assert.Equal(t, 3, cart.ItemCount)
	assert.True(t, decimal.RequireFromString("579.7").Equal(cart.Total.Decimal))
	assert.Equal(t, "R$ 579,70", cart.TotalFormatted)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, "R$ 359,80", cart.Items[0].SubtotalFormatted)
	assert.Equal(t, "R$ 179,90", cart.Items[0].PriceFormatted)
	assert.NotEmpty(t, rec.Header().Get(middleware.SessionHeader))
}

func TestGetCart_EmptyItemsIsList(t *testing.T) {
	env := newTestEnv(t)
	env.engine.On("Snapshot").Return(domain.Cart{})

	rec := env.do(t, http.MethodGet, "/api/v1/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"item_count":0,"total":0,"total_formatted":"R$ 0,00"}`, string(decode(t, rec).Data))
}

func TestAddProduct(t *testing.T) {
	env := newTestEnv(t)
	env.engine.On("AddProduct", mock.Anything, 3).
		Run(env.notifyFrom("Adidas added successfully!", notify.SeveritySuccess)).Return()
	env.engine.On("Snapshot").Return(sampleCart())

	rec := env.doAs(t, "shopper-a", http.MethodPost, "/api/v1/cart/items", `{"product_id":3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MutationResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &resp))
	assert.Len(t, resp.Cart.Items, 2)
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "Adidas added successfully!", resp.Notifications[0].Message)
	assert.Zero(t, env.queue.Len(sessionCtx("shopper-a")), "mutation notifications are not queued")
	env.engine.AssertExpectations(t)
}

func TestAddProduct_ReturnsOnlyItsOwnNotifications(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("ListProducts", mock.Anything).
		Run(env.notifyFrom(service.MsgProductsLoaded, notify.SeveritySuccess)).
		Return([]service.ProductListing{}, nil)
	env.engine.On("AddProduct", mock.Anything, 1).
		Run(env.notifyFrom("Tênis added successfully!", notify.SeveritySuccess)).Return()
	env.engine.On("Snapshot").Return(sampleCart())

	require.Equal(t, http.StatusOK, env.doAs(t, "shopper-a", http.MethodGet, "/api/v1/products", "").Code)
	rec := env.doAs(t, "shopper-a", http.MethodPost, "/api/v1/cart/items", `{"product_id":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MutationResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &resp))
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "Tênis added successfully!", resp.Notifications[0].Message)

	var queued []notify.Notification
	require.NoError(t, json.Unmarshal(decode(t, env.doAs(t, "shopper-a", http.MethodGet, "/api/v1/notifications", "")).Data, &queued))
	require.Len(t, queued, 1)
	assert.Equal(t, service.MsgProductsLoaded, queued[0].Message)
}

func TestAddProduct_BusinessFailureIsStill200(t *testing.T) {
	env := newTestEnv(t)
	env.engine.On("AddProduct", mock.Anything, 1).
		Run(env.notifyFrom(service.MsgOutOfStock, notify.SeverityWarning)).Return()
	env.engine.On("Snapshot").Return(domain.Cart{})

	rec := env.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MutationResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &resp))
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, notify.SeverityWarning, resp.Notifications[0].Severity)
}

func TestAddProduct_InvalidBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing id", `{}`, "VALIDATION_ERROR"},
		{"negative id", `{"product_id":-1}`, "VALIDATION_ERROR"},
		{"not json", `{product_id`, "INVALID_INPUT"},
		{"unknown field", `{"product_id":1,"qty":2}`, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/v1/cart/items", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			env.engine.AssertNotCalled(t, "AddProduct", mock.Anything, mock.Anything)
		})
	}
}

func TestAddProduct_WrongContentType(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString(`product_id=1`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUpdateProductAmount(t *testing.T) {
	env := newTestEnv(t)
	env.engine.On("UpdateProductAmount", mock.Anything, service.UpdateProductAmount{ProductID: 1, Amount: 2}).Return()
	env.engine.On("Snapshot").Return(sampleCart())

	rec := env.do(t, http.MethodPatch, "/api/v1/cart/items/1", `{"amount":2}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	env.engine.AssertExpectations(t)
}

func TestUpdateProductAmount_ZeroIsPassedThrough(t *testing.T) {
	env := newTestEnv(t)
	env.engine.On("UpdateProductAmount", mock.Anything, service.UpdateProductAmount{ProductID: 1, Amount: 0}).Return()
	env.engine.On("Snapshot").Return(sampleCart())

	rec := env.do(t, http.MethodPatch, "/api/v1/cart/items/1", `{"amount":0}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	env.engine.AssertExpectations(t)
}

func TestSetProductAmount(t *testing.T) {
	env := newTestEnv(t)
	env.engine.On("SetProductAmount", mock.Anything, service.UpdateProductAmount{ProductID: 3, Amount: 1}).Return()
	env.engine.On("Snapshot").Return(sampleCart())

	rec := env.do(t, http.MethodPut, "/api/v1/cart/items/3", `{"amount":1}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	env.engine.AssertExpectations(t)
}

func TestAmountEndpoints_BadInput(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   string
	}{
		{"missing amount", http.MethodPatch, "/api/v1/cart/items/1", `{}`, "VALIDATION_ERROR"},
		{"bad id", http.MethodPut, "/api/v1/cart/items/abc", `{"amount":1}`, "INVALID_PARAMETER"},
		{"zero id", http.MethodPatch, "/api/v1/cart/items/0", `{"amount":1}`, "INVALID_PARAMETER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, tt.method, tt.path, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestRemoveProduct(t *testing.T) {
	env := newTestEnv(t)
	env.engine.On("RemoveProduct", mock.Anything, 3).
		Run(env.notifyFrom(service.MsgRemoved, notify.SeveritySuccess)).Return()
	env.engine.On("Snapshot").Return(domain.Cart{Items: sampleCart().Items[:1]})

	rec := env.do(t, http.MethodDelete, "/api/v1/cart/items/3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MutationResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &resp))
	assert.Len(t, resp.Cart.Items, 1)
	assert.Equal(t, service.MsgRemoved, resp.Notifications[0].Message)
}

func TestDrainNotifications(t *testing.T) {
	env := newTestEnv(t)
	env.queue.Notify(sessionCtx("shopper-a"), service.MsgProductsLoaded, notify.SeveritySuccess)

	rec := env.doAs(t, "shopper-b", http.MethodGet, "/api/v1/notifications", "")
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String(), "other sessions see nothing")

	rec = env.doAs(t, "shopper-a", http.MethodGet, "/api/v1/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []notify.Notification
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, service.MsgProductsLoaded, got[0].Message)

	rec = env.doAs(t, "shopper-a", http.MethodGet, "/api/v1/notifications", "")
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestListProducts(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("ListProducts", mock.Anything).Return([]service.ProductListing{{
		Product:        domain.Product{ID: 1, Title: "Tênis", Price: domain.NewPrice(decimal.RequireFromString("179.9")), Image: "a"},
		PriceFormatted: "R$ 179,90",
		CartAmount:     2,
	}}, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1,"title":"Tênis","price":179.9,"image":"a","price_formatted":"R$ 179,90","cart_amount":2}]`,
		string(decode(t, rec).Data))
}

func TestListProducts_CatalogDown(t *testing.T) {
	env := newTestEnv(t)
	env.products.On("ListProducts", mock.Anything).
		Return(nil, apperrors.UpstreamFailure("catalog", errors.New("connection refused")))

	rec := env.do(t, http.MethodGet, "/api/v1/products", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UPSTREAM_FAILURE", resp.Error.Code)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/metrics", "").Code)
}

func TestSessionHeaderIsEchoed(t *testing.T) {
	env := newTestEnv(t)
	env.engine.On("Snapshot").Return(domain.Cart{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(middleware.SessionHeader, "shopper-7")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, "shopper-7", rec.Header().Get(middleware.SessionHeader))
}
