package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/william-takayama/ecommerce-cart/internal/domain"
	apperrors "github.com/william-takayama/ecommerce-cart/pkg/errors"
	"github.com/william-takayama/ecommerce-cart/pkg/httpclient"
)

var fixtureProducts = []map[string]any{
	{"id": 1, "title": "Tênis de Caminhada Leve Confortável", "price": 179.9, "image": "https://img/1.jpg"},
	{"id": 2, "title": "Tênis VR Caminhada Confortável Detalhes Couro Masculino", "price": 139.9, "image": "https://img/2.jpg"},
}

var fixtureStock = []map[string]any{
	{"id": 1, "amount": 3},
	{"id": 2, "amount": 5},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func filterByID(records []map[string]any, id string) []map[string]any {
	out := []map[string]any{}
	for _, r := range records {
		if id == "" || jsonID(r) == id {
			out = append(out, r)
		}
	}
	return out
}

func jsonID(r map[string]any) string {
	raw, _ := json.Marshal(r["id"])
	return string(raw)
}

// fakeCatalog serves the fixtures in both lookup styles, like json-server.
func fakeCatalog(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, filterByID(fixtureProducts, r.URL.Query().Get("id")))
	})
	mux.HandleFunc("GET /stock", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, filterByID(fixtureStock, r.URL.Query().Get("id")))
	})
	mux.HandleFunc("GET /products/{id}", func(w http.ResponseWriter, r *http.Request) {
		if m := filterByID(fixtureProducts, r.PathValue("id")); len(m) == 1 {
			writeJSON(w, m[0])
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("GET /stock/{id}", func(w http.ResponseWriter, r *http.Request) {
		if m := filterByID(fixtureStock, r.PathValue("id")); len(m) == 1 {
			writeJSON(w, m[0])
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func plainDoer() HTTPDoer {
	return httpclient.New(httpclient.Config{Timeout: 2 * time.Second, MaxConnsPerHost: 4})
}

func newTestClient(t *testing.T, baseURL string, lookup Lookup) *Client {
	t.Helper()
	c, err := NewClient(baseURL, lookup, plainDoer(), discardLogger())
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("localhost:3333", LookupQuery, plainDoer(), discardLogger())
	assert.Error(t, err)

	_, err = NewClient("http://localhost:3333", Lookup("graphql"), plainDoer(), discardLogger())
	assert.Error(t, err)

	c, err := NewClient("http://localhost:3333/", "", plainDoer(), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, LookupQuery, c.lookup)
	assert.Equal(t, "http://localhost:3333", c.baseURL.String())
}

func TestClient_LookupModes(t *testing.T) {
	server := fakeCatalog(t)

	for _, mode := range []Lookup{LookupQuery, LookupPath} {
		t.Run(string(mode), func(t *testing.T) {
			c := newTestClient(t, server.URL, mode)
			ctx := context.Background()

			product, err := c.GetProductByID(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, 2, product.ID)
			assert.Equal(t, "139.9", product.Price.String())

			stock, err := c.GetStockByProductID(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, domain.Stock{ProductID: 1, Amount: 3}, *stock)

			_, err = c.GetProductByID(ctx, 99)
			assert.True(t, errors.Is(err, apperrors.ErrNotFound), "got %v", err)

			_, err = c.GetStockByProductID(ctx, 99)
			assert.True(t, errors.Is(err, apperrors.ErrNotFound), "got %v", err)
		})
	}
}

func TestClient_ListProducts(t *testing.T) {
	server := fakeCatalog(t)
	c := newTestClient(t, server.URL, LookupQuery)

	products, err := c.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, 1, products[0].ID)
	assert.Equal(t, "https://img/1.jpg", products[0].Image)

	assert.NoError(t, c.Ping(context.Background()))
}

func TestClient_ServerErrorIsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, LookupQuery)
	_, err := c.GetStockByProductID(context.Background(), 1)
	assert.True(t, errors.Is(err, apperrors.ErrUpstream), "got %v", err)
}

func TestClient_MalformedBodyIsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": "one", "amount": "lots"}]`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, LookupQuery)
	_, err := c.GetStockByProductID(context.Background(), 1)
	assert.True(t, errors.Is(err, apperrors.ErrUpstream), "got %v", err)
}

func TestClient_UnreachableIsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := newTestClient(t, url, LookupQuery)
	_, err := c.GetProductByID(context.Background(), 1)
	assert.True(t, errors.Is(err, apperrors.ErrUpstream), "got %v", err)
}

func TestClient_NegativeStockClampedToZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]int{{"id": 4, "amount": -2}})
	}))
	defer server.Close()

	stock, err := newTestClient(t, server.URL, LookupQuery).GetStockByProductID(context.Background(), 4)
	require.NoError(t, err)
	assert.Zero(t, stock.Amount)
}

func TestClient_OpenCircuitIsUpstreamFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cbCfg := httpclient.DefaultCircuitBreakerConfig("catalog-test-open")
	cbCfg.MinRequests = 2
	cbCfg.Timeout = time.Minute
	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.Config{Timeout: 2 * time.Second, MaxConnsPerHost: 4}), cbCfg, discardLogger())

	c, err := NewClient(server.URL, LookupPath, breaker, discardLogger())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := c.GetStockByProductID(context.Background(), 1)
		require.Error(t, err)
	}
	before := hits.Load()

	_, err = c.GetStockByProductID(context.Background(), 1)
	assert.True(t, errors.Is(err, apperrors.ErrUpstream))
	assert.True(t, errors.Is(err, httpclient.ErrCircuitOpen))
	assert.Equal(t, before, hits.Load())
}

func TestClient_CancelledContext(t *testing.T) {
	server := fakeCatalog(t)
	c := newTestClient(t, server.URL, LookupQuery)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetProductByID(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
