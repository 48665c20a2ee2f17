package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/william-takayama/ecommerce-cart/internal/domain"
	apperrors "github.com/william-takayama/ecommerce-cart/pkg/errors"
	"github.com/william-takayama/ecommerce-cart/pkg/httpclient"
	"github.com/william-takayama/ecommerce-cart/pkg/tracing"
)

const serviceName = "catalog"

// Lookup selects how single products and stock records are addressed.
type Lookup string

const (
	// LookupQuery filters the collection: /products?id=1 answers a list.
	LookupQuery Lookup = "query"
	// LookupPath addresses the record: /products/1 answers an object.
	LookupPath Lookup = "path"
)

// HTTPDoer abstracts the HTTP transport so a circuit-breaker-wrapped client
// or a plain one can be used interchangeably.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client talks to the remote product/stock API.
type Client struct {
	baseURL *url.URL
	lookup  Lookup
	http    HTTPDoer
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewClient creates a catalog client rooted at baseURL.
func NewClient(baseURL string, lookup Lookup, doer HTTPDoer, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse catalog base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("catalog base url %q must be absolute", baseURL)
	}

	switch lookup {
	case "":
		lookup = LookupQuery
	case LookupQuery, LookupPath:
	default:
		return nil, fmt.Errorf("unknown catalog lookup mode %q", lookup)
	}

	return &Client{
		baseURL: u,
		lookup:  lookup,
		http:    doer,
		logger:  logger,
		tracer:  otel.Tracer("github.com/william-takayama/ecommerce-cart/internal/catalog"),
	}, nil
}

// ListProducts returns the full catalog.
func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if err := c.getJSON(ctx, "ListProducts", "/products", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetProductByID fetches a single product. A product the catalog does not
// know yields a NotFound error.
func (c *Client) GetProductByID(ctx context.Context, id int) (*domain.Product, error) {
	var product domain.Product
	if err := c.getOne(ctx, "GetProduct", "/products", id, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// GetStockByProductID fetches the current stock record for a product.
func (c *Client) GetStockByProductID(ctx context.Context, id int) (*domain.Stock, error) {
	var stock domain.Stock
	if err := c.getOne(ctx, "GetStock", "/stock", id, &stock); err != nil {
		return nil, err
	}
	if stock.Amount < 0 {
		stock.Amount = 0
	}
	return &stock, nil
}

// Ping checks that the catalog answers a minimal listing request.
func (c *Client) Ping(ctx context.Context) error {
	var probe []json.RawMessage
	return c.getJSON(ctx, "Ping", "/products", url.Values{"_limit": {"1"}}, &probe)
}

// getOne resolves a single record by id in the configured lookup mode and
// decodes it into dst.
func (c *Client) getOne(ctx context.Context, op, collection string, id int, dst any) error {
	key := strconv.Itoa(id)

	if c.lookup == LookupPath {
		return c.getJSON(ctx, op, collection+"/"+key, nil, dst)
	}

	var matches []json.RawMessage
	if err := c.getJSON(ctx, op, collection, url.Values{"id": {key}}, &matches); err != nil {
		return err
	}
	if len(matches) == 0 {
		return apperrors.NotFound(strings.TrimPrefix(collection, "/"), key)
	}
	if err := json.Unmarshal(matches[0], dst); err != nil {
		return apperrors.UpstreamFailure(serviceName, fmt.Errorf("decode %s %s: %w", collection, key, err))
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, dst any) (err error) {
	u := *c.baseURL
	u.Path += path
	u.RawQuery = query.Encode()

	ctx, span := c.tracer.Start(ctx, "catalog."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", http.MethodGet),
			attribute.String("url.full", u.String()),
		),
	)
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.logger.WarnContext(ctx, "catalog request failed",
			slog.String("operation", op),
			slog.String("url", u.String()),
			slog.String("error", err.Error()),
		)
		return transportError(err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(dst); err != nil {
		return apperrors.UpstreamFailure(serviceName, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// transportError maps a failed round trip to the error taxonomy. A request
// the caller cancelled keeps its context error.
func transportError(err error) error {
	var serverErr *httpclient.ServerError
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("catalog request: %w", err)
	case errors.Is(err, httpclient.ErrCircuitOpen):
		return apperrors.UpstreamFailure(serviceName, fmt.Errorf("circuit open: %w", err))
	case errors.As(err, &serverErr):
		return apperrors.UpstreamFailure(serviceName, serverErr)
	default:
		return apperrors.UpstreamFailure(serviceName, err)
	}
}
