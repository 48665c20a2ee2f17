package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/william-takayama/ecommerce-cart/internal/domain"
	pkgkafka "github.com/william-takayama/ecommerce-cart/pkg/kafka"
	"github.com/william-takayama/ecommerce-cart/pkg/logger"
)

// Aggregate type constant.
const AggregateTypeCart = "cart"

// Source identifier for events originating from the storefront.
const SourceStorefront = "storefront"

// TopicCartUpdated carries the full cart after every successful mutation.
var TopicCartUpdated = pkgkafka.Topic("cart", "updated")

// CartUpdatedData is the payload for a cart.updated event. Money fields are
// decimal strings.
type CartUpdatedData struct {
	CartKey   string          `json:"cart_key"`
	Operation string          `json:"operation"`
	Items     []CartItemData  `json:"items"`
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	ProductID int             `json:"product_id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Amount    int             `json:"amount"`
}

// Publisher is the subset of the kafka producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes cart domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for cart events.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event for the cart stored under
// key at the given version.
func (p *Producer) PublishCartUpdated(ctx context.Context, key, operation string, cart domain.Cart, version int64) error {
	items := make([]CartItemData, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = CartItemData{
			ProductID: item.ID,
			Title:     item.Title,
			Price:     item.Price.Decimal,
			Amount:    item.Amount,
		}
	}

	data := CartUpdatedData{
		CartKey:   key,
		Operation: operation,
		Items:     items,
		ItemCount: cart.ItemCount(),
		Total:     cart.Total().Decimal,
	}

	event, err := pkgkafka.NewEvent(TopicCartUpdated, key, AggregateTypeCart, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create cart.updated event: %w", err)
	}
	event.WithVersion(version)
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if id := logger.SessionIDFromContext(ctx); id != "" {
		event.WithMetadata("session_id", id)
	}

	if err := p.kafka.Publish(ctx, TopicCartUpdated, event); err != nil {
		return fmt.Errorf("publish cart.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("cart_key", key),
		slog.Int("item_count", data.ItemCount),
		slog.Int64("version", version),
	)

	return nil
}
