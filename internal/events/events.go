// Package events publishes checkout domain events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	// DefaultTopic receives order events when no topic is configured.
	DefaultTopic = "storefront.orders"

	eventTypeHeader  = "event_type"
	orderPlacedEvent = "order.placed"
	writeTimeout     = 5 * time.Second
)

// ErrNoBrokers is returned when a Kafka publisher is built without broker addresses.
var ErrNoBrokers = errors.New("events: no kafka brokers configured")

// OrderPlaced announces a completed checkout.
type OrderPlaced struct {
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	Total         float64   `json:"total"`
	ItemCount     int       `json:"itemCount"`
	PaymentMethod string    `json:"paymentMethod"`
	PlacedAt      time.Time `json:"placedAt"`
	Mock          bool      `json:"mock"`
}

// Publisher delivers checkout events.
type Publisher interface {
	OrderPlaced(ctx context.Context, event OrderPlaced) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// OrderPlaced implements Publisher.
func (NopPublisher) OrderPlaced(context.Context, OrderPlaced) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages keyed by order id.
type KafkaPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaPublisher builds a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	addrs := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			addrs = append(addrs, broker)
		}
	}
	if len(addrs) == 0 {
		return nil, ErrNoBrokers
	}
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           writeTimeout,
	}
	return NewPublisherWithWriter(w, logger), nil
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w MessageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, logger: logger.Named("events")}
}

// OrderPlaced implements Publisher.
func (p *KafkaPublisher) OrderPlaced(ctx context.Context, event OrderPlaced) error {
	if event.PlacedAt.IsZero() {
		event.PlacedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode order placed: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: eventTypeHeader, Value: []byte(orderPlacedEvent)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish order %s: %w", event.OrderID, err)
	}
	p.logger.Debug("order event published", zap.String("order_id", event.OrderID), zap.Bool("mock", event.Mock))
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
