package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"restaurant-order-service/internal/model"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ChannelPublisher is the subset of *amqp091.Channel used for publishing.
type ChannelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// EventMessage is the envelope of every published event.
type EventMessage struct {
	CorrelationID string     `json:"correlation_id"`
	Exchange      string     `json:"exchange"`
	RoutingKey    string     `json:"routing_key"`
	Message       OrderEvent `json:"message"`
}

type OrderEvent struct {
	OrderID        string       `json:"orderId"`
	OrderNumber    string       `json:"orderNumber"`
	OrderDate      string       `json:"orderDate"`
	Customer       string       `json:"customer"`
	Total          float64      `json:"total"`
	Status         model.Status `json:"status"`
	PreviousStatus model.Status `json:"previousStatus,omitempty"`
	Items          []model.Item `json:"items,omitempty"`
	OccurredAt     time.Time    `json:"occurredAt"`
}

type Publisher struct {
	mu  sync.Mutex
	ch  ChannelPublisher
	log *logrus.Logger
}

func NewPublisher(ch ChannelPublisher, logger *logrus.Logger) *Publisher {
	return &Publisher{ch: ch, log: logger}
}

func (p *Publisher) PublishOrderPlaced(ctx context.Context, o *model.Order) error {
	ev := newOrderEvent(o)
	ev.Items = o.Items
	return p.publish(ctx, ExchangeOrderPlaced, ev)
}

func (p *Publisher) PublishStatusChanged(ctx context.Context, o *model.Order, previous model.Status) error {
	ev := newOrderEvent(o)
	ev.PreviousStatus = previous
	return p.publish(ctx, ExchangeOrderStatusChanged, ev)
}

func newOrderEvent(o *model.Order) OrderEvent {
	return OrderEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		OrderDate:   o.OrderDate,
		Customer:    o.Customer,
		Total:       o.Total,
		Status:      o.Status,
		OccurredAt:  time.Now().UTC(),
	}
}

func (p *Publisher) publish(ctx context.Context, exchange string, ev OrderEvent) error {
	id := uuid.NewString()
	body, err := json.Marshal(EventMessage{
		CorrelationID: id,
		Exchange:      exchange,
		Message:       ev,
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", exchange, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, exchange, "", false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     id,
		CorrelationId: id,
		Timestamp:     ev.OccurredAt,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", exchange, err)
	}
	p.log.Debugf("Rabbit: published %s for order %s", exchange, ev.OrderNumber)
	return nil
}
