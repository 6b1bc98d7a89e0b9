package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"restaurant-order-service/internal/dto"
	"restaurant-order-service/internal/service"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type OrderCreator interface {
	CreateOrder(ctx context.Context, req dto.CreateOrderRequest) (*service.CreateOrderResult, error)
}

// IntakeMessage carries an order submitted by another system, e.g. a POS terminal.
type IntakeMessage struct {
	CorrelationID string                 `json:"correlation_id"`
	Message       dto.CreateOrderRequest `json:"message"`
}

type IntakeConsumer struct {
	Service OrderCreator
	log     *logrus.Logger
}

func NewIntakeConsumer(s OrderCreator, logger *logrus.Logger) *IntakeConsumer {
	return &IntakeConsumer{Service: s, log: logger}
}

// Handle acks placed orders and messages that can never succeed. Transient
// failures are requeued once; a redelivered message that fails again is
// dropped.
func (c *IntakeConsumer) Handle(ctx context.Context, d amqp091.Delivery) error {
	var msg IntakeMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.log.Warnf("Rabbit: dropping malformed intake message %s: %v", d.MessageId, err)
		return d.Ack(false)
	}

	req := msg.Message
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = d.MessageId
	}

	entry := c.log.WithFields(logrus.Fields{
		"correlation_id": msg.CorrelationID,
		"message_id":     d.MessageId,
		"redelivered":    d.Redelivered,
	})

	res, err := c.Service.CreateOrder(ctx, req)
	switch {
	case err == nil:
		entry.Infof("Rabbit: intake order %s placed (replayed=%t)", res.Order.OrderNumber, res.Replayed)
		return d.Ack(false)
	case errors.Is(err, service.ErrValidation):
		entry.Warnf("Rabbit: dropping invalid intake order: %v", err)
		return d.Ack(false)
	case d.Redelivered:
		entry.Errorf("Rabbit: intake order failed again, dropping: %v", err)
		return d.Nack(false, false)
	default:
		entry.Warnf("Rabbit: intake order failed, requeueing: %v", err)
		return d.Nack(false, true)
	}
}

// Consume processes the intake queue until ctx is done or the channel closes.
func (c *IntakeConsumer) Consume(ctx context.Context, ch *amqp091.Channel) error {
	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx,
		QueueOrderIntake,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", QueueOrderIntake, err)
	}
	c.log.Infof("Rabbit: consuming queue %s", QueueOrderIntake)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("rabbit: intake delivery channel closed")
			}
			if err := c.Handle(ctx, d); err != nil {
				c.log.Errorf("Rabbit: acknowledging delivery %d failed: %v", d.DeliveryTag, err)
			}
		}
	}
}
