// setup.go
package rabbit

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	ExchangeOrderPlaced        = "order_placed"
	ExchangeOrderStatusChanged = "order_status_changed"
	QueueOrderIntake           = "restaurant_order_intake"
)

// DeclareTopology declares the fanout exchanges the service publishes to and
// the durable intake queue it consumes from.
func DeclareTopology(ch *amqp091.Channel, log *logrus.Logger) error {
	for _, name := range []string{ExchangeOrderPlaced, ExchangeOrderStatusChanged} {
		if err := ch.ExchangeDeclare(
			name,
			amqp091.ExchangeFanout,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}

	if _, err := ch.QueueDeclare(
		QueueOrderIntake,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", QueueOrderIntake, err)
	}

	log.Infof("Rabbit: declared exchanges %s, %s and queue %s", ExchangeOrderPlaced, ExchangeOrderStatusChanged, QueueOrderIntake)
	return nil
}
