package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer declares a server-named queue that lives as long as this
// connection and binds it to Exchange with each of keys.
func NewConsumer(conn *amqp.Connection, keys ...string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key, Exchange, false, nil); err != nil {
			return nil, err
		}
	}
	if err := ch.Qos(64, 0, false); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, queue: q.Name}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, true, false, false, nil)
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
