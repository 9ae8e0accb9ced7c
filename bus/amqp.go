package bus

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

const (
	dialAttempts    = 10
	dialBackoffBase = 500 * time.Millisecond
	dialBackoffCap  = 10 * time.Second
)

// AMQPBus routes events through a durable RabbitMQ topic exchange.
type AMQPBus struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// DialAMQP connects to RabbitMQ with capped backoff and declares the exchange.
func DialAMQP(url, exchange string) (*AMQPBus, error) {
	var conn *amqp.Connection
	var err error
	backoff := dialBackoffBase
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logrus.Warnf("amqp dial failed attempt=%d err=%v", attempt, err)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > dialBackoffCap {
			backoff = dialBackoffCap
		}
	}
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPBus{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish emits a persistent JSON message to the exchange.
func (b *AMQPBus) Publish(routingKey string, body []byte) error {
	return b.channel.Publish(
		b.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Consume declares a durable queue, binds it to the exchange for each routing
// key, and returns a delivery channel. Every message is acked after it is
// handed to the caller: consumers are idempotent and malformed payloads are
// dropped, never requeued.
func (b *AMQPBus) Consume(queue string, bindings []string) (<-chan Delivery, error) {
	q, err := b.channel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	for _, key := range bindings {
		if err := b.channel.QueueBind(q.Name, key, b.exchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind %s to %s: %w", q.Name, key, err)
		}
	}
	msgs, err := b.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for msg := range msgs {
			out <- Delivery{RoutingKey: msg.RoutingKey, Body: msg.Body}
			if err := msg.Ack(false); err != nil {
				logrus.Warnf("amqp ack failed queue=%s err=%v", q.Name, err)
			}
		}
	}()
	return out, nil
}

// Close closes the AMQP channel and connection.
func (b *AMQPBus) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
