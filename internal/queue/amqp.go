package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPBroker implements Broker on a RabbitMQ-compatible server.
type AMQPBroker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger
}

// DialAMQP connects to the broker, declares the exchange, all job queues and
// their dead-letter companions, and binds everything.
func DialAMQP(url string, logger *zap.Logger) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	logger.Info("connected to broker", zap.String("exchange", Exchange))
	return &AMQPBroker{conn: conn, channel: ch, logger: logger}, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	for _, name := range []string{QueueSweepTail, QueueSweepBackfill, QueueItems} {
		dlqName := name + DLQSuffix
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, amqp.Table{
			"x-message-ttl": DLQTTL.Milliseconds(),
		}); err != nil {
			return fmt.Errorf("declare dlq %s: %w", dlqName, err)
		}
		if _, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    Exchange,
			"x-dead-letter-routing-key": dlqName,
			"x-message-ttl":             MainQueueTTL.Milliseconds(),
		}); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
		if err := ch.QueueBind(name, name, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", name, err)
		}
		if err := ch.QueueBind(dlqName, dlqName, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind dlq %s: %w", dlqName, err)
		}
	}
	return nil
}

// Publish sends a persistent message to the exchange under routingKey.
func (b *AMQPBroker) Publish(ctx context.Context, routingKey string, body []byte, priority uint8) error {
	err := b.channel.PublishWithContext(
		ctx,
		Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Priority:     priority,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}
	return nil
}

// Consume opens a delivery stream for queue with the given prefetch. Each
// consumer channel gets its own AMQP channel so per-channel QoS bounds that
// worker pool independently.
func (b *AMQPBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for d := range deliveries {
			select {
			case out <- amqpDelivery{d: d}:
			case <-ctx.Done():
				// Returned unacked messages are redelivered by the broker.
				if err := d.Nack(false, true); err != nil {
					b.logger.Warn("nack on shutdown failed", zap.Error(err))
				}
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the channel and connection.
func (b *AMQPBroker) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a amqpDelivery) Body() []byte { return a.d.Body }

func (a amqpDelivery) Ack() error { return a.d.Ack(false) }

func (a amqpDelivery) Nack(requeue bool) error { return a.d.Nack(false, requeue) }
