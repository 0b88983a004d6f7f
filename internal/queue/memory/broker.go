// Package memory provides a broker implementation for local development
// and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/moodgrid/blockwell/internal/queue"
)

// Broker is a channel-backed broker with the same routing behavior as
// the AMQP topology: routing keys map 1:1 to queues, and ".dlq" routes
// land in per-queue dead letter channels.
type Broker struct {
	mu     sync.Mutex
	queues map[string]chan []byte
	cap    int
	closed bool
}

// NewBroker constructs a broker whose queues hold up to capacity
// messages each.
func NewBroker(capacity int) *Broker {
	return &Broker{
		queues: make(map[string]chan []byte),
		cap:    capacity,
	}
}

func (b *Broker) channelFor(route string) (chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("broker closed")
	}
	ch, ok := b.queues[route]
	if !ok {
		ch = make(chan []byte, b.cap)
		b.queues[route] = ch
	}
	return ch, nil
}

// Publish routes a message to the queue named by routingKey.
func (b *Broker) Publish(ctx context.Context, routingKey string, body []byte, priority uint8) error {
	ch, err := b.channelFor(routingKey)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("publish canceled: %w", ctx.Err())
	case ch <- body:
		return nil
	}
}

// Consume returns a delivery stream for the named queue. The stream
// closes when ctx is cancelled or the broker is closed.
func (b *Broker) Consume(ctx context.Context, queueName string, prefetch int) (<-chan queue.Delivery, error) {
	ch, err := b.channelFor(queueName)
	if err != nil {
		return nil, err
	}
	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case body, ok := <-ch:
				if !ok {
					return
				}
				select {
				case <-ctx.Done():
					// Undelivered bodies go back on the queue instead
					// of vanishing with the consumer.
					select {
					case ch <- body:
					default:
					}
					return
				case out <- &delivery{body: body, broker: b, route: queueName}:
				}
			}
		}
	}()
	return out, nil
}

// Len reports the number of messages waiting on a queue. Tests use it
// to assert dead letter routing.
func (b *Broker) Len(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.queues[queueName]
	if !ok {
		return 0
	}
	return len(ch)
}

// Drain pops every message currently waiting on a queue.
func (b *Broker) Drain(queueName string) [][]byte {
	b.mu.Lock()
	ch, ok := b.queues[queueName]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	var out [][]byte
	for {
		select {
		case body := <-ch:
			out = append(out, body)
		default:
			return out
		}
	}
}

// Close shuts the broker down. Further publishes fail.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.queues {
		close(ch)
	}
	return nil
}

type delivery struct {
	body   []byte
	broker *Broker
	route  string
	once   sync.Once
}

func (d *delivery) Body() []byte { return d.body }

func (d *delivery) Ack() error {
	d.once.Do(func() {})
	return nil
}

// Nack requeues the message when requeue is true, mirroring AMQP
// semantics closely enough for consumer tests.
func (d *delivery) Nack(requeue bool) error {
	var err error
	d.once.Do(func() {
		if !requeue {
			return
		}
		err = d.broker.Publish(context.Background(), d.route, d.body, 0)
	})
	return err
}
