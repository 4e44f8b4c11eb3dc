// internal/messaging/rabbit.go
package messaging

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"form-relay/internal/metrics"
)

// RabbitClient is the amqp flavour of the datagram channel. The queue is
// capped and drops its oldest entries on overflow, and consumers auto-ack,
// so delivery keeps the same at-most-once shape as UDP.
type RabbitClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	URL     string
	Queue   string

	pubMu sync.Mutex

	mu         sync.Mutex
	consumeCh  *amqp.Channel
	deliveries <-chan amqp.Delivery
	maxPacket  int
}

func NewRabbitClient(url, queue string, maxPacketSize int) (*RabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return &RabbitClient{
		conn:      conn,
		channel:   ch,
		URL:       url,
		Queue:     queue,
		maxPacket: maxPacketSize,
	}, nil
}

// DeclareQueue creates the relay queue, bounded to maxLength messages when
// maxLength is positive.
func (r *RabbitClient) DeclareQueue(maxLength int) error {
	args := amqp.Table{}
	if maxLength > 0 {
		args["x-max-length"] = int32(maxLength)
		args["x-overflow"] = "drop-head"
	}
	_, err := r.channel.QueueDeclare(
		r.Queue,
		false, false, false, false,
		args,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", r.Queue, err)
	}

	log.Printf("[Rabbit] Queue %s declared", r.Queue)
	return nil
}

// Send publishes the payload to the relay queue through the default exchange.
func (r *RabbitClient) Send(_ context.Context, payload []byte) error {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	err := r.channel.Publish(
		"",      // default exchange
		r.Queue, // routing key (queue name)
		false,
		false,
		amqp.Publishing{
			ContentType: "application/x-www-form-urlencoded",
			Body:        payload,
		},
	)
	if err != nil {
		metrics.DatagramsSent.WithLabelValues("amqp", "error").Inc()
		return fmt.Errorf("failed to publish to queue %s: %w", r.Queue, err)
	}
	metrics.DatagramsSent.WithLabelValues("amqp", "ok").Inc()
	return nil
}

// Receive waits for the next delivery. Consumption starts on first call on
// a dedicated channel.
func (r *RabbitClient) Receive(ctx context.Context) ([]byte, error) {
	deliveries, err := r.consume()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-deliveries:
		if !ok {
			return nil, ErrClosed
		}
		if r.maxPacket > 0 && len(msg.Body) > r.maxPacket {
			return msg.Body[:r.maxPacket], ErrTruncated
		}
		return msg.Body, nil
	}
}

func (r *RabbitClient) consume() (<-chan amqp.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deliveries != nil {
		return r.deliveries, nil
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consume channel: %w", err)
	}
	msgs, err := ch.Consume(
		r.Queue,
		"",
		true, // autoAck: at-most-once
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to start consuming %s: %w", r.Queue, err)
	}
	r.consumeCh = ch
	r.deliveries = msgs
	return msgs, nil
}

// Close cleans up connection and channels
func (r *RabbitClient) Close() error {
	r.mu.Lock()
	if r.consumeCh != nil {
		_ = r.consumeCh.Close()
	}
	r.mu.Unlock()

	if err := r.channel.Close(); err != nil {
		return err
	}
	if err := r.conn.Close(); err != nil {
		return err
	}
	return nil
}

func (r *RabbitClient) UpdateQueueDepth() {
	q, err := r.channel.QueueInspect(r.Queue)
	if err != nil {
		log.Printf("[Rabbit] Failed to inspect queue %s: %v", r.Queue, err)
		return
	}

	metrics.QueueDepth.WithLabelValues(r.Queue).Set(float64(q.Messages))
}
