package service

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"sim_server/server/common/infra/mq"
)

// ErrFeedClosed means the transport dropped the subscription; the consumer
// treats it as transient and keeps polling until shutdown.
var ErrFeedClosed = errors.New("change feed closed")

// Feed is the change-feed boundary: one Poll returns one raw message
// payload, or (nil, nil) when nothing arrived within the poll window.
// Delivery is at-least-once; the same payload may be seen again after a
// crash between receipt and a completed append.
type Feed interface {
	Poll(ctx context.Context) ([]byte, error)
}

// AMQPFeed consumes article-created events from a durable queue with
// auto-ack, mirroring the upstream pipeline's auto-commit consumer.
type AMQPFeed struct {
	channel     *amqp.Channel
	deliveries  <-chan amqp.Delivery
	pollTimeout time.Duration
}

func NewAMQPFeed(conn *amqp.Connection, queue string, pollTimeout time.Duration) (*AMQPFeed, error) {
	ch, q, err := mq.DeclareQueue(conn, queue)
	if err != nil {
		return nil, err
	}
	deliveries, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &AMQPFeed{channel: ch, deliveries: deliveries, pollTimeout: pollTimeout}, nil
}

func (f *AMQPFeed) Poll(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-f.deliveries:
		if !ok {
			return nil, ErrFeedClosed
		}
		return d.Body, nil
	case <-time.After(f.pollTimeout):
		return nil, nil
	}
}

func (f *AMQPFeed) Close() error {
	return f.channel.Close()
}
