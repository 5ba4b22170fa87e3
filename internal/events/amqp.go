package events

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	amqp "github.com/streadway/amqp"
	"go.uber.org/multierr"
)

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// AMQPPublisher publishes events to a topic exchange, routed by event type.
type AMQPPublisher struct {
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", cfg.Exchange)
	}
	return &AMQPPublisher{
		exchange: cfg.Exchange,
		conn:     conn,
		channel:  ch,
	}, nil
}

// Publish sends e as a persistent JSON message. The channel is not safe for
// concurrent use, so publishes are serialized.
func (p *AMQPPublisher) Publish(_ context.Context, e Event) error {
	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)
	e.Encode(enc)

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.Publish(p.exchange, string(e.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         append([]byte(nil), enc.Bytes()...),
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    e.OrderID + ":" + string(e.Type),
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s", e.Type)
	}
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if cerr := p.channel.Close(); cerr != nil {
		err = multierr.Append(err, errors.Wrap(cerr, "close channel"))
	}
	if cerr := p.conn.Close(); cerr != nil {
		err = multierr.Append(err, errors.Wrap(cerr, "close connection"))
	}
	return err
}
