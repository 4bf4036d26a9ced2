package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the durable fanout exchange quote events are published to.
const ExchangeName = "fare.events"

const defaultPublishTimeout = 5 * time.Second

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes QuoteEvents as JSON to ExchangeName.
type AMQPPublisher struct {
	conn    *amqp.Connection
	ch      channel
	timeout time.Duration
}

// DialAMQP connects to url and declares the exchange.
func DialAMQP(url string, timeout time.Duration) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	p, err := newAMQPPublisher(ch, timeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch channel, timeout time.Duration) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(ExchangeName, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &AMQPPublisher{ch: ch, timeout: timeout}, nil
}

// PublishQuote implements Publisher. The correlation ID doubles as MessageId
// so consumers can deduplicate.
func (p *AMQPPublisher) PublishQuote(ctx context.Context, event QuoteEvent) error {
	if event.Type == "" {
		event.Type = EventQuoted
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal quote event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.ch.PublishWithContext(publishCtx, ExchangeName, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.CorrelationID,
		Type:         event.Type,
		Timestamp:    event.QuotedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish quote event: %w", err)
	}
	return nil
}

// Close closes the channel and, when dialled here, the connection.
func (p *AMQPPublisher) Close() error {
	chErr := p.ch.Close()
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	return chErr
}
