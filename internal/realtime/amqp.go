package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher forwards events to a topic exchange for consumers outside
// the process. The routing key is the event kind.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{conn: conn, exchange: exchange, log: logger}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	key, msg, err := publishing(ev)
	if err != nil {
		return err
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		return err
	}
	p.log.Debug("published", slog.String("key", key), slog.String("exchange", p.exchange))
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}

func publishing(ev Event) (string, amqp091.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return "", amqp091.Publishing{}, err
	}
	return string(ev.Kind), amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Transient,
		MessageId:    ev.ID,
		Timestamp:    ev.At,
		Type:         string(ev.Kind),
		Body:         body,
	}, nil
}
