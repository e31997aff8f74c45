package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"cafe-orders/internal/domain"
)

const ExchangeOrderEvents = "order_events"

// Broker bridges the outbox relay of every order service instance to the
// hubs of every instance through a fanout exchange.
type Broker struct {
	conn *amqp.Connection
	log  logrus.FieldLogger

	mu sync.Mutex
	ch *amqp.Channel
}

func DialBroker(url string, log logrus.FieldLogger) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := declare(ch); err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	log.WithField("exchange", ExchangeOrderEvents).Info("amqp connected")
	return &Broker{conn: conn, ch: ch, log: log}, nil
}

func declare(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeOrderEvents, // name
		"fanout",            // type
		true,                // durable
		false,               // auto-deleted
		false,               // internal
		false,               // no-wait
		nil,                 // arguments
	)
}

// Publish returns once the broker confirmed the event.
func (b *Broker) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	b.mu.Lock()
	dc, err := b.ch.PublishWithDeferredConfirmWithContext(ctx,
		ExchangeOrderEvents, // exchange
		"",                  // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    ev.ID.String(),
			Timestamp:    ev.OccurredAt,
			Body:         body,
		})
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.ID, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("publish %s: nacked by broker", ev.ID)
	}
	return nil
}

// Consume feeds every event on the exchange into hub until ctx ends. Each
// instance gets its own exclusive queue. When the delivery stream breaks the
// hub is told to resync.
func (b *Broker) Consume(ctx context.Context, hub *Hub) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, "", ExchangeOrderEvents, false, nil); err != nil {
		return err
	}

	msgs, err := ch.ConsumeWithContext(ctx,
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				hub.Resync()
				return errors.New("amqp delivery channel closed")
			}
			var ev domain.ChangeEvent
			if err := json.Unmarshal(msg.Body, &ev); err != nil {
				b.log.WithError(err).WithField("message_id", msg.MessageId).Warn("dropping malformed order event")
				_ = msg.Nack(false, false)
				continue
			}
			_ = hub.Publish(ctx, ev)
			_ = msg.Ack(false)
		}
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		b.ch.Close()
	}
	return b.conn.Close()
}

