// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/events"
)

const amqpPublishTimeout = 10 * time.Second

// AMQPPublisher publishes Watermill messages to a durable topic exchange
// with publisher confirms. Topics are used verbatim as routing keys.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string

	mu     sync.Mutex
	ch     *amqp.Channel
	closed bool
}

// NewAMQPPublisher declares the event and dead-letter exchanges and opens
// a confirm-mode channel on conn.
func NewAMQPPublisher(conn *amqp.Connection, cfg config.AMQPConfig) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open AMQP channel: %w", err)
	}
	if err := declareExchanges(ch, cfg); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &AMQPPublisher{conn: conn, exchange: cfg.Exchange, ch: ch}, nil
}

func declareExchanges(ch *amqp.Channel, cfg config.AMQPConfig) error {
	for _, name := range []string{cfg.Exchange, cfg.DeadLetterExchange} {
		if err := ch.ExchangeDeclare(
			name,
			amqp.ExchangeTopic,
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// Publish sends each message and waits for the broker confirm.
func (p *AMQPPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	for _, msg := range msgs {
		headers := amqp.Table{}
		for k, v := range msg.Metadata {
			headers[k] = v
		}

		ctx, cancel := context.WithTimeout(context.Background(), amqpPublishTimeout)
		dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, topic, false, false, amqp.Publishing{
			Headers:      headers,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.UUID,
			Timestamp:    time.Now().UTC(),
			Body:         msg.Payload,
		})
		if err != nil {
			cancel()
			return fmt.Errorf("publish message %s: %w", msg.UUID, err)
		}
		acked, err := dc.WaitContext(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("confirm message %s: %w", msg.UUID, err)
		}
		if !acked {
			return fmt.Errorf("message %s nacked by broker", msg.UUID)
		}
	}
	return nil
}

// Close closes the publishing channel. The connection is owned by the
// transport.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.ch.Close()
}

// AMQPSubscriber consumes from one durable queue per topic. Event queues
// dead-letter rejected deliveries to the dead-letter exchange; the queue
// for the dead-letter topic is also bound to that exchange so the sink sees
// both router poison messages and broker-rejected deliveries.
type AMQPSubscriber struct {
	conn            *amqp.Connection
	cfg             config.AMQPConfig
	consumer        string
	deadLetterTopic string
	logger          watermill.LoggerAdapter

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

// NewAMQPSubscriber creates a subscriber whose queues are named after
// consumer and the subscribed topic.
func NewAMQPSubscriber(conn *amqp.Connection, cfg config.AMQPConfig, consumer, deadLetterTopic string, logger watermill.LoggerAdapter) *AMQPSubscriber {
	return &AMQPSubscriber{
		conn:            conn,
		cfg:             cfg,
		consumer:        consumer,
		deadLetterTopic: deadLetterTopic,
		logger:          logger,
		closing:         make(chan struct{}),
	}
}

// QueueName returns the queue a consumer uses for topic.
func QueueName(consumer, topic string) string {
	return "tidings." + consumer + ":" + topic
}

// Subscribe declares and binds the queue for topic and streams deliveries
// until ctx ends or the subscriber closes. topic may use AMQP wildcards.
func (s *AMQPSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("subscriber is closed")
	}
	s.wg.Add(1)
	s.mu.Unlock()

	ch, deliveries, err := s.consume(topic)
	if err != nil {
		s.wg.Done()
		return nil, err
	}

	out := make(chan *message.Message)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer func() { _ = ch.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closing:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if !s.deliver(ctx, out, d) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *AMQPSubscriber) consume(topic string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open AMQP channel: %w", err)
	}
	if err := declareExchanges(ch, s.cfg); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	queue := QueueName(s.consumer, topic)
	args := amqp.Table{}
	if topic != s.deadLetterTopic {
		args["x-dead-letter-exchange"] = s.cfg.DeadLetterExchange
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, topic, s.cfg.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("bind queue %s: %w", queue, err)
	}
	if topic == s.deadLetterTopic {
		if err := ch.QueueBind(queue, "#", s.cfg.DeadLetterExchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, nil, fmt.Errorf("bind dead-letter queue %s: %w", queue, err)
		}
	}
	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(queue, "tidings-"+s.consumer, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return ch, deliveries, nil
}

// deliver hands one delivery to the router and settles it. A nack rejects
// without requeue so the broker moves the delivery to the dead-letter
// exchange. It returns false when the subscriber should stop.
func (s *AMQPSubscriber) deliver(ctx context.Context, out chan<- *message.Message, d amqp.Delivery) bool {
	msg := message.NewMessage(d.MessageId, d.Body)
	if msg.UUID == "" {
		msg.UUID = watermill.NewUUID()
	}
	for k, v := range d.Headers {
		if sv, ok := v.(string); ok {
			msg.Metadata.Set(k, sv)
		}
	}
	msgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	msg.SetContext(msgCtx)

	select {
	case out <- msg:
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return false
	case <-s.closing:
		_ = d.Nack(false, true)
		return false
	}

	select {
	case <-msg.Acked():
		if err := d.Ack(false); err != nil {
			s.logger.Error("AMQP ack failed", err, watermill.LogFields{"message_uuid": msg.UUID})
		}
	case <-msg.Nacked():
		if err := d.Nack(false, false); err != nil {
			s.logger.Error("AMQP nack failed", err, watermill.LogFields{"message_uuid": msg.UUID})
		}
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return false
	case <-s.closing:
		_ = d.Nack(false, true)
		return false
	}
	return true
}

// Close stops every subscription and waits for in-flight deliveries to
// be settled.
func (s *AMQPSubscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// NewAMQPTransport dials RabbitMQ and builds a transport over one shared
// connection.
func NewAMQPTransport(cfg config.AMQPConfig, deadLetterTopic string, logger watermill.LoggerAdapter) (*Transport, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	pub, err := NewAMQPPublisher(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Transport{
		kind:      TransportAMQP,
		publisher: NewPublisher(TransportAMQP, pub),
		newSubscriber: func(consumer string) (message.Subscriber, error) {
			return NewAMQPSubscriber(conn, cfg, consumer, deadLetterTopic, logger), nil
		},
		eventTopics: []string{events.TopicPrefix + "#"},
		closers:     []func() error{conn.Close},
	}, nil
}
