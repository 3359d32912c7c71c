// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/logging"
)

// Transport names accepted by BrokerConfig.Transport.
const (
	TransportNATS   = "nats"
	TransportAMQP   = "amqp"
	TransportMemory = "memory"
)

// Transport is a publisher plus a factory for per-consumer subscribers on
// the same backend.
type Transport struct {
	kind          string
	publisher     *Publisher
	newSubscriber func(consumer string) (message.Subscriber, error)
	eventTopics   []string
	closers       []func() error
}

// Open builds the transport selected by cfg.Transport. natsURL overrides
// cfg.NATS.URL, which lets an embedded server hand out its client URL.
func Open(ctx context.Context, cfg config.BrokerConfig, natsURL string, logger watermill.LoggerAdapter) (*Transport, error) {
	if logger == nil {
		logger = NewLogger()
	}

	var (
		t   *Transport
		err error
	)
	switch cfg.Transport {
	case TransportNATS:
		if natsURL == "" {
			natsURL = cfg.NATS.URL
		}
		t, err = NewNATSTransport(ctx, natsURL, cfg.NATS, logger)
	case TransportAMQP:
		t, err = NewAMQPTransport(cfg.AMQP, cfg.Router.DeadLetterTopic, logger)
	case TransportMemory:
		t = NewMemoryTransport(logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	logging.Info().Str("transport", t.kind).Strs("event_topics", t.eventTopics).Msg("Broker transport ready")
	return t, nil
}

// Kind returns nats, amqp or memory.
func (t *Transport) Kind() string { return t.kind }

// Publisher returns the breaker-protected publisher.
func (t *Transport) Publisher() *Publisher { return t.publisher }

// NewSubscriber returns a subscriber whose delivery state is private to
// consumer. The router closes it when its handler stops.
func (t *Transport) NewSubscriber(consumer string) (message.Subscriber, error) {
	return t.newSubscriber(consumer)
}

// EventTopics returns the topics a consumer must subscribe to in order to
// receive every catalogued event: one wildcard for NATS and AMQP, one per
// event name for the memory transport.
func (t *Transport) EventTopics() []string {
	out := make([]string, len(t.eventTopics))
	copy(out, t.eventTopics)
	return out
}

// Close closes the publisher and then any shared connection.
func (t *Transport) Close() error {
	errs := []error{t.publisher.Close()}
	for _, c := range t.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
