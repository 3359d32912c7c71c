// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/events"
)

const (
	natsMaxReconnects   = -1
	natsReconnectWait   = 2 * time.Second
	natsReconnectBuffer = 8 << 20
	natsMaxAckPending   = 256

	// StreamSubjects is captured by the single Tidings stream. Event topics
	// and the dead-letter topic both live under it.
	StreamSubjects = "tidings.>"
)

func natsOptions(name string, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name(name),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(natsMaxReconnects),
		natsgo.ReconnectWait(natsReconnectWait),
		natsgo.ReconnectBufSize(natsReconnectBuffer),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, watermill.LogFields{"conn": name})
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"conn": name, "url": nc.ConnectedUrl()})
		}),
	}
}

// EnsureStream creates or updates the JetStream stream that backs every
// Tidings subject. It is idempotent.
func EnsureStream(ctx context.Context, url string, cfg config.NATSConfig) error {
	nc, err := natsgo.Connect(url, natsgo.Name("tidings-stream-init"))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  2 * time.Minute,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}
	return nil
}

// NewNATSPublisher creates a JetStream publisher. The stream must already
// exist; message UUIDs are tracked as Nats-Msg-Id so a relay republish
// inside the duplicate window is dropped by the server.
func NewNATSPublisher(url string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOptions("tidings-publisher", logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	return pub, nil
}

// NewNATSSubscriber creates a durable JetStream subscriber bound to the
// Tidings stream. consumer names the durable and queue group so every
// router handler keeps its own delivery state. MaxDeliver bounds
// broker-level redelivery of messages the router could not settle.
func NewNATSSubscriber(url, consumer string, cfg config.NATSConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	subOpts := []natsgo.SubOpt{
		natsgo.BindStream(cfg.StreamName),
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.MaxAckPending(natsMaxAckPending),
		natsgo.AckWait(cfg.AckWait),
		natsgo.DeliverAll(),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.QueueGroup + "-" + consumer,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      natsOptions("tidings-"+consumer, logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    false,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName + "-" + consumer,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS subscriber %s: %w", consumer, err)
	}
	return sub, nil
}

// NewNATSTransport connects a publisher and subscriber factory to url after
// making sure the stream exists.
func NewNATSTransport(ctx context.Context, url string, cfg config.NATSConfig, logger watermill.LoggerAdapter) (*Transport, error) {
	if err := EnsureStream(ctx, url, cfg); err != nil {
		return nil, err
	}
	pub, err := NewNATSPublisher(url, logger)
	if err != nil {
		return nil, err
	}
	return &Transport{
		kind:      TransportNATS,
		publisher: NewPublisher(TransportNATS, pub),
		newSubscriber: func(consumer string) (message.Subscriber, error) {
			return NewNATSSubscriber(url, consumer, cfg, logger)
		},
		eventTopics: []string{events.TopicPrefix + ">"},
	}, nil
}
