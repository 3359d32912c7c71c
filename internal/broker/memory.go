// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package broker

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/tidings/internal/events"
)

// NewMemoryTransport builds an in-process transport on Watermill's
// gochannel. Messages are lost on restart and gochannel has no wildcard
// subscriptions, so consumers subscribe to one topic per event name.
// Nacked messages are redelivered immediately.
func NewMemoryTransport(logger watermill.LoggerAdapter) *Transport {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
		Persistent:          false,
	}, logger)

	names := events.Names()
	topics := make([]string, 0, len(names))
	for _, n := range names {
		topics = append(topics, n.Topic())
	}

	return &Transport{
		kind:      TransportMemory,
		publisher: NewPublisher(TransportMemory, pubsub),
		newSubscriber: func(string) (message.Subscriber, error) {
			return sharedSubscriber{pubsub}, nil
		},
		eventTopics: topics,
	}
}

// sharedSubscriber keeps the router from closing the gochannel that the
// publisher also uses when a handler stops.
type sharedSubscriber struct {
	message.Subscriber
}

func (sharedSubscriber) Close() error { return nil }
