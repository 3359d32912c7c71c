// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package deadletter

import (
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/tidings/internal/broker"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/outbox"
)

// ReasonBroker marks messages the broker itself rejected, such as AMQP
// deliveries dead-lettered through the exchange. They carry no router
// classification.
const ReasonBroker = "broker"

// Sink consumes the dead-letter topic into a Store.
type Sink struct {
	store *Store
	now   func() time.Time
}

// NewSink creates a Sink writing to store.
func NewSink(store *Store) *Sink {
	return &Sink{store: store, now: time.Now}
}

// Handle is a message.NoPublishHandlerFunc. A write failure is returned so
// the router retries and the transport redelivers.
func (s *Sink) Handle(msg *message.Message) error {
	e := entryFromMessage(msg, s.now().UTC())
	if err := s.store.Put(msg.Context(), e); err != nil {
		return err
	}

	logging.Ctx(msg.Context()).Warn().
		Str("id", e.ID).
		Str("event_name", e.EventName).
		Str("topic", e.Topic).
		Str("reason", e.Reason).
		Int("retry_count", e.RetryCount).
		Msg("Dead-letter archived")
	return nil
}

func entryFromMessage(msg *message.Message, now time.Time) *Entry {
	md := make(map[string]string, len(msg.Metadata))
	for k, v := range msg.Metadata {
		md[k] = v
	}

	name := msg.Metadata.Get(outbox.MetadataEventName)
	topic := msg.Metadata.Get(middleware.PoisonedTopicKey)
	if topic == "" && events.Name(name).Valid() {
		topic = events.Name(name).Topic()
	}
	reason := msg.Metadata.Get(broker.MetadataDeadLetterReason)
	if reason == "" {
		reason = ReasonBroker
	}
	retries, _ := strconv.Atoi(msg.Metadata.Get(broker.MetadataRetryCount))

	return &Entry{
		ID:         msg.UUID,
		EventName:  name,
		Topic:      topic,
		Handler:    msg.Metadata.Get(middleware.PoisonedHandlerKey),
		Reason:     reason,
		Error:      msg.Metadata.Get(middleware.ReasonForPoisonedKey),
		RetryCount: retries,
		Payload:    append([]byte(nil), msg.Payload...),
		Metadata:   md,
		ReceivedAt: now,
	}
}

// Register adds the sink to router under the dead-letter topic.
func (s *Sink) Register(router *broker.Router, topic string) {
	router.AddSinkHandler("deadletter-sink", topic, "deadletter", s.Handle)
}
