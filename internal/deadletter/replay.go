// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/tomtom215/tidings/internal/broker"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/metrics"
	"github.com/tomtom215/tidings/internal/outbox"
)

// ErrNoTopic is returned when an entry has no topic to replay to.
var ErrNoTopic = errors.New("dead-letter entry has no original topic")

// strippedMetadata is dropped on replay so the message enters the router
// as a fresh delivery.
var strippedMetadata = []string{
	middleware.ReasonForPoisonedKey,
	middleware.PoisonedTopicKey,
	middleware.PoisonedHandlerKey,
	middleware.PoisonedSubscriberKey,
	broker.MetadataAttempts,
	broker.MetadataRetryCount,
	broker.MetadataDeadLetterReason,
	broker.MetadataErrorCategory,
	"Nats-Msg-Id",
}

// Replayer republishes archived entries.
type Replayer struct {
	store *Store
	pub   outbox.Publisher
	now   func() time.Time
	newID func() string
}

// NewReplayer creates a Replayer publishing through pub.
func NewReplayer(store *Store, pub outbox.Publisher) *Replayer {
	return &Replayer{store: store, pub: pub, now: time.Now, newID: uuid.NewString}
}

// Replay publishes entry id to its original topic with a fresh UUID and
// replay=true, then records the replay on the entry. The entry is kept so a
// replay that fails again can be compared with the first failure.
func (r *Replayer) Replay(ctx context.Context, id string) (*Entry, error) {
	e, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Topic == "" {
		return nil, fmt.Errorf("replay %s: %w", id, ErrNoTopic)
	}

	msg := message.NewMessage(r.newID(), e.Payload)
	for k, v := range e.Metadata {
		msg.Metadata.Set(k, v)
	}
	for _, k := range strippedMetadata {
		delete(msg.Metadata, k)
	}
	msg.Metadata.Set(outbox.MetadataReplay, "true")
	if middleware.MessageCorrelationID(msg) == "" {
		middleware.SetCorrelationID(logging.GenerateCorrelationID(), msg)
	}

	if err := r.pub.Publish(e.Topic, msg); err != nil {
		return nil, fmt.Errorf("replay %s: %w", id, err)
	}

	at := r.now().UTC()
	e.ReplayedAt = &at
	e.Replays++
	if err := r.store.Put(ctx, e); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("id", id).Msg("Replayed but could not record replay")
	}
	metrics.DeadLetterReplayed.Inc()

	logging.Ctx(ctx).Info().
		Str("id", id).
		Str("message_uuid", msg.UUID).
		Str("topic", e.Topic).
		Msg("Dead-letter replayed")
	return e, nil
}
