// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package outbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/tomtom215/tidings/internal/database"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/metrics"
)

// Message metadata keys set on every published outbox message.
const (
	MetadataEventName = "event_name"
	MetadataOutboxID  = "outbox_id"
	MetadataReplay    = "replay"
)

// Publisher is the subset of a watermill publisher the outbox needs.
type Publisher interface {
	Publish(topic string, messages ...*message.Message) error
}

// Emitter appends events to the outbox and publishes them after commit.
type Emitter struct {
	store *Store
	txm   database.TxManager
	pub   Publisher
	newID func() string
}

// NewEmitter creates an Emitter.
func NewEmitter(store *Store, txm database.TxManager, pub Publisher) *Emitter {
	return &Emitter{store: store, txm: txm, pub: pub, newID: uuid.NewString}
}

// Append validates every event, then inserts them in one transaction. If ctx
// already carries a transaction the rows join it and are published only when
// that transaction commits. A validation failure on any event rejects the
// whole batch before anything is written or published.
//
// A publish failure after commit is not an error: the row is durable and the
// relay will deliver it.
func (e *Emitter) Append(ctx context.Context, evts ...events.Event) ([]Row, error) {
	if len(evts) == 0 {
		return nil, nil
	}

	rows := make([]Row, len(evts))
	for i, evt := range evts {
		payload, err := events.Encode(evt)
		if err != nil {
			metrics.OutboxAppendRejected.WithLabelValues("schema").Inc()
			return nil, fmt.Errorf("event %d of %d: %w", i+1, len(evts), err)
		}
		rows[i] = Row{
			EventID: e.newID(),
			Name:    evt.Name,
			Version: evt.Name.Version(),
			Payload: payload,
		}
	}

	err := e.txm.WithTx(ctx, func(txCtx context.Context) error {
		if err := e.store.Insert(txCtx, rows); err != nil {
			return err
		}
		database.AfterCommit(txCtx, func() {
			pubCtx := database.WithoutTx(context.WithoutCancel(txCtx))
			e.publishAndMark(pubCtx, rows, "append")
		})
		return nil
	})
	if err != nil {
		metrics.OutboxAppendRejected.WithLabelValues("database").Inc()
		return nil, fmt.Errorf("append outbox events: %w", err)
	}

	names := make([]string, len(rows))
	for i := range rows {
		names[i] = string(rows[i].Name)
	}
	metrics.RecordAppend(names)
	return rows, nil
}

func (e *Emitter) publishAndMark(ctx context.Context, rows []Row, source string) {
	ids := e.publish(ctx, rows, false)
	if len(ids) == 0 {
		return
	}
	if _, err := e.store.MarkRelayed(ctx, ids); err != nil {
		// The relay republishes these rows; consumers deduplicate by UUID.
		logging.Ctx(ctx).Warn().Err(err).Int("rows", len(ids)).Msg("Failed to mark outbox rows relayed")
		return
	}
	metrics.OutboxRelayed.WithLabelValues(source).Add(float64(len(ids)))
}

// publish sends every row and returns the ids that were accepted by the
// broker. Failures are logged and counted; the rows stay unrelayed.
func (e *Emitter) publish(ctx context.Context, rows []Row, replay bool) []int64 {
	ids := make([]int64, 0, len(rows))
	for i := range rows {
		msg, err := newMessage(ctx, &rows[i], replay)
		if err == nil {
			err = e.pub.Publish(rows[i].Name.Topic(), msg)
		}
		if err != nil {
			metrics.OutboxPublishFailures.WithLabelValues(string(rows[i].Name)).Inc()
			logging.Ctx(ctx).Warn().Err(err).
				Int64("outbox_id", rows[i].ID).
				Str("event_name", string(rows[i].Name)).
				Msg("Publish failed, leaving row for relay")
			continue
		}
		ids = append(ids, rows[i].ID)
	}
	return ids
}

func newMessage(ctx context.Context, row *Row, replay bool) (*message.Message, error) {
	body, err := row.Envelope().Marshal()
	if err != nil {
		return nil, err
	}

	id := row.EventID
	if replay {
		id = uuid.NewString()
	}
	msg := message.NewMessage(id, body)
	msg.Metadata.Set(MetadataEventName, string(row.Name))
	msg.Metadata.Set(MetadataOutboxID, strconv.FormatInt(row.ID, 10))
	if replay {
		msg.Metadata.Set(MetadataReplay, "true")
	}

	correlationID := logging.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = logging.GenerateCorrelationID()
	}
	middleware.SetCorrelationID(correlationID, msg)
	return msg, nil
}

// Replay republishes every row with fromID <= id <= toID, relayed or not,
// with a fresh message UUID. Rows that had never been relayed are marked
// relayed. It returns how many rows were published.
func (e *Emitter) Replay(ctx context.Context, fromID, toID int64) (int, error) {
	if fromID <= 0 || toID < fromID {
		return 0, fmt.Errorf("invalid replay range %d..%d", fromID, toID)
	}

	const pageSize = 500
	published, failed := 0, 0
	for cursor := fromID; cursor <= toID; {
		rows, err := e.store.Range(ctx, cursor, toID, pageSize)
		if err != nil {
			return published, err
		}
		if len(rows) == 0 {
			break
		}

		ids := e.publish(ctx, rows, true)
		published += len(ids)
		failed += len(rows) - len(ids)
		if _, err := e.store.MarkRelayed(ctx, ids); err != nil {
			return published, err
		}
		metrics.OutboxRelayed.WithLabelValues("replay").Add(float64(len(ids)))

		cursor = rows[len(rows)-1].ID + 1
	}

	logging.Ctx(ctx).Info().
		Int64("from_id", fromID).
		Int64("to_id", toID).
		Int("published", published).
		Int("failed", failed).
		Msg("Outbox replay finished")

	if failed > 0 {
		return published, fmt.Errorf("replay: %w: %d of %d rows", ErrPublishFailed, failed, published+failed)
	}
	return published, nil
}

// ErrPublishFailed reports rows the broker did not accept.
var ErrPublishFailed = errors.New("publish failed")
