// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/tidings/internal/broker"
	"github.com/tomtom215/tidings/internal/database"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/metrics"
	"github.com/tomtom215/tidings/internal/outbox"
)

// errFatal rolls back a handler transaction that returned Fatal.
var errFatal = errors.New("fatal result")

// Dispatcher turns broker messages into policy calls.
type Dispatcher struct {
	registry *Registry
	txm      database.TxManager
}

// NewDispatcher creates a dispatcher. txm may be nil, in which case
// handlers run without a transaction.
func NewDispatcher(registry *Registry, txm database.TxManager) *Dispatcher {
	return &Dispatcher{registry: registry, txm: txm}
}

// Handle is a message.NoPublishHandlerFunc. The mapping from handler
// results to the returned error is total:
//
//   - any Fatal result, or an undecodable message, returns a
//     *broker.PermanentError (dead-letter now);
//   - otherwise any handler error returns that error (retry);
//   - otherwise nil (ack), including Skip and events with no policy.
func (d *Dispatcher) Handle(msg *message.Message) error {
	start := time.Now()
	ctx := msg.Context()
	if id := middleware.MessageCorrelationID(msg); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	}

	env, err := events.UnmarshalEnvelope(msg.Payload)
	if err != nil {
		return broker.NewPermanentError("decode envelope", err)
	}
	defer func() { metrics.RecordDispatchDuration(string(env.Name), time.Since(start)) }()

	if env.Version != env.Name.Version() {
		return broker.NewPermanentError(
			fmt.Sprintf("event %s version %d not supported (want %d)", env.Name, env.Version, env.Name.Version()), nil)
	}
	payload, err := events.Decode(env.Name, env.Payload)
	if err != nil {
		return broker.NewPermanentError("decode payload", err)
	}

	meta := Meta{
		EventID:   env.ID,
		OutboxID:  env.OutboxID,
		Name:      env.Name,
		Version:   env.Version,
		CreatedAt: env.CreatedAt,
		Replay:    msg.Metadata.Get(outbox.MetadataReplay) == "true",
	}
	if meta.OutboxID == 0 {
		meta.OutboxID, _ = strconv.ParseInt(msg.Metadata.Get(outbox.MetadataOutboxID), 10, 64)
	}
	return d.Dispatch(ctx, payload, meta)
}

// Dispatch invokes every policy registered for meta.Name with an already
// decoded payload.
func (d *Dispatcher) Dispatch(ctx context.Context, payload any, meta Meta) error {
	policies := d.registry.Policies(meta.Name)
	if len(policies) == 0 {
		logging.Ctx(ctx).Debug().Str("event_name", string(meta.Name)).Msg("No policy for event")
		return nil
	}

	var (
		fatal  []string
		retry  []error
		logger = logging.Ctx(ctx)
	)
	for _, p := range policies {
		res, err := d.invoke(ctx, p, payload, meta)
		switch {
		case err != nil:
			metrics.RecordDispatch(string(meta.Name), p.name, "retry")
			logger.Warn().Err(err).
				Str("event_name", string(meta.Name)).
				Str("policy", p.name).
				Str("event_id", meta.EventID).
				Msg("Policy failed, will retry")
			retry = append(retry, fmt.Errorf("policy %s: %w", p.name, err))
		case res.Outcome == OutcomeFatal:
			metrics.RecordDispatch(string(meta.Name), p.name, "fatal")
			fatal = append(fatal, p.name+": "+res.Reason)
		case res.Outcome == OutcomeSkip:
			metrics.RecordDispatch(string(meta.Name), p.name, "skip")
			logger.Warn().
				Str("event_name", string(meta.Name)).
				Str("policy", p.name).
				Str("reason", res.Reason).
				Msg("Policy skipped event")
		default:
			metrics.RecordDispatch(string(meta.Name), p.name, "success")
		}
	}

	if len(fatal) > 0 {
		return broker.NewPermanentError(
			fmt.Sprintf("event %s rejected by %s", meta.Name, strings.Join(fatal, "; ")), errors.Join(retry...))
	}
	return errors.Join(retry...)
}

func (d *Dispatcher) invoke(ctx context.Context, p *Policy, payload any, meta Meta) (res Result, err error) {
	h := p.handlers[meta.Name]
	if d.txm == nil {
		return h.call(ctx, payload, meta)
	}
	err = d.txm.WithTx(ctx, func(txCtx context.Context) error {
		var herr error
		res, herr = h.call(txCtx, payload, meta)
		if herr != nil {
			return herr
		}
		if res.Outcome == OutcomeFatal {
			return errFatal
		}
		return nil
	})
	if errors.Is(err, errFatal) {
		return res, nil
	}
	return res, err
}

// Register subscribes the dispatcher to every event topic of transport.
// NATS and AMQP use one wildcard subscription; the memory transport needs
// one handler per event topic.
func (d *Dispatcher) Register(router *broker.Router, transport *broker.Transport) {
	topics := transport.EventTopics()
	for i, topic := range topics {
		name := "dispatcher"
		if len(topics) > 1 {
			name = "dispatcher-" + strconv.Itoa(i)
		}
		router.AddConsumerHandler(name, topic, "dispatcher", d.Handle)
	}
}
