// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

/*
Package broker adapts Watermill to the Tidings delivery model.

A Transport bundles a publisher with a subscriber factory for one of three
backends:

  - nats: JetStream through watermill-nats, optionally backed by an embedded
    nats-server started in-process.
  - amqp: RabbitMQ through amqp091-go with a topic exchange and a dead-letter
    exchange bounding broker-level redelivery.
  - memory: Watermill's gochannel, used by tests and single-process demos.

Router wraps message.Router with the consumer middleware stack. From the
outside in:

	Throttle (optional)
	Deduplicator (Redis, keyed by handler name and message UUID)
	PoisonQueue (to the dead-letter topic)
	dead-letter classification (reason, retry count, metrics)
	Retry (skipped for permanent errors)
	attempt counter
	CorrelationID
	Recoverer

Handlers signal a permanent failure by returning a *PermanentError (or any
error matching events.ErrSchemaValidation). Permanent failures skip Retry
and are dead-lettered on first failure. Every other error is retried with
exponential backoff and dead-lettered once the retry budget is spent. A
message whose dead-letter publish also fails is nacked and left to the
transport's own redelivery bound.
*/
package broker
