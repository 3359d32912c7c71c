// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

/*
Package policy runs typed event handlers ("policies") for consumed messages.

A Policy is a named set of handlers, one per input event. Handlers are
registered with On, which ties the handler's payload type to the event
name; NewRegistry rejects any handler whose payload type is not the one the
event catalogue decodes for that name, so mismatches fail at startup rather
than on the first message.

	p := policy.New("community")
	policy.On(p, events.ClankerTokenFound, createCommunity)

Handlers return a Result and an error:

	Success           ack
	Skip(reason)      warning log, ack
	Fatal(reason)     dead-letter immediately, no retry
	non-nil error     retry with backoff, dead-letter when exhausted

Every handler runs in its own transaction. Events it appends through the
outbox join that transaction and are published once it commits; a Fatal
result or an error rolls the transaction back.
*/
package policy
