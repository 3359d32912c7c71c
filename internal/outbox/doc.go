// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

/*
Package outbox durably records domain events and hands them to the broker.

An append validates every event, inserts the whole batch in one transaction
and publishes each row once the transaction commits. A row whose publish
fails stays in the table with relayed_at unset; the Relay picks it up on a
later pass and Replay republishes any id range on operator request.

Row lifecycle:

	appended (relayed_at NULL)
	    |  publish after commit, or Relay pass
	    v
	relayed  (relayed_at set)
	    |  Archiver, created_at older than retention
	    v
	archived (archived_at set)

A row is never archived before it has been relayed.

Broker messages use the outbox event id as their UUID, so a publish on
append and a later relay of the same row carry the same deduplication key.
Replays get a fresh UUID and are marked with the replay metadata key.
*/
package outbox
