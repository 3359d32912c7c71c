// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

/*
Package counter accumulates thread counters in Redis and periodically
writes them to PostgreSQL.

Two kinds of counter exist:

	delta      view_count      HINCRBY <prefix>:counter:view_count <thread> n
	recompute  reaction_count  SADD    <prefix>:counter:reaction_count <thread>
	           comment_count   SADD    <prefix>:counter:comment_count <thread>

A delta counter is added to the column. A recompute counter only records
which threads changed; the flush recounts them from their source table.

A flush of one kind:

 1. takes a lease, SET <kind>:lock <token> NX PX, so one process flushes a
    kind at a time;
 2. finishes any <kind>:flushing:<token> key a crashed flush left behind;
 3. RENAMEs the live key to <kind>:flushing:<token>, so increments that
    arrive during the flush land in a fresh live key;
 4. in one transaction records the token in counter_flushes and runs one
    bulk UPDATE;
 5. deletes the flushing key after commit.

A crash before commit leaves the flushing key and no token row, and the
next flush applies it. A crash after commit leaves the key and the token
row, and the next flush deletes the key without applying it again.
*/
package counter
