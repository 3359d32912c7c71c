// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

/*
Package indexer polls external sources for new records and turns them into
outbox events.

Each source has one row in the indexers table. The row is the lease:

	idle|error --Acquire--> pending --Complete--> idle   (last_checked = T0)
	                                 \--Fail------> error

Acquire is a conditional UPDATE, so two workers ticking at once cannot both
move the same indexer to pending. With GlobalLock enabled a tick does
nothing while any indexer is pending. A pending row whose updated_at is
older than PendingTimeout is flipped to error at the start of the next tick,
so a worker that died mid-traversal does not block the indexer forever.

A traversal walks pages newest first. Records created after last_checked
are emitted, one outbox append per page. It ends on an empty page or on a
page whose oldest record is not newer than last_checked. On success
last_checked becomes the time the traversal started, not the time it
ended, so records created while it ran are fetched again next time and
deduplicated downstream.

Ticks are driven by CommunityIndexerTimerTicked events; Driver.Policy
returns the handler.
*/
package indexer
