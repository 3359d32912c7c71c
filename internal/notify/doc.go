// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

/*
Package notify keeps recurring email schedules in an external notification
provider in line with each user's preferences.

A user has at most one schedule per workflow. Reconcile reads what the
provider has, creates the schedules that are wanted and missing, deletes the
ones that are not wanted, and leaves the rest alone, so calling it twice with
the same preferences makes no changes the second time. Turning email off
globally deletes every schedule regardless of the per-workflow flags.

Workflows are reconciled concurrently and independently; a provider failure
on one does not stop the others, and all failures are returned together.

Providers:

	KnockClient     the Knock schedules API
	MemoryProvider  in-process, for development and tests
*/
package notify
