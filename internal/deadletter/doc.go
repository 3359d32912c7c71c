// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

// Package deadletter archives messages the router gave up on and lets an
// operator list and replay them.
//
// The Sink consumes the dead-letter topic and writes one Entry per message
// to BadgerDB, keyed by message UUID and expiring after the configured
// retention. Replay republishes an entry's payload on its original topic
// under a fresh UUID so deduplication does not drop it.
package deadletter
