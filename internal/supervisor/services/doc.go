// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

// Package services adapts the pipeline's workers to suture.Service.
//
// HTTPServerService wraps the admin API server, EmbeddedNATSService owns
// the in-process NATS server, and PeriodicService drives every worker
// that exposes a RunOnce method: the outbox relay and archiver, the counter
// aggregator, the indexer timer and dead-letter garbage collection.
//
// The watermill router needs no wrapper; broker.Router already implements
// Serve(ctx) and builds a fresh router on every restart.
package services
