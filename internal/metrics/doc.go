// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

/*
Package metrics holds the Prometheus instrumentation for Tidings.

All collectors are registered on the default registry through promauto and
exposed by the admin server at /metrics:

	curl http://localhost:8080/metrics | grep tidings_

Families:
  - tidings_outbox_*: appends, rejected batches, publish failures, relays, archival
  - tidings_dispatch_*: policy outcomes (success, skip, retry, fatal) and latency
  - tidings_deadlettered_total: dead-letter routing by reason
  - tidings_indexer_*: traversal results, emitted events, page retries
  - tidings_notify_provider_calls_total: schedule provider traffic
  - tidings_counter_*: aggregator flushes, rows, duration
  - tidings_circuit_breaker_*: breaker state for outbound clients and the publisher

Components call the Record* helpers rather than touching collectors directly.
*/
package metrics
