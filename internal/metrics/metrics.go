// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outbox
	OutboxAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_outbox_appended_total",
			Help: "Events durably appended to the outbox",
		},
		[]string{"event_name"},
	)

	OutboxAppendRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_outbox_append_rejected_total",
			Help: "Append batches rejected before any row was written",
		},
		[]string{"reason"}, // schema, database
	)

	OutboxPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_outbox_publish_failures_total",
			Help: "Broker publish failures after a successful append (left for the relay)",
		},
		[]string{"event_name"},
	)

	OutboxRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_outbox_relayed_total",
			Help: "Outbox rows published and marked relayed",
		},
		[]string{"source"}, // append, relay, replay
	)

	OutboxArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidings_outbox_archived_total",
			Help: "Outbox rows archived by the sweeper",
		},
	)

	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidings_outbox_pending",
			Help: "Rows claimed by the last relay pass that were still unrelayed",
		},
	)

	// Dispatch
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_dispatch_outcomes_total",
			Help: "Policy handler outcomes",
		},
		[]string{"event_name", "policy", "outcome"}, // success, skip, retry, fatal
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidings_dispatch_duration_seconds",
			Help:    "Time spent dispatching one message to all matching policies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_name"},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_deadlettered_total",
			Help: "Messages routed to the dead-letter destination",
		},
		[]string{"topic", "reason"}, // fatal, exhausted, decode
	)

	DeadLetterReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidings_deadletter_replayed_total",
			Help: "Dead-lettered messages republished by an operator",
		},
	)

	Deduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidings_router_deduplicated_total",
			Help: "Redelivered messages dropped by the deduplicator",
		},
	)

	// Indexer
	IndexerTraversals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_indexer_traversals_total",
			Help: "Indexer traversals by final state",
		},
		[]string{"indexer_id", "result"}, // idle, error, skipped, not_implemented
	)

	IndexerEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_indexer_events_emitted_total",
			Help: "Events emitted for discovered external records",
		},
		[]string{"indexer_id"},
	)

	IndexerPageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_indexer_page_retries_total",
			Help: "Page fetches retried after 429 or 5xx",
		},
		[]string{"indexer_id", "status"},
	)

	// Reconciler
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_notify_provider_calls_total",
			Help: "Notification provider API calls",
		},
		[]string{"operation", "result"}, // get/create/delete, ok/error
	)

	// Counter aggregator
	CounterFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_counter_flushes_total",
			Help: "Counter flush attempts by kind and result",
		},
		[]string{"counter_kind", "result"}, // applied, empty, locked, error
	)

	CounterRowsFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_counter_rows_flushed_total",
			Help: "Durable rows updated by counter flushes",
		},
		[]string{"counter_kind"},
	)

	CounterFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidings_counter_flush_duration_seconds",
			Help:    "Duration of one counter flush",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
		[]string{"counter_kind"},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tidings_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidings_http_requests_total",
			Help: "Admin API requests",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordAppend records a committed append batch.
func RecordAppend(names []string) {
	for _, n := range names {
		OutboxAppended.WithLabelValues(n).Inc()
	}
}

// RecordDispatch records one policy outcome.
func RecordDispatch(eventName, policy, outcome string) {
	DispatchOutcomes.WithLabelValues(eventName, policy, outcome).Inc()
}

// RecordDispatchDuration observes the time spent on one message.
func RecordDispatchDuration(eventName string, d time.Duration) {
	DispatchDuration.WithLabelValues(eventName).Observe(d.Seconds())
}

// RecordDeadLetter records a message routed to the dead-letter topic.
func RecordDeadLetter(topic, reason string) {
	DeadLettered.WithLabelValues(topic, reason).Inc()
}

// RecordTraversal records the final state of an indexer tick for one indexer.
func RecordTraversal(indexerID, result string, emitted int) {
	IndexerTraversals.WithLabelValues(indexerID, result).Inc()
	if emitted > 0 {
		IndexerEventsEmitted.WithLabelValues(indexerID).Add(float64(emitted))
	}
}

// RecordProviderCall records a notification provider call.
func RecordProviderCall(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ProviderCalls.WithLabelValues(operation, result).Inc()
}

// RecordCounterFlush records a flush attempt.
func RecordCounterFlush(kind, result string, rows int, d time.Duration) {
	CounterFlushes.WithLabelValues(kind, result).Inc()
	if rows > 0 {
		CounterRowsFlushed.WithLabelValues(kind).Add(float64(rows))
	}
	if d > 0 {
		CounterFlushDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// RecordCircuitBreakerTransition updates breaker state metrics.
// States follow gobreaker: 0 closed, 1 half-open, 2 open.
func RecordCircuitBreakerTransition(name, from, to string, toState float64) {
	CircuitBreakerState.WithLabelValues(name).Set(toState)
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}
