// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAppend(t *testing.T) {
	before := testutil.ToFloat64(OutboxAppended.WithLabelValues("metrics_test_event"))
	RecordAppend([]string{"metrics_test_event", "metrics_test_event"})
	after := testutil.ToFloat64(OutboxAppended.WithLabelValues("metrics_test_event"))

	if after-before != 2 {
		t.Errorf("appended delta = %v, want 2", after-before)
	}
}

func TestRecordProviderCall(t *testing.T) {
	okBefore := testutil.ToFloat64(ProviderCalls.WithLabelValues("metrics_test_op", "ok"))
	errBefore := testutil.ToFloat64(ProviderCalls.WithLabelValues("metrics_test_op", "error"))

	RecordProviderCall("metrics_test_op", nil)
	RecordProviderCall("metrics_test_op", errors.New("502"))
	RecordProviderCall("metrics_test_op", errors.New("503"))

	if d := testutil.ToFloat64(ProviderCalls.WithLabelValues("metrics_test_op", "ok")) - okBefore; d != 1 {
		t.Errorf("ok delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(ProviderCalls.WithLabelValues("metrics_test_op", "error")) - errBefore; d != 2 {
		t.Errorf("error delta = %v, want 2", d)
	}
}

func TestRecordTraversal(t *testing.T) {
	before := testutil.ToFloat64(IndexerEventsEmitted.WithLabelValues("metrics_test_idx"))
	RecordTraversal("metrics_test_idx", "idle", 3)
	RecordTraversal("metrics_test_idx", "skipped", 0)

	if d := testutil.ToFloat64(IndexerEventsEmitted.WithLabelValues("metrics_test_idx")) - before; d != 3 {
		t.Errorf("emitted delta = %v, want 3", d)
	}
	if v := testutil.ToFloat64(IndexerTraversals.WithLabelValues("metrics_test_idx", "skipped")); v < 1 {
		t.Errorf("skipped traversals = %v, want >= 1", v)
	}
}

func TestRecordCounterFlush(t *testing.T) {
	before := testutil.ToFloat64(CounterRowsFlushed.WithLabelValues("metrics_test_kind"))
	RecordCounterFlush("metrics_test_kind", "applied", 7, 20*time.Millisecond)
	RecordCounterFlush("metrics_test_kind", "empty", 0, 0)

	if d := testutil.ToFloat64(CounterRowsFlushed.WithLabelValues("metrics_test_kind")) - before; d != 7 {
		t.Errorf("rows delta = %v, want 7", d)
	}
	if n := testutil.CollectAndCount(CounterFlushDuration); n < 1 {
		t.Errorf("flush duration series = %d, want >= 1", n)
	}
}

func TestRecordCircuitBreakerTransition(t *testing.T) {
	RecordCircuitBreakerTransition("metrics_test_cb", "closed", "open", 2)

	if v := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("metrics_test_cb")); v != 2 {
		t.Errorf("state = %v, want 2", v)
	}
	if v := testutil.ToFloat64(CircuitBreakerTransitions.WithLabelValues("metrics_test_cb", "closed", "open")); v != 1 {
		t.Errorf("transitions = %v, want 1", v)
	}
}
