// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package indexer

import (
	"context"
	"time"

	"github.com/tomtom215/tidings/internal/events"
)

// Record is one item of a source page. A record with an empty Event still
// counts toward the cutoff check but emits nothing.
type Record struct {
	CreatedAt time.Time
	Event     events.Event
}

// Source is an external, paged feed of records ordered newest first.
type Source interface {
	// ID matches the indexers row this source drives.
	ID() string
	Enabled() bool
	// FetchPage returns page n, starting at 1. An empty page ends the feed.
	FetchPage(ctx context.Context, n int) ([]Record, error)
}
