// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package indexer

import (
	"context"
	"time"

	"github.com/tomtom215/tidings/internal/database"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/policy"
)

// PolicyName is the name the tick policy registers under.
const PolicyName = "community-indexer"

// Policy returns the policy that runs a tick for every
// CommunityIndexerTimerTicked event.
func (d *Driver) Policy() *policy.Policy {
	return policy.On(policy.New(PolicyName), events.CommunityIndexerTimerTicked, d.handleTick)
}

func (d *Driver) handleTick(ctx context.Context, tick *events.CommunityIndexerTimerTickedPayload, meta policy.Meta) (policy.Result, error) {
	// A backlog of ticks after downtime collapses into the first one.
	if d.cfg.TickInterval > 0 && !meta.Replay && d.now().Sub(tick.TickedAt) > 2*d.cfg.TickInterval {
		return policy.Skip("stale tick"), nil
	}
	// Lease transitions and page appends commit on their own so other
	// workers see the pending row while the traversal runs.
	if err := d.Tick(database.WithoutTx(ctx)); err != nil {
		return policy.Result{}, err
	}
	return policy.Success(), nil
}

// Timer emits CommunityIndexerTimerTicked events.
type Timer struct {
	appender Appender
	now      func() time.Time
}

// NewTimer creates a Timer.
func NewTimer(appender Appender) *Timer {
	return &Timer{appender: appender, now: time.Now}
}

// RunOnce appends one tick event.
func (t *Timer) RunOnce(ctx context.Context) error {
	_, err := t.appender.Append(ctx, events.New(events.CommunityIndexerTimerTicked,
		events.CommunityIndexerTimerTickedPayload{TickedAt: t.now().UTC()}))
	return err
}
