// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package counter

import (
	"context"

	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/policy"
)

// PolicyName is the name the counter policy registers under.
const PolicyName = "thread-counters"

// Policy returns the policy feeding the fast path. Recompute marks are
// idempotent and views are counted once per event id.
func (a *Aggregator) Policy() *policy.Policy {
	p := policy.New(PolicyName)
	policy.On(p, events.ThreadViewed, func(ctx context.Context, e *events.ThreadViewedPayload, meta policy.Meta) (policy.Result, error) {
		added, err := a.CountView(ctx, meta.EventID, e.ThreadID)
		if err != nil {
			return policy.Result{}, err
		}
		if !added {
			return policy.Skip("view already counted"), nil
		}
		return policy.Success(), nil
	})
	policy.On(p, events.ThreadUpvoted, func(ctx context.Context, e *events.ThreadUpvotedPayload, _ policy.Meta) (policy.Result, error) {
		return policy.Success(), a.MarkChanged(ctx, ReactionCount, e.ThreadID)
	})
	policy.On(p, events.CommentCreated, func(ctx context.Context, e *events.CommentCreatedPayload, _ policy.Meta) (policy.Result, error) {
		return policy.Success(), a.MarkChanged(ctx, CommentCount, e.ThreadID)
	})
	return p
}
