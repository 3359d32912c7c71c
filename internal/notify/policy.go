// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package notify

import (
	"context"

	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/policy"
)

// PolicyName is the name the preferences policy registers under.
const PolicyName = "notification-schedules"

// Policy returns the policy that reconciles schedules whenever a user's
// notification preferences change. Provider errors are retried; Reconcile
// is idempotent so a retry only finishes what the first attempt left.
func (r *Reconciler) Policy() *policy.Policy {
	return policy.On(policy.New(PolicyName), events.UserNotificationPreferencesUpdated, r.handlePreferences)
}

func (r *Reconciler) handlePreferences(ctx context.Context, p *events.UserNotificationPreferencesUpdatedPayload, _ policy.Meta) (policy.Result, error) {
	_, err := r.Reconcile(ctx, p.UserID, Preferences{
		EmailEnabled: p.EmailNotificationsEnabled,
		Recap:        p.RecapEmailEnabled,
		Digest:       p.DigestEmailEnabled,
	})
	if err != nil {
		return policy.Result{}, err
	}
	return policy.Success(), nil
}
