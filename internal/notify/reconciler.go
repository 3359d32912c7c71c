// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package notify

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/metrics"
)

// ErrIncompleteDelete is returned when the provider deleted fewer schedules
// than requested.
var ErrIncompleteDelete = errors.New("provider did not delete every schedule")

// Change is one mutation Reconcile made.
type Change struct {
	Workflow   Workflow
	Created    bool
	ScheduleID string
}

// Reconciler applies Preferences to a Provider.
type Reconciler struct {
	provider Provider
}

// NewReconciler creates a Reconciler.
func NewReconciler(provider Provider) *Reconciler {
	return &Reconciler{provider: provider}
}

// Reconcile makes the provider's schedules for userID match prefs and
// returns what it changed. With email disabled every schedule the user has
// is deleted, including workflows this service does not manage.
func (r *Reconciler) Reconcile(ctx context.Context, userID int64, prefs Preferences) ([]Change, error) {
	if !prefs.EmailEnabled {
		return r.deleteAll(ctx, userID)
	}

	workflows := Workflows()
	changes := make([][]Change, len(workflows))
	errs := make([]error, len(workflows))

	// Workflows fail independently, so the group context is not used to
	// cancel siblings.
	var g errgroup.Group
	for i, wf := range workflows {
		g.Go(func() error {
			changes[i], errs[i] = r.reconcileWorkflow(ctx, userID, wf, prefs.Wants(wf))
			return nil
		})
	}
	_ = g.Wait()

	var all []Change
	for _, c := range changes {
		all = append(all, c...)
	}
	return all, errors.Join(errs...)
}

func (r *Reconciler) reconcileWorkflow(ctx context.Context, userID int64, wf Workflow, wanted bool) ([]Change, error) {
	log := logging.Ctx(ctx).With().Int64("user_id", userID).Str("workflow", string(wf)).Logger()

	existing, err := r.provider.GetSchedules(ctx, userID, wf)
	metrics.RecordProviderCall("get", err)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", wf, err)
	}

	var stale []Schedule
	switch {
	case wanted && len(existing) == 0:
		created, err := r.provider.CreateSchedules(ctx, CreateRequest{
			UserIDs:  []int64{userID},
			Workflow: wf,
			Repeats:  wf.Recurrence(),
		})
		metrics.RecordProviderCall("create", err)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", wf, err)
		}
		out := make([]Change, 0, len(created))
		for _, s := range created {
			out = append(out, Change{Workflow: wf, Created: true, ScheduleID: s.ID})
		}
		log.Info().Msg("Created notification schedule")
		return out, nil
	case wanted && len(existing) > 1:
		// At most one schedule per workflow; keep the first.
		stale = existing[1:]
	case !wanted:
		stale = existing
	}

	out, err := r.delete(ctx, stale)
	if len(out) > 0 {
		log.Info().Int("deleted", len(out)).Msg("Deleted notification schedules")
	}
	if err != nil {
		return out, fmt.Errorf("workflow %s: %w", wf, err)
	}
	return out, nil
}

func (r *Reconciler) deleteAll(ctx context.Context, userID int64) ([]Change, error) {
	existing, err := r.provider.GetSchedules(ctx, userID, "")
	metrics.RecordProviderCall("get", err)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	out, err := r.delete(ctx, existing)
	if len(out) > 0 {
		logging.Ctx(ctx).Info().Int64("user_id", userID).Int("deleted", len(out)).
			Msg("Email disabled, deleted every notification schedule")
	}
	return out, err
}

// delete removes schedules and reports the ones the provider confirmed.
func (r *Reconciler) delete(ctx context.Context, schedules []Schedule) ([]Change, error) {
	if len(schedules) == 0 {
		return nil, nil
	}
	ids := make([]string, len(schedules))
	for i, s := range schedules {
		ids[i] = s.ID
	}

	deleted, err := r.provider.DeleteSchedules(ctx, ids)
	metrics.RecordProviderCall("delete", err)
	if err != nil {
		return nil, err
	}
	out := make([]Change, 0, len(deleted))
	for _, s := range schedules {
		if _, ok := deleted[s.ID]; ok {
			out = append(out, Change{Workflow: s.Workflow, ScheduleID: s.ID})
		}
	}
	if missing := len(schedules) - len(out); missing > 0 {
		return out, fmt.Errorf("%w: %d of %d", ErrIncompleteDelete, missing, len(schedules))
	}
	return out, nil
}
