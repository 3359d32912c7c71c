// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/metrics"
	"github.com/tomtom215/tidings/internal/outbox"
)

// Appender persists a batch of events atomically.
type Appender interface {
	Append(ctx context.Context, evts ...events.Event) ([]outbox.Row, error)
}

// ErrPageLimit is returned when a traversal reaches MaxPages before the
// cutoff. The indexer goes to error and keeps its last_checked.
var ErrPageLimit = errors.New("indexer page limit reached")

// Driver runs indexer ticks.
type Driver struct {
	repo     *Repository
	appender Appender
	sources  map[string]Source
	cfg      config.IndexerConfig
	now      func() time.Time
}

// NewDriver creates a driver for sources.
func NewDriver(repo *Repository, appender Appender, cfg config.IndexerConfig, sources ...Source) *Driver {
	d := &Driver{
		repo:     repo,
		appender: appender,
		sources:  make(map[string]Source, len(sources)),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, s := range sources {
		d.sources[s.ID()] = s
	}
	return d
}

// Tick runs one traversal for every runnable indexer. Indexers are
// processed one after another; a failure is recorded on that indexer's row
// and does not stop the others. The joined failures are returned.
func (d *Driver) Tick(ctx context.Context) error {
	log := logging.Ctx(ctx)

	if d.cfg.PendingTimeout > 0 {
		ids, err := d.repo.RecoverStale(ctx, d.now().Add(-d.cfg.PendingTimeout))
		if err != nil {
			return err
		}
		for _, id := range ids {
			log.Warn().Str("indexer_id", id).Dur("pending_timeout", d.cfg.PendingTimeout).
				Msg("Indexer pending too long, marked as error")
		}
	}

	if d.cfg.GlobalLock {
		pending, err := d.repo.AnyPending(ctx)
		if err != nil {
			return err
		}
		if pending {
			log.Debug().Msg("An indexer is pending, skipping tick")
			return nil
		}
	}

	indexers, err := d.repo.List(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for i := range indexers {
		if !indexers[i].Status.Runnable() {
			continue
		}
		if err := d.run(ctx, &indexers[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Driver) run(ctx context.Context, ix *Indexer) error {
	log := logging.Ctx(ctx).With().Str("indexer_id", ix.ID).Logger()

	src, ok := d.sources[ix.ID]
	if !ok {
		log.Warn().Msg("Indexer not implemented")
		metrics.RecordTraversal(ix.ID, "not_implemented", 0)
		return nil
	}
	if !src.Enabled() {
		log.Debug().Msg("Indexer source disabled")
		metrics.RecordTraversal(ix.ID, "skipped", 0)
		return nil
	}

	startedAt := d.now()
	acquired, err := d.repo.Acquire(ctx, ix.ID, startedAt)
	if err != nil {
		return err
	}
	if !acquired {
		log.Debug().Msg("Indexer taken by another worker")
		metrics.RecordTraversal(ix.ID, "skipped", 0)
		return nil
	}

	var cutoff time.Time
	if ix.LastChecked != nil {
		cutoff = *ix.LastChecked
	}
	emitted, err := d.traverse(ctx, src, cutoff)
	if err != nil {
		// The status must be written even if ctx was cancelled.
		failCtx := context.WithoutCancel(ctx)
		if ferr := d.repo.Fail(failCtx, ix.ID, err.Error()); ferr != nil {
			err = errors.Join(err, ferr)
		}
		metrics.RecordTraversal(ix.ID, string(StatusError), emitted)
		log.Error().Err(err).Int("emitted", emitted).Msg("Indexer traversal failed")
		return fmt.Errorf("indexer %s: %w", ix.ID, err)
	}

	if err := d.repo.Complete(ctx, ix.ID, startedAt); err != nil {
		metrics.RecordTraversal(ix.ID, string(StatusError), emitted)
		return err
	}
	metrics.RecordTraversal(ix.ID, string(StatusIdle), emitted)
	log.Info().Int("emitted", emitted).Time("last_checked", startedAt).Msg("Indexer traversal finished")
	return nil
}

// traverse walks pages until the feed is exhausted or reaches records no
// newer than cutoff, appending one batch per page. It returns how many
// events were appended. Hitting the page limit is a failure so that
// last_checked never moves past records that were not fetched.
func (d *Driver) traverse(ctx context.Context, src Source, cutoff time.Time) (int, error) {
	maxPages := d.cfg.MaxPages
	emitted := 0
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		records, err := src.FetchPage(ctx, page)
		if err != nil {
			return emitted, err
		}
		if len(records) == 0 {
			return emitted, nil
		}

		batch := make([]events.Event, 0, len(records))
		for i := range records {
			if records[i].CreatedAt.After(cutoff) && records[i].Event.Name != "" {
				batch = append(batch, records[i].Event)
			}
		}
		if len(batch) > 0 {
			if _, err := d.appender.Append(ctx, batch...); err != nil {
				return emitted, fmt.Errorf("append page %d: %w", page, err)
			}
			emitted += len(batch)
		}

		if oldest := records[len(records)-1].CreatedAt; !oldest.After(cutoff) {
			return emitted, nil
		}
	}

	return emitted, fmt.Errorf("%w: %d pages newer than %s", ErrPageLimit, maxPages, cutoff.Format(time.RFC3339))
}
