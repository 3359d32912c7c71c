// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/metrics"
)

// Relay republishes rows whose publish-on-append never succeeded.
type Relay struct {
	emitter   *Emitter
	grace     time.Duration
	batchSize int
	now       func() time.Time
}

// NewRelay creates a Relay. Only rows older than cfg.RelayGrace are claimed
// so the relay does not race the publish that follows a fresh append.
func NewRelay(emitter *Emitter, cfg config.OutboxConfig) *Relay {
	batch := cfg.RelayBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		emitter:   emitter,
		grace:     cfg.RelayGrace,
		batchSize: batch,
		now:       time.Now,
	}
}

// RunOnce claims one batch of unrelayed rows, publishes them and marks the
// accepted ones relayed, all under the row locks of a single transaction.
func (r *Relay) RunOnce(ctx context.Context) error {
	var claimed, relayed int
	err := r.emitter.txm.WithTx(ctx, func(txCtx context.Context) error {
		rows, err := r.emitter.store.ClaimUnrelayed(txCtx, r.now().Add(-r.grace), r.batchSize)
		if err != nil {
			return err
		}
		claimed = len(rows)
		if claimed == 0 {
			return nil
		}

		ids := r.emitter.publish(txCtx, rows, false)
		if _, err := r.emitter.store.MarkRelayed(txCtx, ids); err != nil {
			return err
		}
		relayed = len(ids)
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox relay: %w", err)
	}

	metrics.OutboxPending.Set(float64(claimed - relayed))
	if relayed > 0 {
		metrics.OutboxRelayed.WithLabelValues("relay").Add(float64(relayed))
	}
	if claimed > 0 {
		logging.Ctx(ctx).Info().Int("claimed", claimed).Int("relayed", relayed).Msg("Outbox relay pass")
	}
	return nil
}

// Archiver marks old, relayed rows as archived.
type Archiver struct {
	store     *Store
	retention time.Duration
	now       func() time.Time
}

// NewArchiver creates an Archiver keeping cfg.Retention of history live.
func NewArchiver(store *Store, cfg config.OutboxConfig) *Archiver {
	return &Archiver{store: store, retention: cfg.Retention, now: time.Now}
}

// ArchiveBefore archives relayed rows created before cutoff.
func (a *Archiver) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := a.store.Archive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.OutboxArchived.Add(float64(n))
		logging.Ctx(ctx).Info().Int64("rows", n).Time("cutoff", cutoff).Msg("Archived outbox rows")
	}
	return n, nil
}

// RunOnce archives rows older than the retention window.
func (a *Archiver) RunOnce(ctx context.Context) error {
	_, err := a.ArchiveBefore(ctx, a.now().Add(-a.retention))
	return err
}
