// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package services

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/tidings/internal/logging"
)

// RunFunc performs one pass of a periodic worker.
type RunFunc func(ctx context.Context) error

// PeriodicService calls run once at start and then every interval until its
// context ends. A failed pass is logged and the next tick runs as usual;
// only a panic escapes to the supervisor.
//
// Passes never overlap: a pass that takes longer than interval delays the
// next one, and ticks missed in the meantime are dropped by time.Ticker.
// The relay, archiver, counter flush and indexer timer all rely on this.
//
// Example usage:
//
//	relay := outbox.NewRelay(emitter, cfg.Outbox)
//	tree.AddDataService(services.NewPeriodicService("outbox-relay", cfg.Outbox.RelayInterval, relay.RunOnce))
type PeriodicService struct {
	name     string
	interval time.Duration
	run      RunFunc
}

// NewPeriodicService creates a PeriodicService. A non-positive interval
// becomes one minute.
func NewPeriodicService(name string, interval time.Duration, run RunFunc) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{name: name, interval: interval, run: run}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	logger := logging.Ctx(ctx).With().Str("service", p.name).Logger()
	logger.Debug().Dur("interval", p.interval).Msg("Periodic service started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Periodic run failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *PeriodicService) String() string {
	return p.name
}
