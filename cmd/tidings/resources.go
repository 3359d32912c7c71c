// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/tidings/internal/broker"
	"github.com/tomtom215/tidings/internal/cache"
	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/database"
	"github.com/tomtom215/tidings/internal/deadletter"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/outbox"
)

// resources are the connections shared by serve and the maintenance
// commands. Close releases them in reverse order of opening.
type resources struct {
	db          *sql.DB
	txm         *database.SQLTxManager
	rdb         *redis.Client
	nats        *broker.EmbeddedServer
	transport   *broker.Transport
	emitter     *outbox.Emitter
	deadLetters *deadletter.Store

	closers []func() error
}

// need selects optional resources.
type need int

const (
	needRedis need = 1 << iota
	needDeadLetters
	needEmbeddedNATS
	needMigrate

	needAll = needRedis | needDeadLetters | needEmbeddedNATS | needMigrate
)

// openResources always opens the database, the broker transport and the
// emitter. Everything else is opened only when requested. On failure every
// resource opened so far is released and the embedded NATS server, if
// started, is shut down.
func openResources(ctx context.Context, cfg *config.Config, n need) (*resources, error) {
	r := &resources{}
	if err := r.open(ctx, cfg, n); err != nil {
		r.Close()
		if r.nats != nil {
			if serr := r.nats.Shutdown(context.WithoutCancel(ctx)); serr != nil {
				logging.Warn().Err(serr).Msg("Error shutting down embedded NATS")
			}
		}
		return nil, err
	}
	return r, nil
}

func (r *resources) open(ctx context.Context, cfg *config.Config, n need) error {
	var err error

	if n&needMigrate != 0 && cfg.Database.MigrateOnStart {
		if err = database.Migrate(cfg.Database.URL); err != nil {
			return err
		}
	}

	if r.db, err = database.Open(ctx, &cfg.Database); err != nil {
		return err
	}
	r.closers = append(r.closers, r.db.Close)
	r.txm = database.NewTxManager(r.db)

	if n&needRedis != 0 {
		if r.rdb, err = cache.Open(ctx, cfg.Redis); err != nil {
			return err
		}
		r.closers = append(r.closers, r.rdb.Close)
	}

	if n&needDeadLetters != 0 {
		if r.deadLetters, err = deadletter.Open(cfg.DeadLetter); err != nil {
			return err
		}
		r.closers = append(r.closers, r.deadLetters.Close)
	}

	natsURL := ""
	if n&needEmbeddedNATS != 0 && cfg.Broker.Transport == broker.TransportNATS && cfg.Broker.NATS.EmbeddedServer {
		if r.nats, err = broker.NewEmbeddedServer(cfg.Broker.NATS); err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		natsURL = r.nats.ClientURL()
	}

	if r.transport, err = broker.Open(ctx, cfg.Broker, natsURL, broker.NewLogger()); err != nil {
		return err
	}
	r.closers = append(r.closers, r.transport.Close)

	r.emitter = outbox.NewEmitter(outbox.NewStore(r.db), r.txm, r.transport.Publisher())
	return nil
}

// Close releases every resource except the embedded NATS server, which the
// supervisor tree shuts down.
func (r *resources) Close() {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		logging.Warn().Err(err).Msg("Error releasing resources")
	}
	r.closers = nil
}
