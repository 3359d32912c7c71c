// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tomtom215/tidings/internal/api"
	"github.com/tomtom215/tidings/internal/auth"
	"github.com/tomtom215/tidings/internal/broker"
	"github.com/tomtom215/tidings/internal/community"
	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/counter"
	"github.com/tomtom215/tidings/internal/database"
	"github.com/tomtom215/tidings/internal/deadletter"
	"github.com/tomtom215/tidings/internal/indexer"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/notify"
	"github.com/tomtom215/tidings/internal/outbox"
	"github.com/tomtom215/tidings/internal/policy"
	"github.com/tomtom215/tidings/internal/supervisor"
	"github.com/tomtom215/tidings/internal/supervisor/services"
)

const deadLetterGCInterval = time.Hour

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("version", version).Str("transport", cfg.Broker.Transport).Msg("Starting Tidings")

	res, err := openResources(ctx, cfg, needAll)
	if err != nil {
		return err
	}
	defer res.Close()

	var dedup *broker.Deduplicator
	if cfg.Broker.Router.DedupEnabled {
		dedup = broker.NewDeduplicator(broker.NewRedisKeyRepository(res.rdb, cfg.Redis.KeyPrefix, cfg.Broker.Router.DedupTTL))
	}
	router := broker.NewRouter(cfg.Broker.Router, res.transport, dedup, broker.NewLogger())
	deadletter.NewSink(res.deadLetters).Register(router, cfg.Broker.Router.DeadLetterTopic)

	provider, err := notify.NewProvider(cfg.Notify)
	if err != nil {
		return err
	}
	aggregator := counter.NewAggregator(res.rdb, res.db, res.txm, cfg.Redis.KeyPrefix, cfg.Counter)
	clanker := indexer.NewClankerSource(indexer.NewClankerClient(cfg.Indexer.Clanker), cfg.Indexer.Clanker.Enabled)
	driver := indexer.NewDriver(indexer.NewRepository(res.db), res.emitter, cfg.Indexer, clanker)

	registry, err := policy.NewRegistry(
		driver.Policy(),
		community.NewStore(res.db).Policy(),
		notify.NewReconciler(provider).Policy(),
		aggregator.Policy(),
	)
	if err != nil {
		return err
	}
	policy.NewDispatcher(registry, res.txm).Register(router, res.transport)

	handler, err := newAPIHandler(cfg, res, router, aggregator)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	if res.nats != nil {
		tree.AddDataService(services.NewEmbeddedNATSService(res.nats, cfg.Server.ShutdownTimeout))
	}
	tree.AddDataService(services.NewPeriodicService("outbox-relay", cfg.Outbox.RelayInterval,
		outbox.NewRelay(res.emitter, cfg.Outbox).RunOnce))
	tree.AddDataService(services.NewPeriodicService("outbox-archiver", cfg.Outbox.ArchiveInterval,
		outbox.NewArchiver(outbox.NewStore(res.db), cfg.Outbox).RunOnce))
	tree.AddDataService(services.NewPeriodicService("counter-aggregator", cfg.Counter.FlushInterval,
		aggregator.RunOnce))
	tree.AddDataService(services.NewPeriodicService("deadletter-gc", deadLetterGCInterval,
		func(context.Context) error { return res.deadLetters.CollectGarbage() }))

	tree.AddMessagingService(router)
	tree.AddMessagingService(services.NewPeriodicService("indexer-timer", cfg.Indexer.TickInterval,
		indexer.NewTimer(res.emitter).RunOnce))

	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("Supervisor tree starting")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown requested, waiting for services to stop")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
	}
	logging.Info().Msg("Tidings stopped")
	return nil
}

func newAPIHandler(cfg *config.Config, res *resources, router *broker.Router, views api.ViewCounter) (http.Handler, error) {
	opts := api.Options{
		RateLimitRequests: cfg.Server.RateLimitRequests,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
	}

	switch cfg.Security.AuthMode {
	case auth.ModeJWT:
		m, err := auth.NewJWTManager(&cfg.Security)
		if err != nil {
			return nil, err
		}
		opts.Authenticate = auth.NewMiddleware(m, auth.ModeJWT).Authenticate
	case auth.ModeNone:
		logging.Warn().Msg("AUTH_MODE=none: the admin API is unauthenticated")
	}

	deps := api.Dependencies{
		Events:      res.emitter,
		Outbox:      res.emitter,
		Views:       views,
		DeadLetters: res.deadLetters,
		Replayer:    deadletter.NewReplayer(res.deadLetters, res.transport.Publisher()),
		Checks: map[string]api.HealthCheck{
			"database": func(ctx context.Context) error { return database.Ping(ctx, res.db) },
			"redis":    func(ctx context.Context) error { return res.rdb.Ping(ctx).Err() },
			"broker": func(context.Context) error {
				select {
				case <-router.Running():
					return nil
				default:
					return errors.New("router not running")
				}
			},
		},
	}
	return api.NewRouter(deps, opts), nil
}
