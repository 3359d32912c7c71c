// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"
)

// ErrNATSStopped is returned when the embedded server stops on its own.
var ErrNATSStopped = errors.New("embedded NATS server stopped")

// EmbeddedNATS is the lifecycle subset of *broker.EmbeddedServer.
type EmbeddedNATS interface {
	Shutdown(ctx context.Context) error
	IsRunning() bool
}

// EmbeddedNATSService owns an embedded NATS server that was started before
// the tree. It watches the server and shuts it down when the tree stops.
//
// The server is started outside the tree because the transport needs its
// client URL before the router can be built. For the same reason a server
// that dies on its own cannot be restarted in place: Serve returns
// ErrNATSStopped wrapped with suture.ErrDoNotRestart, and the relay keeps
// unpublished rows in the outbox until the process is restarted.
//
// Example usage:
//
//	srv, err := broker.NewEmbeddedServer(cfg.Broker.NATS)
//	if err != nil {
//		return err
//	}
//	tree.AddDataService(services.NewEmbeddedNATSService(srv, cfg.Server.ShutdownTimeout))
type EmbeddedNATSService struct {
	server          EmbeddedNATS
	shutdownTimeout time.Duration
	healthInterval  time.Duration
}

// NewEmbeddedNATSService wraps server.
func NewEmbeddedNATSService(server EmbeddedNATS, shutdownTimeout time.Duration) *EmbeddedNATSService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &EmbeddedNATSService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		healthInterval:  5 * time.Second,
	}
}

// Serve implements suture.Service.
func (s *EmbeddedNATSService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("embedded NATS shutdown: %w", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if !s.server.IsRunning() {
				return fmt.Errorf("%w: %w", ErrNATSStopped, suture.ErrDoNotRestart)
			}
		}
	}
}

func (s *EmbeddedNATSService) String() string {
	return "nats-embedded"
}
