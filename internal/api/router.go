// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/tidings/internal/deadletter"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/outbox"
)

// EventAppender is satisfied by *outbox.Emitter.
type EventAppender interface {
	Append(ctx context.Context, evts ...events.Event) ([]outbox.Row, error)
}

// OutboxReplayer is satisfied by *outbox.Emitter.
type OutboxReplayer interface {
	Replay(ctx context.Context, fromID, toID int64) (int, error)
}

// ViewCounter is satisfied by *counter.Aggregator.
type ViewCounter interface {
	IncrementViews(ctx context.Context, threadID, n int64) error
}

// DeadLetterLister is satisfied by *deadletter.Store.
type DeadLetterLister interface {
	List(ctx context.Context, limit int) ([]*deadletter.Entry, error)
}

// DeadLetterReplayer is satisfied by *deadletter.Replayer.
type DeadLetterReplayer interface {
	Replay(ctx context.Context, id string) (*deadletter.Entry, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies are the components the handlers call.
type Dependencies struct {
	Events      EventAppender
	Outbox      OutboxReplayer
	Views       ViewCounter
	DeadLetters DeadLetterLister
	Replayer    DeadLetterReplayer
	Checks      map[string]HealthCheck
}

// Options configure the router.
type Options struct {
	// Authenticate guards /api/v1. Nil leaves it open.
	Authenticate      func(http.Handler) http.Handler
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// MetricsHandler defaults to promhttp.Handler().
	MetricsHandler http.Handler
}

// Handler serves the API.
type Handler struct {
	deps Dependencies
}

// NewRouter builds the chi router.
func NewRouter(deps Dependencies, opts Options) http.Handler {
	h := &Handler{deps: deps}

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(AccessLog())

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(opts.RateLimitRequests, opts.RateLimitWindow))
		if opts.Authenticate != nil {
			r.Use(opts.Authenticate)
		}

		r.Post("/events", h.EmitEvents)
		r.Post("/threads/{id}/views", h.IncrementViews)
		r.Post("/outbox/replay", h.ReplayOutbox)
		r.Get("/deadletters", h.ListDeadLetters)
		r.Post("/deadletters/{id}/replay", h.ReplayDeadLetter)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("route not found")
	})
	return r
}
