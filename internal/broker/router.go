// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/metrics"
)

// Metadata written on messages routed to the dead-letter topic, next to
// Watermill's own reason_poisoned, topic_poisoned and handler_poisoned.
const (
	MetadataAttempts         = "attempts"
	MetadataRetryCount       = "retry_count"
	MetadataDeadLetterReason = "deadletter_reason"
	MetadataErrorCategory    = "error_category"
)

// Dead-letter reasons.
const (
	ReasonFatal     = "fatal"
	ReasonExhausted = "exhausted"
	ReasonDecode    = "decode"
)

// DefaultRouterConfig returns the retry policy of three retries starting at
// two seconds.
func DefaultRouterConfig() config.RouterConfig {
	return config.RouterConfig{
		RetryCount:           3,
		RetryInitialInterval: 2 * time.Second,
		RetryMaxInterval:     30 * time.Second,
		DeadLetterTopic:      "tidings.deadletter",
		DedupTTL:             10 * time.Minute,
		CloseTimeout:         30 * time.Second,
	}
}

type handlerSpec struct {
	name       string
	topic      string
	consumer   string
	fn         message.NoPublishHandlerFunc
	deadLetter bool
}

// Router owns the consumer side of the broker. Handlers are registered up
// front; every Serve builds a fresh message.Router with fresh subscribers,
// so the supervisor can restart it after a failure.
type Router struct {
	cfg       config.RouterConfig
	transport *Transport
	dedup     *Deduplicator
	logger    watermill.LoggerAdapter

	mu       sync.Mutex
	handlers []handlerSpec
	current  *message.Router

	runningOnce sync.Once
	running     chan struct{}
}

// NewRouter creates a router over transport. dedup may be nil.
func NewRouter(cfg config.RouterConfig, transport *Transport, dedup *Deduplicator, logger watermill.LoggerAdapter) *Router {
	if logger == nil {
		logger = NewLogger()
	}
	return &Router{
		cfg:       cfg,
		transport: transport,
		dedup:     dedup,
		logger:    logger,
		running:   make(chan struct{}),
	}
}

// AddConsumerHandler registers a handler whose failures are retried and
// then routed to the dead-letter topic.
func (r *Router) AddConsumerHandler(name, topic, consumer string, fn message.NoPublishHandlerFunc) {
	r.add(handlerSpec{name: name, topic: topic, consumer: consumer, fn: fn, deadLetter: true})
}

// AddSinkHandler registers a handler consuming the dead-letter topic
// itself. Its failures are retried and then nacked, never re-poisoned.
func (r *Router) AddSinkHandler(name, topic, consumer string, fn message.NoPublishHandlerFunc) {
	r.add(handlerSpec{name: name, topic: topic, consumer: consumer, fn: fn})
}

func (r *Router) add(spec handlerSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, spec)
}

func (r *Router) build() (*message.Router, error) {
	wm, err := message.NewRouter(message.RouterConfig{CloseTimeout: r.cfg.CloseTimeout}, r.logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	if r.cfg.ThrottlePerSecond > 0 {
		wm.AddMiddleware(middleware.NewThrottle(r.cfg.ThrottlePerSecond, time.Second).Middleware)
	}
	if r.dedup != nil {
		wm.AddMiddleware(r.dedup.Middleware)
	}

	r.mu.Lock()
	specs := append([]handlerSpec(nil), r.handlers...)
	r.mu.Unlock()

	for _, spec := range specs {
		sub, err := r.transport.NewSubscriber(spec.consumer)
		if err != nil {
			return nil, err
		}
		h := wm.AddConsumerHandler(spec.name, spec.topic, sub, spec.fn)

		var chain []message.HandlerMiddleware
		if spec.deadLetter {
			poison, err := middleware.PoisonQueue(r.transport.Publisher(), r.cfg.DeadLetterTopic)
			if err != nil {
				return nil, fmt.Errorf("create poison queue middleware: %w", err)
			}
			chain = append(chain, recordDeadLetter, poison, classifyDeadLetter)
		}
		chain = append(chain,
			r.retry().Middleware,
			countAttempts,
			middleware.CorrelationID,
			middleware.Recoverer,
		)
		h.AddMiddleware(chain...)
	}
	return wm, nil
}

func (r *Router) retry() middleware.Retry {
	return middleware.Retry{
		MaxRetries:          r.cfg.RetryCount,
		InitialInterval:     r.cfg.RetryInitialInterval,
		MaxInterval:         r.cfg.RetryMaxInterval,
		Multiplier:          2,
		RandomizationFactor: 0.1,
		MaxElapsedTime:      5 * time.Minute,
		ShouldRetry: func(p middleware.RetryParams) bool {
			return !IsPermanent(p.Err) && !errors.Is(p.Err, ErrInFlight)
		},
		Logger: r.logger,
	}
}

// Serve runs one router generation until ctx ends.
func (r *Router) Serve(ctx context.Context) error {
	wm, err := r.build()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.current = wm
	r.mu.Unlock()

	go func() {
		select {
		case <-wm.Running():
			r.runningOnce.Do(func() { close(r.running) })
		case <-ctx.Done():
		}
	}()

	err = wm.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("router stopped")
	}
	return fmt.Errorf("watermill router: %w", err)
}

// String names the service for the supervisor.
func (r *Router) String() string { return "watermill-router" }

// Running is closed once the first router generation has subscribed every
// handler.
func (r *Router) Running() <-chan struct{} { return r.running }

// Close stops the current generation.
func (r *Router) Close() error {
	r.mu.Lock()
	wm := r.current
	r.mu.Unlock()
	if wm == nil {
		return nil
	}
	return wm.Close()
}

// countAttempts sits inside Retry so every handler invocation bumps the
// attempts counter on the message.
func countAttempts(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		n, _ := strconv.Atoi(msg.Metadata.Get(MetadataAttempts))
		msg.Metadata.Set(MetadataAttempts, strconv.Itoa(n+1))
		return h(msg)
	}
}

// classifyDeadLetter runs between PoisonQueue and Retry and stamps the
// final error's reason and retry count before the message is poisoned.
func classifyDeadLetter(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err == nil {
			return out, nil
		}

		reason := ReasonExhausted
		switch {
		case errors.Is(err, events.ErrSchemaValidation):
			reason = ReasonDecode
		case IsPermanent(err):
			reason = ReasonFatal
		}
		attempts, _ := strconv.Atoi(msg.Metadata.Get(MetadataAttempts))
		retries := attempts - 1
		if retries < 0 {
			retries = 0
		}
		msg.Metadata.Set(MetadataDeadLetterReason, reason)
		msg.Metadata.Set(MetadataRetryCount, strconv.Itoa(retries))
		msg.Metadata.Set(MetadataErrorCategory, Categorize(err).String())

		logging.Error().
			Err(err).
			Str("message_uuid", msg.UUID).
			Str("event_name", msg.Metadata.Get("event_name")).
			Str("reason", reason).
			Int("retry_count", retries).
			Str("payload", string(msg.Payload)).
			Msg("Dead-lettering message")
		return out, err
	}
}

// recordDeadLetter wraps PoisonQueue and counts messages it actually
// published, which is when the poison error turns into a nil result.
func recordDeadLetter(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err == nil && msg.Metadata.Get(middleware.ReasonForPoisonedKey) != "" {
			metrics.RecordDeadLetter(msg.Metadata.Get(middleware.PoisonedTopicKey), msg.Metadata.Get(MetadataDeadLetterReason))
		}
		return out, err
	}
}
