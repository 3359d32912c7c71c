// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/metrics"
)

const (
	dedupProcessing = "processing"
	dedupDone       = "done"

	dedupTimeout          = 2 * time.Second
	defaultProcessingTTL  = 2 * time.Minute
	dedupKeyPartSeparator = ":"
)

// RedisKeyRepository is a middleware.ExpiringKeyRepository with two key
// states. IsDuplicate claims a key as processing with SET NX PX; Complete
// promotes it to done for the dedup window and Release deletes it so a
// failed delivery can be handled again. Only done keys count as duplicates.
type RedisKeyRepository struct {
	client        redis.Cmdable
	prefix        string
	window        time.Duration
	processingTTL time.Duration
}

var _ middleware.ExpiringKeyRepository = (*RedisKeyRepository)(nil)

// NewRedisKeyRepository keeps done keys for window. A processing claim
// expires after two minutes (or window, if shorter) so a crashed consumer
// cannot block redelivery forever.
func NewRedisKeyRepository(client redis.Cmdable, prefix string, window time.Duration) *RedisKeyRepository {
	processing := defaultProcessingTTL
	if window < processing {
		processing = window
	}
	return &RedisKeyRepository{
		client:        client,
		prefix:        prefix + ":dedup:",
		window:        window,
		processingTTL: processing,
	}
}

// IsDuplicate reports true only for keys already completed. A key held by
// an in-flight delivery yields ErrInFlight.
func (r *RedisKeyRepository) IsDuplicate(ctx context.Context, key string) (bool, error) {
	k := r.prefix + key
	claimed, err := r.client.SetNX(ctx, k, dedupProcessing, r.processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim dedup key: %w", err)
	}
	if claimed {
		return false, nil
	}

	state, err := r.client.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between SETNX and GET
		return false, ErrInFlight
	case err != nil:
		return false, fmt.Errorf("read dedup key: %w", err)
	case state == dedupDone:
		metrics.Deduplicated.Inc()
		return true, nil
	default:
		return false, ErrInFlight
	}
}

// Complete marks key as handled for the dedup window.
func (r *RedisKeyRepository) Complete(ctx context.Context, key string) error {
	return r.client.Set(ctx, r.prefix+key, dedupDone, r.window).Err()
}

// Release drops a processing claim.
func (r *RedisKeyRepository) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// MessageKey scopes dedup to one handler, so a message poisoned by the
// dispatcher is still accepted by the dead-letter sink under the same UUID.
func MessageKey(msg *message.Message) (string, error) {
	if msg.UUID == "" {
		return "", errors.New("message has no UUID")
	}
	return message.HandlerNameFromCtx(msg.Context()) + dedupKeyPartSeparator + msg.UUID, nil
}

// Deduplicator combines Watermill's Deduplicator middleware with the
// two-state Redis repository.
type Deduplicator struct {
	repo  *RedisKeyRepository
	inner middleware.Deduplicator
}

// NewDeduplicator creates the router-level dedup middleware.
func NewDeduplicator(repo *RedisKeyRepository) *Deduplicator {
	return &Deduplicator{
		repo: repo,
		inner: middleware.Deduplicator{
			KeyFactory: MessageKey,
			Repository: repo,
			Timeout:    dedupTimeout,
		},
	}
}

// Middleware drops completed duplicates and settles the claim after the
// wrapped handler returns.
func (d *Deduplicator) Middleware(h message.HandlerFunc) message.HandlerFunc {
	return d.inner.Middleware(func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)

		key, kerr := MessageKey(msg)
		if kerr != nil {
			return out, err
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(msg.Context()), dedupTimeout)
		defer cancel()

		if err != nil {
			if rerr := d.repo.Release(ctx, key); rerr != nil {
				logging.Warn().Err(rerr).Str("message_uuid", msg.UUID).Msg("Failed to release dedup key")
			}
			return out, err
		}
		if cerr := d.repo.Complete(ctx, key); cerr != nil {
			logging.Warn().Err(cerr).Str("message_uuid", msg.UUID).Msg("Failed to complete dedup key")
		}
		return out, nil
	})
}
