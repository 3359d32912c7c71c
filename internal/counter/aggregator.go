// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/tidings/internal/cache"
	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/database"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/metrics"
)

// Flush results reported to metrics.
const (
	resultApplied = "applied"
	resultEmpty   = "empty"
	resultLocked  = "locked"
	resultError   = "error"
)

// releaseScript deletes the lease only if this flush still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// incrementOnceScript adds ARGV[3] to field ARGV[2] of KEYS[2] only if the
// event marker KEYS[1] was not already set.
var incrementOnceScript = redis.NewScript(`
if redis.call("SET", KEYS[1], "1", "NX", "EX", ARGV[1]) then
	redis.call("HINCRBY", KEYS[2], ARGV[2], ARGV[3])
	return 1
end
return 0`)

// Aggregator owns the Redis side of the counters and flushes them.
type Aggregator struct {
	rdb            redis.Cmdable
	db             *sql.DB
	txm            database.TxManager
	prefix         string
	lockTTL        time.Duration
	seenTTL        time.Duration
	flushRetention time.Duration
	newToken       func() string
	now            func() time.Time
}

// NewAggregator creates an Aggregator.
func NewAggregator(rdb redis.Cmdable, db *sql.DB, txm database.TxManager, keyPrefix string, cfg config.CounterConfig) *Aggregator {
	a := &Aggregator{
		rdb:            rdb,
		db:             db,
		txm:            txm,
		prefix:         keyPrefix,
		lockTTL:        cfg.LockTTL,
		seenTTL:        cfg.SeenTTL,
		flushRetention: cfg.FlushRetention,
		newToken:       uuid.NewString,
		now:            time.Now,
	}
	if a.lockTTL <= 0 {
		a.lockTTL = 2 * time.Minute
	}
	if a.seenTTL <= 0 {
		a.seenTTL = 8 * 24 * time.Hour
	}
	if a.flushRetention <= 0 {
		a.flushRetention = 7 * 24 * time.Hour
	}
	return a
}

func (a *Aggregator) liveKey(k Kind) string { return cache.Key(a.prefix, "counter", k.Name) }
func (a *Aggregator) lockKey(k Kind) string { return cache.Key(a.prefix, "counter", k.Name, "lock") }

func (a *Aggregator) flushingKey(k Kind, token string) string {
	return cache.Key(a.prefix, "counter", k.Name, "flushing", token)
}

func (a *Aggregator) seenKey(eventID string) string {
	return cache.Key(a.prefix, "counter", "seen", eventID)
}

// IncrementViews adds n to the view count of a thread.
func (a *Aggregator) IncrementViews(ctx context.Context, threadID, n int64) error {
	if err := a.rdb.HIncrBy(ctx, a.liveKey(ViewCount), strconv.FormatInt(threadID, 10), n).Err(); err != nil {
		return fmt.Errorf("increment view_count for thread %d: %w", threadID, err)
	}
	return nil
}

// CountView adds one view for the ThreadViewed event eventID. An event id
// already counted within the seen TTL is ignored, so redelivery and replay
// do not inflate the count. It reports whether the view was added.
func (a *Aggregator) CountView(ctx context.Context, eventID string, threadID int64) (bool, error) {
	if eventID == "" {
		return true, a.IncrementViews(ctx, threadID, 1)
	}
	keys := []string{a.seenKey(eventID), a.liveKey(ViewCount)}
	added, err := incrementOnceScript.Run(ctx, a.rdb, keys,
		int64(a.seenTTL/time.Second), strconv.FormatInt(threadID, 10), 1).Int()
	if err != nil {
		return false, fmt.Errorf("count view %s for thread %d: %w", eventID, threadID, err)
	}
	return added == 1, nil
}

// MarkChanged queues a thread for recounting k.
func (a *Aggregator) MarkChanged(ctx context.Context, k Kind, threadID int64) error {
	if k.Delta {
		return fmt.Errorf("counter %s is a delta counter", k.Name)
	}
	if err := a.rdb.SAdd(ctx, a.liveKey(k), strconv.FormatInt(threadID, 10)).Err(); err != nil {
		return fmt.Errorf("mark %s changed for thread %d: %w", k.Name, threadID, err)
	}
	return nil
}

// RunOnce flushes every kind concurrently. Kinds fail independently.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	kinds := Kinds()
	errs := make([]error, len(kinds))
	var g errgroup.Group
	for i, k := range kinds {
		g.Go(func() error {
			_, errs[i] = a.Flush(ctx, k)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(append(errs, a.pruneFlushes(ctx))...)
}

// pruneFlushes deletes flush tokens older than the retention. A token only
// has to outlive the leftover flushing key it guards, and leftovers are
// recovered at the start of every flush.
func (a *Aggregator) pruneFlushes(ctx context.Context) error {
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM counter_flushes WHERE applied_at < $1`, a.now().Add(-a.flushRetention))
	if err != nil {
		return fmt.Errorf("prune counter flushes: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Ctx(ctx).Debug().Int64("rows", n).Msg("Pruned counter flush tokens")
	}
	return nil
}

// Flush writes the accumulated counters of k to the database and returns
// how many threads it updated. It returns 0 without error when another
// process holds the lease for k.
func (a *Aggregator) Flush(ctx context.Context, k Kind) (rows int, err error) {
	start := time.Now()
	result := resultEmpty
	defer func() {
		if err != nil {
			result = resultError
		}
		metrics.RecordCounterFlush(k.Name, result, rows, time.Since(start))
	}()

	token := a.newToken()
	ok, err := a.rdb.SetNX(ctx, a.lockKey(k), token, a.lockTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("acquire %s flush lease: %w", k.Name, err)
	}
	if !ok {
		result = resultLocked
		logging.Ctx(ctx).Debug().Str("counter_kind", k.Name).Msg("Counter flush already running")
		return 0, nil
	}
	defer func() {
		if rerr := releaseScript.Run(context.WithoutCancel(ctx), a.rdb, []string{a.lockKey(k)}, token).Err(); rerr != nil {
			logging.Ctx(ctx).Warn().Err(rerr).Str("counter_kind", k.Name).Msg("Failed to release counter flush lease")
		}
	}()

	leftover, err := a.flushLeftovers(ctx, k)
	if err != nil {
		return leftover, err
	}
	rows += leftover

	flushing := a.flushingKey(k, token)
	if err := a.rdb.Rename(ctx, a.liveKey(k), flushing).Err(); err != nil {
		if isNoSuchKey(err) {
			if rows > 0 {
				result = resultApplied
			}
			return rows, nil
		}
		return rows, fmt.Errorf("rename %s counters: %w", k.Name, err)
	}

	n, applied, err := a.apply(ctx, k, token, flushing)
	rows += n
	if err != nil {
		return rows, err
	}
	if applied || rows > 0 {
		result = resultApplied
	}
	return rows, nil
}

// flushLeftovers finishes flushing keys left by a flush that died between
// RENAME and DEL.
func (a *Aggregator) flushLeftovers(ctx context.Context, k Kind) (int, error) {
	pattern := a.flushingKey(k, "*")
	prefix := strings.TrimSuffix(pattern, "*")

	var keys []string
	iter := a.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan leftover %s counters: %w", k.Name, err)
	}

	total := 0
	for _, key := range keys {
		token := strings.TrimPrefix(key, prefix)
		n, applied, err := a.apply(ctx, k, token, key)
		if err != nil {
			return total, err
		}
		total += n
		logging.Ctx(ctx).Warn().
			Str("counter_kind", k.Name).
			Str("token", token).
			Bool("reapplied", applied).
			Msg("Recovered leftover counter flush")
	}
	return total, nil
}

// apply writes the counters held in key under token. A token already in
// counter_flushes is not applied again. The key is deleted after commit.
func (a *Aggregator) apply(ctx context.Context, k Kind, token, key string) (rows int, applied bool, err error) {
	ids, deltas, err := a.read(ctx, k, key)
	if err != nil {
		return 0, false, err
	}

	if len(ids) > 0 {
		err = a.txm.WithTx(ctx, func(txCtx context.Context) error {
			q := database.GetTx(txCtx, a.db)
			res, err := q.ExecContext(txCtx,
				`INSERT INTO counter_flushes (token, kind, rows) VALUES ($1, $2, $3) ON CONFLICT (token) DO NOTHING`,
				token, k.Name, len(ids))
			if err != nil {
				return fmt.Errorf("record %s flush: %w", k.Name, err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("record %s flush: %w", k.Name, err)
			} else if n == 0 {
				return nil
			}

			var (
				query string
				args  []any
			)
			if k.Delta {
				query, args = deltaSQL(k, ids, deltas)
			} else {
				query, args = recomputeSQL(k, ids)
			}
			if _, err := q.ExecContext(txCtx, query, args...); err != nil {
				return fmt.Errorf("update %s: %w", k.Name, err)
			}
			applied = true
			return nil
		})
		if err != nil {
			return 0, false, err
		}
	}

	if err := a.rdb.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
		// The token is recorded, so the next flush drops the key unapplied.
		logging.Ctx(ctx).Warn().Err(err).Str("counter_kind", k.Name).Str("key", key).
			Msg("Failed to delete flushed counter key")
	}
	if applied {
		rows = len(ids)
		logging.Ctx(ctx).Info().Str("counter_kind", k.Name).Int("rows", rows).Msg("Counters flushed")
	}
	return rows, applied, nil
}

// read returns the thread ids in key, sorted, with their deltas for delta
// kinds.
func (a *Aggregator) read(ctx context.Context, k Kind, key string) ([]int64, []int64, error) {
	if !k.Delta {
		members, err := a.rdb.SMembers(ctx, key).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("read %s changes: %w", k.Name, err)
		}
		ids := make([]int64, 0, len(members))
		for _, m := range members {
			id, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				logging.Ctx(ctx).Warn().Str("counter_kind", k.Name).Str("member", m).Msg("Ignoring malformed counter member")
				continue
			}
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return ids, nil, nil
	}

	fields, err := a.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s deltas: %w", k.Name, err)
	}
	byID := make(map[int64]int64, len(fields))
	ids := make([]int64, 0, len(fields))
	for f, v := range fields {
		id, err1 := strconv.ParseInt(f, 10, 64)
		delta, err2 := strconv.ParseInt(v, 10, 64)
		if err1 != nil || err2 != nil {
			logging.Ctx(ctx).Warn().Str("counter_kind", k.Name).Str("field", f).Msg("Ignoring malformed counter field")
			continue
		}
		if delta == 0 {
			continue
		}
		byID[id] = delta
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	deltas := make([]int64, len(ids))
	for i, id := range ids {
		deltas[i] = byID[id]
	}
	return ids, deltas, nil
}

func isNoSuchKey(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such key")
}
