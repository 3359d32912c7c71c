// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

//go:build integration

package outbox_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/database"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/indexer"
	"github.com/tomtom215/tidings/internal/outbox"
	"github.com/tomtom215/tidings/internal/testinfra"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	testinfra.SkipIfNoDocker(t)

	ctx := context.Background()
	pg, err := testinfra.NewPostgresContainer(ctx, t)
	if err != nil {
		t.Fatal(err)
	}
	if err := database.Migrate(pg.URL); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	db, err := database.Open(ctx, &config.DatabaseConfig{URL: pg.URL, MaxOpenConns: 10, MaxIdleConns: 2, ConnMaxLifetime: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// flakyPublisher fails while down is set.
type flakyPublisher struct {
	down atomic.Bool
	next *gochannel.GoChannel
}

func (p *flakyPublisher) Publish(topic string, msgs ...*message.Message) error {
	if p.down.Load() {
		return errors.New("broker unavailable")
	}
	return p.next.Publish(topic, msgs...)
}

func relayedAt(t *testing.T, db *sql.DB, id int64) sql.NullTime {
	t.Helper()
	var at sql.NullTime
	if err := db.QueryRow(`SELECT relayed_at FROM outbox WHERE id = $1`, id).Scan(&at); err != nil {
		t.Fatal(err)
	}
	return at
}

func TestOutboxAgainstPostgres(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	gc := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = gc.Close() })
	msgs, err := gc.Subscribe(ctx, events.ThreadViewed.Topic())
	if err != nil {
		t.Fatal(err)
	}

	pub := &flakyPublisher{next: gc}
	emitter := outbox.NewEmitter(outbox.NewStore(db), database.NewTxManager(db), pub)

	t.Run("append publishes and marks relayed", func(t *testing.T) {
		rows, err := emitter.Append(ctx, events.New(events.ThreadViewed, events.ThreadViewedPayload{ThreadID: 1}))
		if err != nil {
			t.Fatal(err)
		}
		select {
		case msg := <-msgs:
			msg.Ack()
			if msg.UUID != rows[0].EventID {
				t.Errorf("message uuid = %s, want %s", msg.UUID, rows[0].EventID)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("no message published")
		}
		if !relayedAt(t, db, rows[0].ID).Valid {
			t.Error("relayed_at not set after publish")
		}
	})

	t.Run("relay delivers rows the append could not publish", func(t *testing.T) {
		pub.down.Store(true)
		rows, err := emitter.Append(ctx, events.New(events.ThreadViewed, events.ThreadViewedPayload{ThreadID: 2}))
		if err != nil {
			t.Fatal(err)
		}
		if relayedAt(t, db, rows[0].ID).Valid {
			t.Fatal("row relayed while broker down")
		}

		pub.down.Store(false)
		relay := outbox.NewRelay(emitter, config.OutboxConfig{RelayGrace: 0, RelayBatchSize: 10})
		if err := relay.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
		select {
		case msg := <-msgs:
			msg.Ack()
		case <-time.After(5 * time.Second):
			t.Fatal("relay published nothing")
		}
		if !relayedAt(t, db, rows[0].ID).Valid {
			t.Error("relayed_at not set by relay")
		}
	})

	t.Run("failed transaction leaves nothing behind", func(t *testing.T) {
		var before int
		_ = db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&before)

		boom := errors.New("handler failed")
		err := database.NewTxManager(db).WithTx(ctx, func(txCtx context.Context) error {
			if _, err := emitter.Append(txCtx, events.New(events.ThreadViewed, events.ThreadViewedPayload{ThreadID: 3})); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("WithTx() = %v", err)
		}

		var after int
		_ = db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&after)
		if after != before {
			t.Errorf("outbox rows %d -> %d, want unchanged", before, after)
		}
	})
}

func TestIndexerLeaseAgainstPostgres(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := indexer.NewRepository(db)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Acquire(ctx, indexer.ClankerIndexerID, time.Now())
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("%d workers acquired the indexer, want 1", wins.Load())
	}
	pending, err := repo.AnyPending(ctx)
	if err != nil || !pending {
		t.Fatalf("AnyPending() = %v, %v", pending, err)
	}
	if err := repo.Complete(ctx, indexer.ClankerIndexerID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := repo.Complete(ctx, indexer.ClankerIndexerID, time.Now()); !errors.Is(err, indexer.ErrLeaseLost) {
		t.Errorf("second Complete() = %v, want ErrLeaseLost", err)
	}
}
