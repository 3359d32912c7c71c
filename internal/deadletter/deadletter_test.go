// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package deadletter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/tidings/internal/broker"
	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/outbox"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.DeadLetterConfig{InMemory: true, Retention: time.Hour})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type capturePublisher struct {
	mu     sync.Mutex
	fail   bool
	topics []string
	msgs   []*message.Message
}

func (p *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	for _, m := range msgs {
		p.topics = append(p.topics, topic)
		p.msgs = append(p.msgs, m)
	}
	return nil
}

func poisoned(id string) *message.Message {
	msg := message.NewMessage(id, []byte(`{"thread_id":42}`))
	msg.Metadata.Set(outbox.MetadataEventName, string(events.ThreadViewed))
	msg.Metadata.Set(outbox.MetadataOutboxID, "7")
	msg.Metadata.Set(middleware.PoisonedTopicKey, events.ThreadViewed.Topic())
	msg.Metadata.Set(middleware.PoisonedHandlerKey, "dispatch")
	msg.Metadata.Set(middleware.ReasonForPoisonedKey, "thread not found")
	msg.Metadata.Set(broker.MetadataDeadLetterReason, broker.ReasonExhausted)
	msg.Metadata.Set(broker.MetadataRetryCount, "3")
	msg.Metadata.Set(broker.MetadataAttempts, "4")
	middleware.SetCorrelationID("corr-1", msg)
	return msg
}

func TestStorePutGetListDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, &Entry{ID: id, Topic: "t", Reason: "fatal", ReceivedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Reason != "fatal" || !got.ReceivedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("Get() = %+v", got)
	}

	list, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Errorf("List(2) ids = %v, want [c b]", ids(list))
	}

	if err := s.Delete(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "c"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get deleted = %v, want ErrNotFound", err)
	}
	all, _ := s.List(ctx, 0)
	if len(all) != 2 {
		t.Errorf("List(0) = %d entries, want 2", len(all))
	}
}

func ids(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestStoreClosed(t *testing.T) {
	t.Parallel()
	s, err := Open(config.DeadLetterConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(context.Background(), &Entry{ID: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Put after Close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestSinkArchivesClassification(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	sink := NewSink(s)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return now }

	if err := sink.Handle(poisoned("m-1")); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	e, err := s.Get(context.Background(), "m-1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Topic != events.ThreadViewed.Topic() {
		t.Errorf("Topic = %q", e.Topic)
	}
	if e.Reason != broker.ReasonExhausted || e.RetryCount != 3 {
		t.Errorf("Reason/RetryCount = %q/%d", e.Reason, e.RetryCount)
	}
	if e.Error != "thread not found" || e.Handler != "dispatch" {
		t.Errorf("Error/Handler = %q/%q", e.Error, e.Handler)
	}
	if string(e.Payload) != `{"thread_id":42}` {
		t.Errorf("Payload = %s", e.Payload)
	}
	if !e.ReceivedAt.Equal(now) {
		t.Errorf("ReceivedAt = %v", e.ReceivedAt)
	}
}

func TestSinkBrokerRejectedMessage(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	msg := message.NewMessage("m-2", []byte(`{}`))
	msg.Metadata.Set(outbox.MetadataEventName, string(events.ThreadCreated))
	if err := NewSink(s).Handle(msg); err != nil {
		t.Fatal(err)
	}

	e, err := s.Get(context.Background(), "m-2")
	if err != nil {
		t.Fatal(err)
	}
	if e.Reason != ReasonBroker {
		t.Errorf("Reason = %q, want %q", e.Reason, ReasonBroker)
	}
	if e.Topic != events.ThreadCreated.Topic() {
		t.Errorf("Topic = %q, want topic derived from event name", e.Topic)
	}
}

func TestReplayRepublishesWithFreshID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	if err := NewSink(s).Handle(poisoned("m-3")); err != nil {
		t.Fatal(err)
	}

	pub := &capturePublisher{}
	r := NewReplayer(s, pub)
	r.newID = func() string { return "fresh" }

	e, err := r.Replay(ctx, "m-3")
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if e.Replays != 1 || e.ReplayedAt == nil {
		t.Errorf("entry after replay = %+v", e)
	}

	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if pub.topics[0] != events.ThreadViewed.Topic() {
		t.Errorf("topic = %q", pub.topics[0])
	}
	if msg.UUID != "fresh" {
		t.Errorf("UUID = %q, want fresh", msg.UUID)
	}
	if msg.Metadata.Get(outbox.MetadataReplay) != "true" {
		t.Error("replay metadata missing")
	}
	if msg.Metadata.Get(outbox.MetadataEventName) != string(events.ThreadViewed) {
		t.Error("event_name not carried over")
	}
	if middleware.MessageCorrelationID(msg) != "corr-1" {
		t.Errorf("correlation id = %q", middleware.MessageCorrelationID(msg))
	}
	for _, k := range strippedMetadata {
		if msg.Metadata.Get(k) != "" {
			t.Errorf("metadata %q not stripped", k)
		}
	}

	stored, _ := s.Get(ctx, "m-3")
	if stored.Replays != 1 {
		t.Errorf("stored Replays = %d, want 1", stored.Replays)
	}
}

func TestReplayErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := NewReplayer(s, &capturePublisher{}).Replay(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing entry error = %v", err)
	}

	if err := s.Put(ctx, &Entry{ID: "no-topic", Reason: ReasonBroker}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReplayer(s, &capturePublisher{}).Replay(ctx, "no-topic"); !errors.Is(err, ErrNoTopic) {
		t.Errorf("no topic error = %v", err)
	}

	if err := NewSink(s).Handle(poisoned("m-4")); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReplayer(s, &capturePublisher{fail: true}).Replay(ctx, "m-4"); err == nil {
		t.Error("expected publish failure")
	}
	e, _ := s.Get(ctx, "m-4")
	if e.Replays != 0 {
		t.Errorf("failed replay recorded: Replays = %d", e.Replays)
	}
}

func TestRouterDeadLettersIntoSink(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	tr := broker.NewMemoryTransport(watermill.NopLogger{})

	cfg := broker.DefaultRouterConfig()
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = time.Millisecond
	cfg.CloseTimeout = time.Second

	router := broker.NewRouter(cfg, tr, nil, watermill.NopLogger{})
	router.AddConsumerHandler("dispatch", events.ThreadViewed.Topic(), "dispatcher", func(*message.Message) error {
		return broker.NewPermanentError("unusable payload", nil)
	})
	NewSink(s).Register(router, cfg.DeadLetterTopic)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = router.Serve(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()
	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	msg := message.NewMessage("m-5", []byte(`{"thread_id":1}`))
	msg.Metadata.Set(outbox.MetadataEventName, string(events.ThreadViewed))
	if err := tr.Publisher().Publish(events.ThreadViewed.Topic(), msg); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		e, err := s.Get(context.Background(), "m-5")
		if err == nil {
			if e.Reason != broker.ReasonFatal {
				t.Errorf("Reason = %q, want fatal", e.Reason)
			}
			if e.Handler != "dispatch" {
				t.Errorf("Handler = %q", e.Handler)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry never archived: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
