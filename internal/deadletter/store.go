// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package deadletter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/logging"
)

var (
	// ErrNotFound is returned for an unknown entry id.
	ErrNotFound = errors.New("dead-letter entry not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dead-letter store is closed")
)

const prefixEntry = "entry:"

// Entry is one dead-lettered message.
type Entry struct {
	ID         string            `json:"id"`
	EventName  string            `json:"event_name,omitempty"`
	Topic      string            `json:"topic"`
	Handler    string            `json:"handler,omitempty"`
	Reason     string            `json:"reason"`
	Error      string            `json:"error,omitempty"`
	RetryCount int               `json:"retry_count"`
	Payload    []byte            `json:"payload"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
	ReplayedAt *time.Time        `json:"replayed_at,omitempty"`
	Replays    int               `json:"replays"`
}

// Store persists entries in BadgerDB.
type Store struct {
	db        *badger.DB
	retention time.Duration

	mu     sync.RWMutex
	closed bool
}

// DefaultConfig returns an on-disk store with thirty days of retention.
func DefaultConfig() config.DeadLetterConfig {
	return config.DeadLetterConfig{
		Path:      "/data/deadletter",
		Retention: 30 * 24 * time.Hour,
	}
}

// Open opens (or creates) the store described by cfg.
func Open(cfg config.DeadLetterConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter store: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Dur("retention", cfg.Retention).
		Msg("Dead-letter store opened")
	return &Store{db: db, retention: cfg.Retention}, nil
}

func (s *Store) check() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put writes e, replacing any entry with the same id.
func (s *Store) Put(_ context.Context, e *Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(prefixEntry+e.ID), data)
		if s.retention > 0 {
			entry = entry.WithTTL(s.retention)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("write dead-letter entry %s: %w", e.ID, err)
	}
	return nil
}

// Get returns the entry with id.
func (s *Store) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var e Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixEntry + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read dead-letter entry %s: %w", id, err)
	}
	return &e, nil
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixEntry)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var e Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable dead-letter entry")
				continue
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list dead-letter entries: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ReceivedAt.After(entries[j].ReceivedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Delete removes the entry with id. Deleting a missing entry is not an
// error.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixEntry + id))
	})
}

// CollectGarbage reclaims value-log space. It is a no-op when nothing can
// be rewritten.
func (s *Store) CollectGarbage() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}
	if s.db.Opts().InMemory {
		return nil
	}
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
