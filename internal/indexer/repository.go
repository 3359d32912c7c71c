// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/tidings/internal/database"
)

// Status is the state of one indexer row.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusError   Status = "error"
)

// Runnable reports whether a tick may start a traversal from s.
func (s Status) Runnable() bool {
	return s == StatusIdle || s == StatusError
}

// ErrLeaseLost is returned when an indexer left pending while its
// traversal was still running, normally because stale recovery reclaimed
// it.
var ErrLeaseLost = errors.New("indexer lease lost")

// Indexer is one row of the indexers table.
type Indexer struct {
	ID          string
	Status      Status
	LastChecked *time.Time
	LastError   string
	UpdatedAt   time.Time
}

// Repository reads and transitions indexer rows.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// List returns every indexer ordered by id.
func (r *Repository) List(ctx context.Context) ([]Indexer, error) {
	rows, err := database.GetTx(ctx, r.db).QueryContext(ctx,
		`SELECT id, status, last_checked, last_error, updated_at FROM indexers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list indexers: %w", err)
	}
	defer rows.Close()

	var out []Indexer
	for rows.Next() {
		var (
			ix          Indexer
			status      string
			lastChecked sql.NullTime
			lastError   sql.NullString
		)
		if err := rows.Scan(&ix.ID, &status, &lastChecked, &lastError, &ix.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan indexer: %w", err)
		}
		ix.Status = Status(status)
		if lastChecked.Valid {
			t := lastChecked.Time
			ix.LastChecked = &t
		}
		ix.LastError = lastError.String
		out = append(out, ix)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read indexers: %w", err)
	}
	return out, nil
}

// AnyPending reports whether some indexer is mid-traversal.
func (r *Repository) AnyPending(ctx context.Context) (bool, error) {
	var pending bool
	err := database.GetTx(ctx, r.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM indexers WHERE status = 'pending')`).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("check pending indexers: %w", err)
	}
	return pending, nil
}

// Acquire moves id from idle or error to pending, stamping updated_at with
// startedAt. It returns false when the row was not runnable, which means
// another worker holds it.
func (r *Repository) Acquire(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res, err := database.GetTx(ctx, r.db).ExecContext(ctx,
		`UPDATE indexers SET status = 'pending', updated_at = $2
		WHERE id = $1 AND status IN ('idle', 'error')`, id, startedAt)
	if err != nil {
		return false, fmt.Errorf("acquire indexer %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire indexer %s: %w", id, err)
	}
	return n == 1, nil
}

// Complete moves id from pending to idle and sets last_checked.
func (r *Repository) Complete(ctx context.Context, id string, lastChecked time.Time) error {
	res, err := database.GetTx(ctx, r.db).ExecContext(ctx,
		`UPDATE indexers SET status = 'idle', last_checked = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, lastChecked)
	return checkTransition(res, err, id, "complete")
}

// Fail moves id from pending to error and records cause.
func (r *Repository) Fail(ctx context.Context, id string, cause string) error {
	res, err := database.GetTx(ctx, r.db).ExecContext(ctx,
		`UPDATE indexers SET status = 'error', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, cause)
	return checkTransition(res, err, id, "fail")
}

// RecoverStale flips every indexer pending since before cutoff to error and
// returns their ids.
func (r *Repository) RecoverStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := database.GetTx(ctx, r.db).QueryContext(ctx,
		`UPDATE indexers SET status = 'error', last_error = 'pending timeout', updated_at = NOW()
		WHERE status = 'pending' AND updated_at < $1
		RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("recover stale indexers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recovered indexer: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func checkTransition(res sql.Result, err error, id, op string) error {
	if err != nil {
		return fmt.Errorf("%s indexer %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s indexer %s: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s indexer %s: %w", op, id, ErrLeaseLost)
	}
	return nil
}
