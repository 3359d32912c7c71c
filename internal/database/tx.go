// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

type txKey struct{}

// txState is carried on the context for the lifetime of one transaction.
type txState struct {
	tx *sql.Tx

	mu          sync.Mutex
	afterCommit []func()
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxManager runs a function inside a transaction carried on the context.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLTxManager implements TxManager for a *sql.DB.
type SQLTxManager struct {
	db *sql.DB
}

// NewTxManager creates a TxManager for db.
func NewTxManager(db *sql.DB) *SQLTxManager {
	return &SQLTxManager{db: db}
}

// WithTx runs fn in a transaction. If ctx already carries a transaction, fn
// joins it and the outermost caller decides commit or rollback, so a policy
// handler can emit follow-on events in the same unit of work as its other
// writes. Functions registered with AfterCommit run once the outermost
// transaction has committed and never after a rollback.
func (m *SQLTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	state := &txState{tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, state)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	state.mu.Lock()
	hooks := state.afterCommit
	state.afterCommit = nil
	state.mu.Unlock()
	for _, h := range hooks {
		h()
	}
	return nil
}

// AfterCommit schedules fn to run after the transaction carried by ctx
// commits. Without a transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	state, ok := ctx.Value(txKey{}).(*txState)
	if !ok {
		fn()
		return
	}
	state.mu.Lock()
	state.afterCommit = append(state.afterCommit, fn)
	state.mu.Unlock()
}

// WithoutTx returns a context that carries the values of ctx but no
// transaction. After-commit hooks use it so follow-up writes do not touch a
// finished transaction.
func WithoutTx(ctx context.Context) context.Context {
	if !InTx(ctx) {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, nil)
}

// GetTx returns the transaction carried by ctx, or db when there is none.
func GetTx(ctx context.Context, db *sql.DB) Querier {
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		return state.tx
	}
	return db
}

// InTx reports whether ctx carries a transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txState)
	return ok
}
