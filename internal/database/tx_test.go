// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestWithTxCommitRunsHooks(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE indexers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var ran []string
	tm := NewTxManager(db)
	err = tm.WithTx(context.Background(), func(ctx context.Context) error {
		if !InTx(ctx) {
			t.Error("InTx() = false inside WithTx")
		}
		if InTx(WithoutTx(ctx)) {
			t.Error("WithoutTx() still carries the transaction")
		}
		if _, err := GetTx(ctx, db).ExecContext(ctx, "UPDATE indexers SET status = 'idle'"); err != nil {
			return err
		}
		AfterCommit(ctx, func() { ran = append(ran, "first") })

		// A nested WithTx joins the outer transaction.
		return tm.WithTx(ctx, func(inner context.Context) error {
			AfterCommit(inner, func() { ran = append(ran, "nested") })
			if len(ran) != 0 {
				t.Error("hook ran before commit")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "nested" {
		t.Errorf("hooks ran = %v, want [first nested]", ran)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWithTxRollbackSkipsHooks(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	hookRan := false
	err = NewTxManager(db).WithTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { hookRan = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}
	if hookRan {
		t.Error("after-commit hook ran after rollback")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWithTxCommitFailure(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	hookRan := false
	err = NewTxManager(db).WithTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { hookRan = true })
		return nil
	})
	if err == nil {
		t.Fatal("WithTx() error = nil, want commit error")
	}
	if hookRan {
		t.Error("after-commit hook ran although commit failed")
	}
}

func TestAfterCommitWithoutTx(t *testing.T) {
	t.Parallel()

	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Error("AfterCommit outside a transaction should run immediately")
	}
	if InTx(context.Background()) {
		t.Error("InTx() = true on a bare context")
	}
}

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"postgres://u:p@db:5432/tidings":   "pgx5://u:p@db:5432/tidings",
		"postgresql://u:p@db:5432/tidings": "pgx5://u:p@db:5432/tidings",
		"pgx5://already":                   "pgx5://already",
	}
	for in, want := range tests {
		if got := migrateURL(in); got != want {
			t.Errorf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatal(err)
	}
	var up, down int
	for _, e := range entries {
		switch {
		case len(e.Name()) > 7 && e.Name()[len(e.Name())-7:] == ".up.sql":
			up++
		case len(e.Name()) > 9 && e.Name()[len(e.Name())-9:] == ".down.sql":
			down++
		}
	}
	if up == 0 || up != down {
		t.Errorf("found %d up and %d down migrations", up, down)
	}
}
