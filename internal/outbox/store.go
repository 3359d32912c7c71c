// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/tidings/internal/database"
	"github.com/tomtom215/tidings/internal/events"
)

// Row is one outbox record.
type Row struct {
	ID         int64
	EventID    string
	Name       events.Name
	Version    int
	Payload    []byte
	CreatedAt  time.Time
	RelayedAt  *time.Time
	ArchivedAt *time.Time
}

// Envelope converts the row into its broker message body.
func (r *Row) Envelope() *events.Envelope {
	return &events.Envelope{
		ID:        r.EventID,
		OutboxID:  r.ID,
		Name:      r.Name,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		Payload:   r.Payload,
	}
}

const rowColumns = "id, event_id, event_name, event_version, event_payload, created_at, relayed_at, archived_at"

// Store is the PostgreSQL outbox repository. Every method runs on the
// transaction carried by ctx when there is one.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes rows in a single statement and fills in ID and CreatedAt.
func (s *Store) Insert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO outbox (event_id, event_name, event_version, event_payload) VALUES ")
	args := make([]any, 0, len(rows)*4)
	for i := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, rows[i].EventID, string(rows[i].Name), rows[i].Version, string(rows[i].Payload))
	}
	b.WriteString(" RETURNING id, event_id, created_at")

	res, err := database.GetTx(ctx, s.db).QueryContext(ctx, b.String(), args...)
	if err != nil {
		return fmt.Errorf("insert outbox rows: %w", err)
	}
	defer res.Close()

	byEventID := make(map[string]*Row, len(rows))
	for i := range rows {
		byEventID[rows[i].EventID] = &rows[i]
	}
	returned := 0
	for res.Next() {
		var (
			id        int64
			eventID   string
			createdAt time.Time
		)
		if err := res.Scan(&id, &eventID, &createdAt); err != nil {
			return fmt.Errorf("scan inserted outbox row: %w", err)
		}
		if r, ok := byEventID[eventID]; ok {
			r.ID = id
			r.CreatedAt = createdAt
			returned++
		}
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("read inserted outbox rows: %w", err)
	}
	if returned != len(rows) {
		return fmt.Errorf("insert outbox rows: %d of %d rows returned", returned, len(rows))
	}
	return nil
}

// ClaimUnrelayed locks up to limit unrelayed rows created before cutoff.
// Rows locked by a concurrent relay are skipped. It must run inside a
// transaction for the locks to outlive the query.
func (s *Store) ClaimUnrelayed(ctx context.Context, cutoff time.Time, limit int) ([]Row, error) {
	query := "SELECT " + rowColumns + ` FROM outbox
		WHERE relayed_at IS NULL AND archived_at IS NULL AND created_at < $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`
	return s.query(ctx, query, cutoff, limit)
}

// Range returns up to limit rows with fromID <= id <= toID in id order.
func (s *Store) Range(ctx context.Context, fromID, toID int64, limit int) ([]Row, error) {
	query := "SELECT " + rowColumns + ` FROM outbox
		WHERE id BETWEEN $1 AND $2
		ORDER BY id
		LIMIT $3`
	return s.query(ctx, query, fromID, toID, limit)
}

// MarkRelayed stamps relayed_at on the given rows that do not have it yet.
func (s *Store) MarkRelayed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := "UPDATE outbox SET relayed_at = NOW() WHERE relayed_at IS NULL AND id IN (" +
		strings.Join(placeholders, ", ") + ")"

	res, err := database.GetTx(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark outbox rows relayed: %w", err)
	}
	return res.RowsAffected()
}

// Archive marks every relayed, unarchived row created before cutoff as
// archived and returns how many rows changed.
func (s *Store) Archive(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := database.GetTx(ctx, s.db).ExecContext(ctx, `UPDATE outbox SET archived_at = NOW()
		WHERE archived_at IS NULL AND created_at < $1 AND relayed_at IS NOT NULL`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive outbox rows: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Row, error) {
	res, err := database.GetTx(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer res.Close()

	var rows []Row
	for res.Next() {
		var (
			r                 Row
			name              string
			payload           []byte
			relayed, archived sql.NullTime
		)
		if err := res.Scan(&r.ID, &r.EventID, &name, &r.Version, &payload, &r.CreatedAt, &relayed, &archived); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		r.Name = events.Name(name)
		r.Payload = payload
		if relayed.Valid {
			t := relayed.Time
			r.RelayedAt = &t
		}
		if archived.Valid {
			t := archived.Time
			r.ArchivedAt = &t
		}
		rows = append(rows, r)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("read outbox rows: %w", err)
	}
	return rows, nil
}
