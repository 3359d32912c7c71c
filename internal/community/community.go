// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

// Package community creates a community for every token the clanker indexer
// discovers.
package community

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tomtom215/tidings/internal/database"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/policy"
)

// PolicyName is the name the token policy registers under.
const PolicyName = "clanker-community"

// DefaultBase is the base chain family of token communities.
const DefaultBase = "ethereum"

// errTokenRace means another handler pinned the token between our check and
// our insert. The transaction is rolled back and the message retried.
var errTokenRace = errors.New("token pinned concurrently")

// Store writes communities and their pinned tokens.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// PinnedCommunity returns the community the token is pinned to, or "" when
// it has none.
func (s *Store) PinnedCommunity(ctx context.Context, contractAddress string) (string, error) {
	var id string
	err := database.GetTx(ctx, s.db).QueryRowContext(ctx,
		`SELECT community_id FROM pinned_tokens WHERE contract_address = $1`,
		strings.ToLower(contractAddress)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("look up pinned token: %w", err)
	}
	return id, nil
}

// InsertCommunity creates the community and reports whether the id was
// free.
func (s *Store) InsertCommunity(ctx context.Context, id, name string, chainID int64, iconURL string) (bool, error) {
	res, err := database.GetTx(ctx, s.db).ExecContext(ctx,
		`INSERT INTO communities (id, name, base, chain_id, icon_url) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		id, name, DefaultBase, chainID, nullString(iconURL))
	if err != nil {
		return false, fmt.Errorf("insert community %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert community %s: %w", id, err)
	}
	return n == 1, nil
}

// PinToken pins the token to a community and reports whether it was not
// already pinned.
func (s *Store) PinToken(ctx context.Context, communityID, contractAddress string, chainID int64) (bool, error) {
	res, err := database.GetTx(ctx, s.db).ExecContext(ctx,
		`INSERT INTO pinned_tokens (community_id, contract_address, chain_id) VALUES ($1, $2, $3)
		ON CONFLICT (contract_address) DO NOTHING`,
		communityID, strings.ToLower(contractAddress), chainID)
	if err != nil {
		return false, fmt.Errorf("pin token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pin token: %w", err)
	}
	return n == 1, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a token name into a community id.
func Slug(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// candidateIDs returns the ids to try for a token, most readable first.
func candidateIDs(tok *events.ClankerTokenFoundPayload) []string {
	addr := strings.ToLower(strings.TrimPrefix(tok.ContractAddress, "0x"))
	if len(addr) > 8 {
		addr = addr[:8]
	}
	base := Slug(tok.Name)
	if base == "" {
		base = Slug(tok.Symbol)
	}
	if base == "" {
		return []string{"token-" + addr}
	}
	return []string{base, base + "-" + addr}
}

// Policy returns the policy that handles ClankerTokenFound.
func (s *Store) Policy() *policy.Policy {
	return policy.On(policy.New(PolicyName), events.ClankerTokenFound, s.handleTokenFound)
}

// handleTokenFound creates one community per token. A token that is already
// pinned is a no-op, so redelivery and the indexer's overlapping traversals
// never create a second community.
func (s *Store) handleTokenFound(ctx context.Context, tok *events.ClankerTokenFoundPayload, _ policy.Meta) (policy.Result, error) {
	log := logging.Ctx(ctx).With().
		Int64("token_id", tok.ID).
		Str("contract_address", tok.ContractAddress).
		Logger()

	existing, err := s.PinnedCommunity(ctx, tok.ContractAddress)
	if err != nil {
		return policy.Result{}, err
	}
	if existing != "" {
		return policy.Skip("token already pinned to community " + existing), nil
	}

	var communityID string
	for _, id := range candidateIDs(tok) {
		created, err := s.InsertCommunity(ctx, id, tok.Name, tok.ChainID, tok.ImageURL)
		if err != nil {
			return policy.Result{}, err
		}
		if created {
			communityID = id
			break
		}
	}
	if communityID == "" {
		return policy.Skip("no free community id for token " + tok.Name), nil
	}

	pinned, err := s.PinToken(ctx, communityID, tok.ContractAddress, tok.ChainID)
	if err != nil {
		return policy.Result{}, err
	}
	if !pinned {
		return policy.Result{}, errTokenRace
	}

	log.Info().Str("community_id", communityID).Msg("Created community for token")
	return policy.Success(), nil
}
