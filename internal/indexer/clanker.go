// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/tidings/internal/breaker"
	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/httpclient"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/metrics"
)

// ClankerIndexerID is the indexers row the clanker source drives.
const ClankerIndexerID = "clanker"

// ClankerToken is one entry of the clanker tokens feed.
type ClankerToken struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Symbol          string    `json:"symbol"`
	ContractAddress string    `json:"contract_address"`
	ChainID         int64     `json:"chain_id"`
	ImageURL        string    `json:"img_url"`
	RequestorFID    int64     `json:"requestor_fid"`
	CreatedAt       time.Time `json:"created_at"`
}

type tokensResponse struct {
	Data    []ClankerToken `json:"data"`
	HasMore bool           `json:"hasMore"`
	Total   int            `json:"total"`
}

// ClankerClient reads the clanker tokens API. Requests are paced by a token
// bucket, retried on 429 and 5xx with doubling backoff, and short-circuited
// by a breaker while the API keeps failing.
type ClankerClient struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	limiter        *rate.Limiter
	cb             *gobreaker.CircuitBreaker[[]ClankerToken]
	maxAttempts    int
	initialBackoff time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewClankerClient creates a client from cfg.
func NewClankerClient(cfg config.ClankerConfig) *ClankerClient {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	bcfg := breaker.DefaultConfig("clanker-api")
	bcfg.IsSuccessful = func(err error) bool {
		return err == nil || httpclient.IsClientError(err) || errors.Is(err, context.Canceled)
	}

	return &ClankerClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		limiter:        rate.NewLimiter(limit, 1),
		cb:             breaker.New[[]ClankerToken](bcfg),
		maxAttempts:    attempts,
		initialBackoff: cfg.InitialBackoff,
		sleep:          httpclient.Sleep,
	}
}

// Tokens returns page n of the feed, newest first.
func (c *ClankerClient) Tokens(ctx context.Context, page int) ([]ClankerToken, error) {
	backoff := c.initialBackoff
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		tokens, err := c.cb.Execute(func() ([]ClankerToken, error) {
			return c.fetch(ctx, page)
		})
		if err == nil {
			return tokens, nil
		}
		if !httpclient.IsRetryable(err) || attempt >= c.maxAttempts {
			return nil, fmt.Errorf("clanker page %d after %d attempts: %w", page, attempt, err)
		}

		var se *httpclient.StatusError
		errors.As(err, &se)
		metrics.IndexerPageRetries.WithLabelValues(ClankerIndexerID, strconv.Itoa(se.Code)).Inc()
		logging.Ctx(ctx).Warn().
			Str("indexer_id", ClankerIndexerID).
			Int("page", page).
			Int("status", se.Code).
			Int("attempt", attempt).
			Dur("retry_delay", backoff).
			Msg("Clanker API request failed, retrying")

		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (c *ClankerClient) fetch(ctx context.Context, page int) ([]ClankerToken, error) {
	q := url.Values{}
	q.Set("sort", "desc")
	q.Set("page", strconv.Itoa(page))
	q.Set("pair", "all")
	q.Set("partner", "all")
	q.Set("presale", "all")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tokens?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := httpclient.CheckResponse(resp); err != nil {
		return nil, err
	}

	var out tokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Data, nil
}

// ClankerSource adapts ClankerClient to Source. Each token becomes a
// ClankerTokenFound event; tokens whose payload would not validate are
// logged and dropped so one bad entry cannot wedge the indexer.
type ClankerSource struct {
	client  *ClankerClient
	enabled bool
}

// NewClankerSource creates the clanker source.
func NewClankerSource(client *ClankerClient, enabled bool) *ClankerSource {
	return &ClankerSource{client: client, enabled: enabled}
}

func (s *ClankerSource) ID() string    { return ClankerIndexerID }
func (s *ClankerSource) Enabled() bool { return s.enabled }

// FetchPage implements Source.
func (s *ClankerSource) FetchPage(ctx context.Context, n int) ([]Record, error) {
	tokens, err := s.client.Tokens(ctx, n)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(tokens))
	for i := range tokens {
		tok := &tokens[i]
		evt := events.New(events.ClankerTokenFound, events.ClankerTokenFoundPayload{
			ID:              tok.ID,
			Name:            tok.Name,
			Symbol:          tok.Symbol,
			ContractAddress: tok.ContractAddress,
			ChainID:         tok.ChainID,
			ImageURL:        tok.ImageURL,
			RequestorFID:    tok.RequestorFID,
			CreatedAt:       tok.CreatedAt,
		})
		if err := events.Validate(evt); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("indexer_id", ClankerIndexerID).
				Int64("token_id", tok.ID).
				Msg("Dropping invalid clanker token")
			// Keep the timestamp so the cutoff check still sees the item.
			records = append(records, Record{CreatedAt: tok.CreatedAt})
			continue
		}
		records = append(records, Record{CreatedAt: tok.CreatedAt, Event: evt})
	}
	return records, nil
}
