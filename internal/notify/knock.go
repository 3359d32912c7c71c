// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tidings/internal/breaker"
	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/httpclient"
	"github.com/tomtom215/tidings/internal/validation"
)

// knockMaxPages bounds schedule listing for one user.
const knockMaxPages = 20

// KnockClient implements Provider against the Knock REST API.
type KnockClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[[]byte]
}

// NewKnockClient creates a client from cfg.
func NewKnockClient(cfg config.NotifyConfig) *KnockClient {
	bcfg := breaker.DefaultConfig("knock-api")
	bcfg.IsSuccessful = func(err error) bool {
		return err == nil || httpclient.IsClientError(err) || errors.Is(err, context.Canceled)
	}
	return &KnockClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb:         breaker.New[[]byte](bcfg),
	}
}

type knockRecipient struct {
	ID string `json:"id"`
}

// knockRecipient is either an id string or an object with an id.
func (r *knockRecipient) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	type plain knockRecipient
	return json.Unmarshal(data, (*plain)(r))
}

type knockSchedule struct {
	ID        string         `json:"id"`
	Workflow  string         `json:"workflow"`
	Recipient knockRecipient `json:"recipient"`
	Repeats   []Repeat       `json:"repeats"`
}

func (s *knockSchedule) toSchedule() Schedule {
	uid, _ := strconv.ParseInt(s.Recipient.ID, 10, 64)
	return Schedule{ID: s.ID, UserID: uid, Workflow: Workflow(s.Workflow), Repeats: s.Repeats}
}

type knockListResponse struct {
	Entries  []knockSchedule `json:"entries"`
	PageInfo struct {
		After *string `json:"after"`
	} `json:"page_info"`
}

// GetSchedules implements Provider.
func (c *KnockClient) GetSchedules(ctx context.Context, userID int64, workflow Workflow) ([]Schedule, error) {
	var (
		out   []Schedule
		after string
	)
	for page := 0; page < knockMaxPages; page++ {
		q := url.Values{}
		if workflow != "" {
			q.Set("workflow", string(workflow))
		}
		if after != "" {
			q.Set("after", after)
		}
		path := "/v1/users/" + url.PathEscape(recipientID(userID)) + "/schedules"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var resp knockListResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("list schedules for user %d: %w", userID, err)
		}
		for i := range resp.Entries {
			out = append(out, resp.Entries[i].toSchedule())
		}
		if resp.PageInfo.After == nil || *resp.PageInfo.After == "" {
			return out, nil
		}
		after = *resp.PageInfo.After
	}
	return out, fmt.Errorf("list schedules for user %d: more than %d pages", userID, knockMaxPages)
}

// CreateSchedules implements Provider.
func (c *KnockClient) CreateSchedules(ctx context.Context, req CreateRequest) ([]Schedule, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, err
	}
	recipients := make([]string, len(req.UserIDs))
	for i, uid := range req.UserIDs {
		recipients[i] = recipientID(uid)
	}
	body := map[string]any{
		"workflow":   string(req.Workflow),
		"recipients": recipients,
		"repeats":    req.Repeats,
	}

	var created []knockSchedule
	if err := c.do(ctx, http.MethodPost, "/v1/schedules", body, &created); err != nil {
		return nil, fmt.Errorf("create %s schedules: %w", req.Workflow, err)
	}
	out := make([]Schedule, len(created))
	for i := range created {
		out[i] = created[i].toSchedule()
	}
	return out, nil
}

// DeleteSchedules implements Provider.
func (c *KnockClient) DeleteSchedules(ctx context.Context, ids []string) (map[string]struct{}, error) {
	deleted := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return deleted, nil
	}
	var removed []knockSchedule
	if err := c.do(ctx, http.MethodDelete, "/v1/schedules", map[string]any{"schedule_ids": ids}, &removed); err != nil {
		return nil, fmt.Errorf("delete schedules: %w", err)
	}
	for i := range removed {
		deleted[removed[i].ID] = struct{}{}
	}
	return deleted, nil
}

func (c *KnockClient) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		var reader io.Reader = http.NoBody
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()
		if err := httpclient.CheckResponse(resp); err != nil {
			return nil, err
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return err
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
