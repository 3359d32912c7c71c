// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package notify

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/validation"
)

// Schedule is a recurring workflow trigger for one user.
type Schedule struct {
	ID       string
	UserID   int64
	Workflow Workflow
	Repeats  []Repeat
}

// CreateRequest creates one schedule per user for a workflow.
type CreateRequest struct {
	UserIDs  []int64  `validate:"required,min=1,dive,gt=0"`
	Workflow Workflow `validate:"required,workflow_kind"`
	Repeats  []Repeat `validate:"required,min=1,dive"`
}

// Provider manages schedules in the notification service.
type Provider interface {
	// GetSchedules lists the user's schedules, for one workflow or for all
	// when workflow is empty.
	GetSchedules(ctx context.Context, userID int64, workflow Workflow) ([]Schedule, error)
	CreateSchedules(ctx context.Context, req CreateRequest) ([]Schedule, error)
	// DeleteSchedules returns the ids the provider actually deleted.
	DeleteSchedules(ctx context.Context, ids []string) (map[string]struct{}, error)
}

// NewProvider builds the provider selected by cfg.
func NewProvider(cfg config.NotifyConfig) (Provider, error) {
	switch cfg.Provider {
	case "knock":
		return NewKnockClient(cfg), nil
	case "memory", "":
		return NewMemoryProvider(), nil
	default:
		return nil, fmt.Errorf("unknown notification provider %q", cfg.Provider)
	}
}

// MemoryProvider keeps schedules in process.
type MemoryProvider struct {
	mu        sync.Mutex
	schedules map[string]Schedule
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{schedules: make(map[string]Schedule)}
}

func (m *MemoryProvider) GetSchedules(_ context.Context, userID int64, workflow Workflow) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Schedule
	for _, s := range m.schedules {
		if s.UserID == userID && (workflow == "" || s.Workflow == workflow) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryProvider) CreateSchedules(_ context.Context, req CreateRequest) ([]Schedule, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Schedule, 0, len(req.UserIDs))
	for _, uid := range req.UserIDs {
		s := Schedule{
			ID:       uuid.NewString(),
			UserID:   uid,
			Workflow: req.Workflow,
			Repeats:  append([]Repeat(nil), req.Repeats...),
		}
		m.schedules[s.ID] = s
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryProvider) DeleteSchedules(_ context.Context, ids []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := m.schedules[id]; ok {
			delete(m.schedules, id)
			deleted[id] = struct{}{}
		}
	}
	return deleted, nil
}

func recipientID(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
