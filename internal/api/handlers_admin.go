// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/tidings/internal/deadletter"
	"github.com/tomtom215/tidings/internal/logging"
	"github.com/tomtom215/tidings/internal/outbox"
)

const (
	defaultDeadLetterLimit = 100
	maxDeadLetterLimit     = 1000
	healthTimeout          = 2 * time.Second
)

// ReplayRequest is the body of POST /api/v1/outbox/replay.
type ReplayRequest struct {
	FromID int64 `json:"from_id"`
	ToID   int64 `json:"to_id"`
}

// ReplayOutbox republishes every outbox row in [from_id, to_id].
func (h *Handler) ReplayOutbox(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req ReplayRequest
	if err := decodeJSON(w, r, 1024, &req); err != nil {
		rw.BadRequest("invalid JSON body: " + err.Error())
		return
	}
	if req.FromID <= 0 || req.ToID < req.FromID {
		rw.BadRequest("from_id must be positive and to_id must not be below it")
		return
	}

	published, err := h.deps.Outbox.Replay(r.Context(), req.FromID, req.ToID)
	if err != nil {
		if errors.Is(err, outbox.ErrPublishFailed) {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Outbox replay incomplete")
			rw.Error(http.StatusBadGateway, ErrCodeBrokerError, err.Error(), map[string]int{"published": published})
			return
		}
		rw.InternalError(ErrCodeDatabaseError, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Int64("from_id", req.FromID).
		Int64("to_id", req.ToID).
		Int("published", published).
		Msg("Outbox replay requested")
	rw.Success(map[string]int{"published": published})
}

// ListDeadLetters returns archived dead letters, newest first. ?limit=
// defaults to 100.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit := defaultDeadLetterLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxDeadLetterLimit {
			rw.BadRequest("limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := h.deps.DeadLetters.List(r.Context(), limit)
	if err != nil {
		rw.InternalError(ErrCodeInternalError, err)
		return
	}
	if entries == nil {
		entries = []*deadletter.Entry{}
	}
	rw.List(entries, len(entries))
}

// ReplayDeadLetter republishes one dead letter to its original topic.
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	entry, err := h.deps.Replayer.Replay(r.Context(), id)
	switch {
	case errors.Is(err, deadletter.ErrNotFound):
		rw.NotFound("dead letter " + id + " not found")
	case errors.Is(err, deadletter.ErrNoTopic):
		rw.Error(http.StatusConflict, ErrCodeBadRequest, err.Error(), nil)
	case err != nil:
		rw.InternalError(ErrCodeBrokerError, err)
	default:
		rw.Success(entry)
	}
}

// HealthStatus is the body of /healthz.
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health runs every dependency check concurrently. Any failure makes the
// response 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(h.deps.Checks))
	for name := range h.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]string, len(names))
	var g errgroup.Group
	for i, name := range names {
		check := h.deps.Checks[name]
		g.Go(func() error {
			if err := check(ctx); err != nil {
				results[i] = err.Error()
				return nil
			}
			results[i] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{Status: "ok", Checks: make(map[string]string, len(names))}
	for i, name := range names {
		status.Checks[name] = results[i]
		if results[i] != "ok" {
			status.Status = "degraded"
		}
	}

	rw := NewResponseWriter(w, r)
	if status.Status != "ok" {
		rw.writeJSON(http.StatusServiceUnavailable, APIResponse{Data: status, Meta: rw.meta()})
		return
	}
	rw.Success(status)
}
