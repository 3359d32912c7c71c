// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/validation"
)

const (
	maxBatch     = 100
	maxEventBody = 1 << 20
	maxViewDelta = 1000
)

// EmitRequest is the body of POST /api/v1/events.
type EmitRequest struct {
	Events []EmitEvent `json:"events"`
}

// EmitEvent is one event of a batch.
type EmitEvent struct {
	Name    events.Name     `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// EmittedEvent identifies an appended event.
type EmittedEvent struct {
	OutboxID int64       `json:"outbox_id"`
	EventID  string      `json:"event_id"`
	Name     events.Name `json:"name"`
}

// InvalidEvent reports why one event of a batch was rejected.
type InvalidEvent struct {
	Index  int                     `json:"index"`
	Name   events.Name             `json:"name"`
	Error  string                  `json:"error"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

// EmitEvents appends a batch atomically. One invalid event rejects the
// batch.
func (h *Handler) EmitEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req EmitRequest
	if err := decodeJSON(w, r, maxEventBody, &req); err != nil {
		rw.BadRequest("invalid JSON body: " + err.Error())
		return
	}
	if len(req.Events) == 0 {
		rw.BadRequest("events must not be empty")
		return
	}
	if len(req.Events) > maxBatch {
		rw.BadRequest(fmt.Sprintf("at most %d events per batch", maxBatch))
		return
	}

	batch := make([]events.Event, 0, len(req.Events))
	var invalid []InvalidEvent
	for i, e := range req.Events {
		payload, err := events.Decode(e.Name, e.Payload)
		if err != nil {
			invalid = append(invalid, invalidEvent(i, e.Name, err))
			continue
		}
		batch = append(batch, events.New(e.Name, payload))
	}
	if len(invalid) > 0 {
		rw.ValidationError("event schema validation failed", invalid)
		return
	}

	rows, err := h.deps.Events.Append(r.Context(), batch...)
	if err != nil {
		if errors.Is(err, events.ErrSchemaValidation) {
			rw.ValidationError(err.Error(), nil)
			return
		}
		rw.InternalError(ErrCodeDatabaseError, err)
		return
	}

	out := make([]EmittedEvent, len(rows))
	for i := range rows {
		out[i] = EmittedEvent{OutboxID: rows[i].ID, EventID: rows[i].EventID, Name: rows[i].Name}
	}
	rw.Accepted(out)
}

func invalidEvent(i int, name events.Name, err error) InvalidEvent {
	ie := InvalidEvent{Index: i, Name: name, Error: err.Error()}
	var serr *events.SchemaValidationError
	if errors.As(err, &serr) {
		ie.Fields = serr.Fields
	}
	return ie
}

// ViewsRequest is the optional body of POST /api/v1/threads/{id}/views.
type ViewsRequest struct {
	Count int64 `json:"count"`
}

// IncrementViews adds to the pending view_count delta of a thread. An empty
// body counts one view.
func (h *Handler) IncrementViews(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	threadID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || threadID <= 0 {
		rw.BadRequest("thread id must be a positive integer")
		return
	}

	req := ViewsRequest{Count: 1}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, 1024, &req); err != nil {
			rw.BadRequest("invalid JSON body: " + err.Error())
			return
		}
	}
	if req.Count <= 0 || req.Count > maxViewDelta {
		rw.BadRequest(fmt.Sprintf("count must be between 1 and %d", maxViewDelta))
		return
	}

	if err := h.deps.Views.IncrementViews(r.Context(), threadID, req.Count); err != nil {
		rw.InternalError(ErrCodeServiceUnavailable, err)
		return
	}
	rw.Accepted(map[string]int64{"thread_id": threadID, "count": req.Count})
}
