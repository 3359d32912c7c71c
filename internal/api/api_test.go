// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tidings/internal/auth"
	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/deadletter"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/outbox"
)

type fakeDeps struct {
	mu        sync.Mutex
	appended  []events.Event
	appendErr error

	replayFrom, replayTo int64
	replayN              int
	replayErr            error

	views    map[int64]int64
	viewsErr error

	entries  []*deadletter.Entry
	replayed []string
	dlqErr   error
}

func (f *fakeDeps) Append(_ context.Context, evts ...events.Event) ([]outbox.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	rows := make([]outbox.Row, len(evts))
	for i, e := range evts {
		f.appended = append(f.appended, e)
		rows[i] = outbox.Row{ID: int64(len(f.appended)), EventID: fmt.Sprintf("evt-%d", len(f.appended)), Name: e.Name}
	}
	return rows, nil
}

func (f *fakeDeps) Replay(_ context.Context, from, to int64) (int, error) {
	f.replayFrom, f.replayTo = from, to
	return f.replayN, f.replayErr
}

func (f *fakeDeps) IncrementViews(_ context.Context, threadID, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewsErr != nil {
		return f.viewsErr
	}
	if f.views == nil {
		f.views = map[int64]int64{}
	}
	f.views[threadID] += n
	return nil
}

func (f *fakeDeps) List(_ context.Context, limit int) ([]*deadletter.Entry, error) {
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type fakeReplayer struct{ f *fakeDeps }

func (r fakeReplayer) Replay(_ context.Context, id string) (*deadletter.Entry, error) {
	if r.f.dlqErr != nil {
		return nil, r.f.dlqErr
	}
	for _, e := range r.f.entries {
		if e.ID == id {
			r.f.replayed = append(r.f.replayed, id)
			e.Replays++
			return e, nil
		}
	}
	return nil, deadletter.ErrNotFound
}

func newTestServer(t *testing.T, f *fakeDeps, opts Options) *httptest.Server {
	t.Helper()
	deps := Dependencies{
		Events:      f,
		Outbox:      f,
		Views:       f,
		DeadLetters: f,
		Replayer:    fakeReplayer{f},
		Checks: map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
		},
	}
	srv := httptest.NewServer(NewRouter(deps, opts))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, header http.Header) (int, APIResponse) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body == "" {
		req.ContentLength = 0
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out APIResponse
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestEmitEventsAppendsBatch(t *testing.T) {
	t.Parallel()
	f := &fakeDeps{}
	srv := newTestServer(t, f, Options{})

	body := `{"events":[
		{"name":"ThreadViewed","payload":{"thread_id":7}},
		{"name":"UserNotificationPreferencesUpdated","payload":{"user_id":3,"email_notifications_enabled":true,"recap_email_enabled":true}}
	]}`
	status, resp := do(t, srv, http.MethodPost, "/api/v1/events", body, nil)
	if status != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%+v)", status, resp.Error)
	}
	if len(f.appended) != 2 {
		t.Fatalf("appended %d events, want 2", len(f.appended))
	}
	p, ok := f.appended[0].Payload.(*events.ThreadViewedPayload)
	if !ok || p.ThreadID != 7 {
		t.Errorf("first payload = %#v", f.appended[0].Payload)
	}
	if resp.Meta == nil || resp.Meta.RequestID == "" {
		t.Error("response has no request id")
	}
}

func TestEmitEventsRejectsWholeBatch(t *testing.T) {
	t.Parallel()
	f := &fakeDeps{}
	srv := newTestServer(t, f, Options{})

	body := `{"events":[
		{"name":"ThreadViewed","payload":{"thread_id":7}},
		{"name":"ThreadViewed","payload":{"thread_id":0}},
		{"name":"NoSuchEvent","payload":{}}
	]}`
	status, resp := do(t, srv, http.MethodPost, "/api/v1/events", body, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeValidationFailed {
		t.Fatalf("error = %+v", resp.Error)
	}
	details, _ := json.Marshal(resp.Error.Details)
	var invalid []InvalidEvent
	if err := json.Unmarshal(details, &invalid); err != nil {
		t.Fatal(err)
	}
	if len(invalid) != 2 || invalid[0].Index != 1 || invalid[1].Index != 2 {
		t.Errorf("invalid = %+v, want indexes 1 and 2", invalid)
	}
	if len(invalid) > 0 && (len(invalid[0].Fields) != 1 || invalid[0].Fields[0].Field != "thread_id") {
		t.Errorf("fields = %+v, want thread_id", invalid[0].Fields)
	}
	if len(f.appended) != 0 {
		t.Errorf("appended %d events, want 0", len(f.appended))
	}
}

func TestEmitEventsBadBodies(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeDeps{}, Options{})

	many := make([]string, maxBatch+1)
	for i := range many {
		many[i] = `{"name":"ThreadViewed","payload":{"thread_id":1}}`
	}
	tests := map[string]string{
		"not json":      `{`,
		"empty":         `{"events":[]}`,
		"unknown field": `{"evts":[]}`,
		"too many":      `{"events":[` + strings.Join(many, ",") + `]}`,
	}
	for name, body := range tests {
		status, _ := do(t, srv, http.MethodPost, "/api/v1/events", body, nil)
		if status != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, status)
		}
	}
}

func TestEmitEventsDatabaseFailure(t *testing.T) {
	t.Parallel()
	f := &fakeDeps{appendErr: errors.New("connection refused")}
	srv := newTestServer(t, f, Options{})

	status, resp := do(t, srv, http.MethodPost, "/api/v1/events", `{"events":[{"name":"ThreadViewed","payload":{"thread_id":1}}]}`, nil)
	if status != http.StatusInternalServerError || resp.Error.Code != ErrCodeDatabaseError {
		t.Errorf("status = %d, error = %+v", status, resp.Error)
	}
	if strings.Contains(resp.Error.Message, "connection refused") {
		t.Error("internal error text leaked to the client")
	}
}

func TestIncrementViews(t *testing.T) {
	t.Parallel()
	f := &fakeDeps{}
	srv := newTestServer(t, f, Options{})

	if status, _ := do(t, srv, http.MethodPost, "/api/v1/threads/42/views", "", nil); status != http.StatusAccepted {
		t.Fatalf("empty body status = %d", status)
	}
	if status, _ := do(t, srv, http.MethodPost, "/api/v1/threads/42/views", `{"count":4}`, nil); status != http.StatusAccepted {
		t.Fatalf("count body status = %d", status)
	}
	if f.views[42] != 5 {
		t.Errorf("views[42] = %d, want 5", f.views[42])
	}

	for _, path := range []string{"/api/v1/threads/abc/views", "/api/v1/threads/-1/views"} {
		if status, _ := do(t, srv, http.MethodPost, path, "", nil); status != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, status)
		}
	}
	if status, _ := do(t, srv, http.MethodPost, "/api/v1/threads/1/views", `{"count":0}`, nil); status != http.StatusBadRequest {
		t.Errorf("zero count status = %d, want 400", status)
	}
}

func TestReplayOutbox(t *testing.T) {
	t.Parallel()
	f := &fakeDeps{replayN: 3}
	srv := newTestServer(t, f, Options{})

	status, resp := do(t, srv, http.MethodPost, "/api/v1/outbox/replay", `{"from_id":10,"to_id":12}`, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, error = %+v", status, resp.Error)
	}
	if f.replayFrom != 10 || f.replayTo != 12 {
		t.Errorf("replayed %d..%d, want 10..12", f.replayFrom, f.replayTo)
	}

	if status, _ := do(t, srv, http.MethodPost, "/api/v1/outbox/replay", `{"from_id":12,"to_id":10}`, nil); status != http.StatusBadRequest {
		t.Errorf("inverted range status = %d, want 400", status)
	}

	f.replayErr = fmt.Errorf("replay: %w: 1 of 3 rows", outbox.ErrPublishFailed)
	if status, _ := do(t, srv, http.MethodPost, "/api/v1/outbox/replay", `{"from_id":1,"to_id":3}`, nil); status != http.StatusBadGateway {
		t.Errorf("publish failure status = %d, want 502", status)
	}
}

func TestDeadLetters(t *testing.T) {
	t.Parallel()
	f := &fakeDeps{entries: []*deadletter.Entry{
		{ID: "b", Topic: "tidings.events.ThreadViewed", Reason: "exhausted", ReceivedAt: time.Now()},
		{ID: "a", Topic: "tidings.events.ThreadCreated", Reason: "fatal", ReceivedAt: time.Now().Add(-time.Minute)},
	}}
	srv := newTestServer(t, f, Options{})

	status, resp := do(t, srv, http.MethodGet, "/api/v1/deadletters?limit=1", "", nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if resp.Meta == nil || resp.Meta.Count == nil || *resp.Meta.Count != 1 {
		t.Errorf("meta = %+v, want count 1", resp.Meta)
	}
	if status, _ := do(t, srv, http.MethodGet, "/api/v1/deadletters?limit=0", "", nil); status != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", status)
	}

	if status, _ := do(t, srv, http.MethodPost, "/api/v1/deadletters/a/replay", "", nil); status != http.StatusOK {
		t.Errorf("replay status = %d, want 200", status)
	}
	if len(f.replayed) != 1 || f.replayed[0] != "a" {
		t.Errorf("replayed = %v, want [a]", f.replayed)
	}
	if status, _ := do(t, srv, http.MethodPost, "/api/v1/deadletters/zzz/replay", "", nil); status != http.StatusNotFound {
		t.Errorf("missing replay status = %d, want 404", status)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	deps := Dependencies{Checks: map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	}}
	srv := httptest.NewServer(NewRouter(deps, Options{}))
	defer srv.Close()

	status, resp := do(t, srv, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
	data, _ := json.Marshal(resp.Data)
	var hs HealthStatus
	if err := json.Unmarshal(data, &hs); err != nil {
		t.Fatal(err)
	}
	if hs.Status != "degraded" || hs.Checks["database"] != "ok" || hs.Checks["redis"] == "ok" {
		t.Errorf("health = %+v", hs)
	}
}

func TestAuthAndRateLimit(t *testing.T) {
	t.Parallel()
	jwtManager, err := auth.NewJWTManager(&config.SecurityConfig{JWTSecret: strings.Repeat("s", 32), JWTIssuer: "tidings"})
	if err != nil {
		t.Fatal(err)
	}
	token, err := jwtManager.GenerateToken("ops", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	srv := newTestServer(t, &fakeDeps{}, Options{
		Authenticate:      auth.NewMiddleware(jwtManager, auth.ModeJWT).Authenticate,
		RateLimitRequests: 2,
		RateLimitWindow:   time.Minute,
	})

	if status, _ := do(t, srv, http.MethodGet, "/healthz", "", nil); status != http.StatusOK {
		t.Errorf("healthz without token = %d, want 200", status)
	}
	if status, _ := do(t, srv, http.MethodGet, "/metrics", "", nil); status != http.StatusOK {
		t.Errorf("metrics without token = %d, want 200", status)
	}

	bearer := http.Header{"Authorization": {"Bearer " + token}}
	if status, _ := do(t, srv, http.MethodGet, "/api/v1/deadletters", "", nil); status != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", status)
	}
	if status, _ := do(t, srv, http.MethodGet, "/api/v1/deadletters", "", bearer); status != http.StatusOK {
		t.Errorf("with token = %d, want 200", status)
	}
	if status, _ := do(t, srv, http.MethodGet, "/api/v1/deadletters", "", bearer); status != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", status)
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeDeps{}, Options{})
	status, resp := do(t, srv, http.MethodGet, "/api/v2/nothing", "", nil)
	if status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("status = %d, error = %+v", status, resp.Error)
	}
}
