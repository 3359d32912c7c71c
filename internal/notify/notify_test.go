// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tidings/internal/config"
	"github.com/tomtom215/tidings/internal/events"
	"github.com/tomtom215/tidings/internal/httpclient"
	"github.com/tomtom215/tidings/internal/policy"
	"github.com/tomtom215/tidings/internal/validation"
)

// countingProvider wraps a MemoryProvider, counts mutations and can fail
// calls for one workflow.
type countingProvider struct {
	*MemoryProvider

	mu      sync.Mutex
	creates int
	deletes int
	failFor Workflow
}

var errProviderDown = errors.New("provider down")

func newCountingProvider() *countingProvider {
	return &countingProvider{MemoryProvider: NewMemoryProvider()}
}

func (p *countingProvider) GetSchedules(ctx context.Context, userID int64, wf Workflow) ([]Schedule, error) {
	if wf != "" && wf == p.failFor {
		return nil, errProviderDown
	}
	return p.MemoryProvider.GetSchedules(ctx, userID, wf)
}

func (p *countingProvider) CreateSchedules(ctx context.Context, req CreateRequest) ([]Schedule, error) {
	p.mu.Lock()
	p.creates++
	p.mu.Unlock()
	return p.MemoryProvider.CreateSchedules(ctx, req)
}

func (p *countingProvider) DeleteSchedules(ctx context.Context, ids []string) (map[string]struct{}, error) {
	p.mu.Lock()
	p.deletes++
	p.mu.Unlock()
	return p.MemoryProvider.DeleteSchedules(ctx, ids)
}

func (p *countingProvider) mutations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates + p.deletes
}

func workflowsOf(t *testing.T, p Provider, userID int64) map[Workflow]int {
	t.Helper()
	all, err := p.GetSchedules(context.Background(), userID, "")
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[Workflow]int)
	for _, s := range all {
		out[s.Workflow]++
	}
	return out
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()

	p := newCountingProvider()
	r := NewReconciler(p)
	prefs := Preferences{EmailEnabled: true, Recap: true, Digest: true}

	changes, err := r.Reconcile(context.Background(), 7, prefs)
	if err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}
	if len(changes) != 2 || p.mutations() != 2 {
		t.Fatalf("first Reconcile() changes = %v, mutations = %d, want 2 creates", changes, p.mutations())
	}

	changes, err = r.Reconcile(context.Background(), 7, prefs)
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if len(changes) != 0 || p.mutations() != 2 {
		t.Errorf("second Reconcile() changes = %v, mutations = %d, want none", changes, p.mutations())
	}

	got := workflowsOf(t, p, 7)
	if got[WeeklyRecap] != 1 || got[DailyDigest] != 1 {
		t.Errorf("schedules = %v, want one per workflow", got)
	}
}

func TestReconcileGlobalDisableDeletesRecap(t *testing.T) {
	t.Parallel()

	p := newCountingProvider()
	r := NewReconciler(p)
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, 9, Preferences{EmailEnabled: true, Recap: true}); err != nil {
		t.Fatal(err)
	}
	if got := workflowsOf(t, p, 9); got[WeeklyRecap] != 1 || got[DailyDigest] != 0 {
		t.Fatalf("schedules = %v, want only weekly-recap", got)
	}

	changes, err := r.Reconcile(ctx, 9, Preferences{EmailEnabled: false, Recap: true})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(changes) != 1 || changes[0].Created || changes[0].Workflow != WeeklyRecap {
		t.Errorf("changes = %+v, want one recap deletion", changes)
	}
	if got := workflowsOf(t, p, 9); len(got) != 0 {
		t.Errorf("schedules = %v, want none", got)
	}
}

func TestReconcileGlobalDisableDeletesUnmanagedWorkflows(t *testing.T) {
	t.Parallel()

	p := newCountingProvider()
	ctx := context.Background()
	if _, err := NewReconciler(p).Reconcile(ctx, 11, Preferences{EmailEnabled: true, Digest: true}); err != nil {
		t.Fatal(err)
	}
	// A schedule created outside this service for a workflow it does not
	// manage.
	p.MemoryProvider.mu.Lock()
	p.MemoryProvider.schedules["external-1"] = Schedule{ID: "external-1", UserID: 11, Workflow: "monthly-summary"}
	p.MemoryProvider.schedules["other-user"] = Schedule{ID: "other-user", UserID: 12, Workflow: "monthly-summary"}
	p.MemoryProvider.mu.Unlock()

	changes, err := NewReconciler(p).Reconcile(ctx, 11, Preferences{EmailEnabled: false, Digest: true})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(changes) != 2 {
		t.Errorf("changes = %+v, want digest and monthly-summary deleted", changes)
	}
	if got := workflowsOf(t, p, 11); len(got) != 0 {
		t.Errorf("schedules = %v, want none", got)
	}
	if got := workflowsOf(t, p, 12); got["monthly-summary"] != 1 {
		t.Errorf("other user's schedules = %v, want untouched", got)
	}

	// Disabled again: nothing left to delete.
	before := p.mutations()
	if _, err := NewReconciler(p).Reconcile(ctx, 11, Preferences{}); err != nil {
		t.Fatal(err)
	}
	if p.mutations() != before {
		t.Errorf("second disable made %d mutations, want 0", p.mutations()-before)
	}
}

func TestReconcileWorkflowsFailIndependently(t *testing.T) {
	t.Parallel()

	p := newCountingProvider()
	p.failFor = WeeklyRecap
	r := NewReconciler(p)

	changes, err := r.Reconcile(context.Background(), 3, Preferences{EmailEnabled: true, Recap: true, Digest: true})
	if !errors.Is(err, errProviderDown) {
		t.Fatalf("Reconcile() error = %v, want errProviderDown", err)
	}
	if len(changes) != 1 || changes[0].Workflow != DailyDigest || !changes[0].Created {
		t.Errorf("changes = %+v, want the digest created", changes)
	}
}

func TestReconcileRemovesDuplicateSchedules(t *testing.T) {
	t.Parallel()

	p := newCountingProvider()
	ctx := context.Background()
	for range 3 {
		if _, err := p.MemoryProvider.CreateSchedules(ctx, CreateRequest{
			UserIDs: []int64{5}, Workflow: DailyDigest, Repeats: DailyDigest.Recurrence(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	changes, err := NewReconciler(p).Reconcile(ctx, 5, Preferences{EmailEnabled: true, Digest: true})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(changes) != 2 {
		t.Errorf("changes = %+v, want 2 deletions", changes)
	}
	if got := workflowsOf(t, p, 5); got[DailyDigest] != 1 {
		t.Errorf("schedules = %v, want one digest", got)
	}
}

type partialDeleteProvider struct{ *MemoryProvider }

func (p partialDeleteProvider) DeleteSchedules(context.Context, []string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func TestReconcileReportsIncompleteDelete(t *testing.T) {
	t.Parallel()

	mem := NewMemoryProvider()
	ctx := context.Background()
	if _, err := mem.CreateSchedules(ctx, CreateRequest{
		UserIDs: []int64{1}, Workflow: WeeklyRecap, Repeats: WeeklyRecap.Recurrence(),
	}); err != nil {
		t.Fatal(err)
	}

	_, err := NewReconciler(partialDeleteProvider{mem}).Reconcile(ctx, 1, Preferences{})
	if !errors.Is(err, ErrIncompleteDelete) {
		t.Errorf("Reconcile() error = %v, want ErrIncompleteDelete", err)
	}
}

func TestPreferencesWants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefs  Preferences
		recap  bool
		digest bool
	}{
		{Preferences{EmailEnabled: true, Recap: true, Digest: true}, true, true},
		{Preferences{EmailEnabled: true, Recap: true}, true, false},
		{Preferences{EmailEnabled: false, Recap: true, Digest: true}, false, false},
		{Preferences{}, false, false},
	}
	for _, tt := range tests {
		if got := tt.prefs.Wants(WeeklyRecap); got != tt.recap {
			t.Errorf("%+v Wants(recap) = %v, want %v", tt.prefs, got, tt.recap)
		}
		if got := tt.prefs.Wants(DailyDigest); got != tt.digest {
			t.Errorf("%+v Wants(digest) = %v, want %v", tt.prefs, got, tt.digest)
		}
	}
}

func TestCreateRequestValidation(t *testing.T) {
	t.Parallel()

	_, err := NewMemoryProvider().CreateSchedules(context.Background(), CreateRequest{
		UserIDs:  []int64{1},
		Workflow: "monthly-newsletter",
		Repeats:  []Repeat{{Frequency: "hourly", Hours: 30}},
	})
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("CreateSchedules() error = %v, want *validation.Error", err)
	}
}

func TestPreferencesPolicy(t *testing.T) {
	t.Parallel()

	p := newCountingProvider()
	r := NewReconciler(p)
	registry, err := policy.NewRegistry(r.Policy())
	if err != nil {
		t.Fatal(err)
	}
	d := policy.NewDispatcher(registry, nil)

	payload := &events.UserNotificationPreferencesUpdatedPayload{
		UserID: 11, EmailNotificationsEnabled: true, DigestEmailEnabled: true,
	}
	meta := policy.Meta{Name: events.UserNotificationPreferencesUpdated, Version: 1}
	if err := d.Dispatch(context.Background(), payload, meta); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := workflowsOf(t, p, 11); got[DailyDigest] != 1 || got[WeeklyRecap] != 0 {
		t.Errorf("schedules = %v, want only daily-digest", got)
	}
}

// fakeKnock is a minimal Knock schedules API.
type fakeKnock struct {
	mu        sync.Mutex
	schedules []knockSchedule
	requests  []string
}

func (k *fakeKnock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.requests = append(k.requests, r.Method+" "+r.URL.Path)

	if r.Header.Get("Authorization") != "Bearer sk_test" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/users/42/schedules":
		var matching []knockSchedule
		for _, s := range k.schedules {
			if wf := r.URL.Query().Get("workflow"); wf == "" || s.Workflow == wf {
				matching = append(matching, s)
			}
		}
		// More than one match is served as two pages.
		var resp knockListResponse
		switch {
		case r.URL.Query().Get("after") == "cursor-1":
			resp.Entries = matching[1:]
		case len(matching) > 1:
			next := "cursor-1"
			resp.Entries = matching[:1]
			resp.PageInfo.After = &next
		default:
			resp.Entries = matching
		}
		if resp.Entries == nil {
			resp.Entries = []knockSchedule{}
		}
		_ = json.NewEncoder(w).Encode(resp)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/schedules":
		var body struct {
			Workflow   string   `json:"workflow"`
			Recipients []string `json:"recipients"`
			Repeats    []Repeat `json:"repeats"`
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var created []knockSchedule
		for _, rcpt := range body.Recipients {
			s := knockSchedule{
				ID:        "sched-" + body.Workflow + "-" + rcpt,
				Workflow:  body.Workflow,
				Recipient: knockRecipient{ID: rcpt},
				Repeats:   body.Repeats,
			}
			k.schedules = append(k.schedules, s)
			created = append(created, s)
		}
		_ = json.NewEncoder(w).Encode(created)
	case r.Method == http.MethodDelete && r.URL.Path == "/v1/schedules":
		var body struct {
			ScheduleIDs []string `json:"schedule_ids"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		var removed, kept []knockSchedule
		for _, s := range k.schedules {
			if contains(body.ScheduleIDs, s.ID) {
				removed = append(removed, s)
			} else {
				kept = append(kept, s)
			}
		}
		k.schedules = kept
		_ = json.NewEncoder(w).Encode(removed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func newTestKnock(t *testing.T, key string) (*KnockClient, *fakeKnock) {
	t.Helper()
	fake := &fakeKnock{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewKnockClient(config.NotifyConfig{
		Provider: "knock",
		BaseURL:  srv.URL,
		APIKey:   key,
		Timeout:  5 * time.Second,
	}), fake
}

func TestKnockClientRoundTrip(t *testing.T) {
	t.Parallel()

	client, fake := newTestKnock(t, "sk_test")
	r := NewReconciler(client)
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, 42, Preferences{EmailEnabled: true, Recap: true, Digest: true}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	all, err := client.GetSchedules(ctx, 42, "")
	if err != nil {
		t.Fatalf("GetSchedules() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("GetSchedules() = %+v, want 2 across two pages", all)
	}
	for _, s := range all {
		if s.UserID != 42 || len(s.Repeats) != 1 {
			t.Errorf("schedule = %+v", s)
		}
	}

	changes, err := r.Reconcile(ctx, 42, Preferences{EmailEnabled: false, Recap: true, Digest: true})
	if err != nil {
		t.Fatalf("Reconcile(disable) error = %v", err)
	}
	if len(changes) != 2 {
		t.Errorf("Reconcile(disable) changes = %+v, want 2 deletions", changes)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.schedules) != 0 {
		t.Errorf("fake still holds %d schedules", len(fake.schedules))
	}
}

func TestKnockClientStatusErrors(t *testing.T) {
	t.Parallel()

	client, _ := newTestKnock(t, "wrong-key")
	_, err := client.GetSchedules(context.Background(), 42, WeeklyRecap)
	var se *httpclient.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("GetSchedules() error = %v, want 401 StatusError", err)
	}
	if httpclient.IsRetryable(err) {
		t.Error("401 must not be retryable")
	}
}

func TestKnockRecipientForms(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`"42"`, `{"id":"42","collection":"users"}`} {
		var r knockRecipient
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", raw, err)
		}
		if r.ID != "42" {
			t.Errorf("Unmarshal(%s) id = %q, want 42", raw, r.ID)
		}
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	if p, err := NewProvider(config.NotifyConfig{Provider: "memory"}); err != nil || p == nil {
		t.Errorf("NewProvider(memory) = %v, %v", p, err)
	}
	if _, err := NewProvider(config.NotifyConfig{Provider: "carrier-pigeon"}); err == nil {
		t.Error("NewProvider(unknown) succeeded")
	}
}
