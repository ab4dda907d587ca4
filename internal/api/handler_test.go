package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"jobwatch/internal/model"
	"jobwatch/internal/scheduler"
	"jobwatch/internal/stats"
	"jobwatch/internal/storage"
)

type triggerCall struct {
	Criteria []model.SearchCriteria
	Sources  []model.Source
	Async    bool
}

type mockRunner struct {
	calls []triggerCall
	run   model.RunStats
	err   error
}

func (m *mockRunner) Trigger(_ context.Context, criteria []model.SearchCriteria, sources []model.Source) (model.RunStats, error) {
	m.calls = append(m.calls, triggerCall{Criteria: criteria, Sources: sources})
	return m.run, m.err
}

func (m *mockRunner) TriggerAsync(_ context.Context, criteria []model.SearchCriteria, sources []model.Source) (string, error) {
	m.calls = append(m.calls, triggerCall{Criteria: criteria, Sources: sources, Async: true})
	if m.err != nil {
		return "", m.err
	}
	return "run-42", nil
}

type mockStore struct {
	since time.Time
	st    model.Statistics
	err   error

	listings []model.Listing
	filters  []storage.ListingFilter
}

func (m *mockStore) ListListings(_ context.Context, f storage.ListingFilter) ([]model.Listing, error) {
	m.filters = append(m.filters, f)
	if m.err != nil {
		return nil, m.err
	}
	out := m.listings
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockStore) GetListing(_ context.Context, source model.Source, externalID string) (*model.Listing, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, l := range m.listings {
		if l.SourceSite == source && l.ExternalID == externalID {
			return &l, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *mockStore) Statistics(_ context.Context, since time.Time) (model.Statistics, error) {
	m.since = since
	return m.st, m.err
}

type staticSources []model.Source

func (s staticSources) Sources() []model.Source { return s }

type testServer struct {
	router *gin.Engine
	runner *mockRunner
	runs   *stats.Memory
	stats  *mockStore
	state  *scheduler.State
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		runner: &mockRunner{},
		runs:   stats.NewMemory(10),
		stats:  &mockStore{},
		state:  scheduler.NewState(30 * time.Minute),
		now:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	h := NewHandler(ts.runner, ts.runs, ts.stats, ts.state, staticSources{model.SourceLinkedIn})
	h.now = func() time.Time { return ts.now }
	ts.router = NewRouter(h, slog.New(slog.DiscardHandler))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if diff := cmp.Diff(map[string]string{"status": "ok"}, decode[map[string]string](t, w)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateRunSync(t *testing.T) {
	ts := newTestServer(t)
	ts.runner.run = model.RunStats{
		ID:      "run-1",
		Trigger: model.TriggerManual,
		Status:  model.RunPartial,
		Sources: map[model.Source]model.SourceStats{
			model.SourceLinkedIn: {Fetched: 2, New: 2},
			model.SourceIndeed:   {Error: "fetch indeed (attempts: 3): unexpected status 503"},
		},
	}

	w := ts.do(t, http.MethodPost, "/api/v1/runs",
		`{"criteria":{"keywords":["python"],"job_type":"remote","salary_min":80000},"sources":["linkedin","indeed"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	got := decode[model.RunStats](t, w)
	if diff := cmp.Diff(ts.runner.run, got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}

	salary := 80000
	want := []triggerCall{{
		Criteria: []model.SearchCriteria{{Keywords: []string{"python"}, JobType: model.JobTypeRemote, SalaryMin: &salary}},
		Sources:  []model.Source{model.SourceLinkedIn, model.SourceIndeed},
	}}
	if diff := cmp.Diff(want, ts.runner.calls); diff != "" {
		t.Errorf("trigger calls mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateRunAsync(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/runs", `{"async":true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	if diff := cmp.Diff(map[string]string{"id": "run-42"}, decode[map[string]string](t, w)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	if got := w.Header().Get("Location"); got != "/api/v1/runs/run-42" {
		t.Errorf("Location = %q", got)
	}
	if len(ts.runner.calls) != 1 || !ts.runner.calls[0].Async || ts.runner.calls[0].Criteria != nil {
		t.Errorf("calls = %+v, want one async call for all profiles", ts.runner.calls)
	}
}

func TestCreateRunEmptyBody(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/runs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(ts.runner.calls) != 1 || ts.runner.calls[0].Async {
		t.Errorf("calls = %+v, want one synchronous call", ts.runner.calls)
	}
}

func TestCreateRunErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{name: "malformed json", body: `{"criteria":`},
		{name: "unknown source", body: `{"sources":["monster"]}`},
		{name: "invalid criteria", body: `{"criteria":{"keywords":[]}}`, err: errors.New("invalid criteria: at least one keyword is required")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.runner.err = tt.err
			w := ts.do(t, http.MethodPost, "/api/v1/runs", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			if _, ok := decode[map[string]string](t, w)["error"]; !ok {
				t.Error("response has no error field")
			}
		})
	}
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := model.RunStats{ID: id, Status: model.RunCompleted, StartedAt: start.Add(time.Duration(i) * time.Minute)}
		if err := ts.runs.Record(ctx, run); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	w := ts.do(t, http.MethodGet, "/api/v1/runs/b", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if got := decode[model.RunStats](t, w); got.ID != "b" {
		t.Errorf("run id = %q, want b", got.ID)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/runs/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/runs?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var ids []string
	for _, r := range decode[[]model.RunStats](t, w) {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"c", "b"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/runs?limit=zero", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestGetStatistics(t *testing.T) {
	ts := newTestServer(t)
	ts.stats.st = model.Statistics{
		TotalListings:     3,
		BySource:          map[model.Source]int{model.SourceLinkedIn: 3},
		ByJobType:         map[model.JobType]int{model.JobTypeRemote: 3},
		Matches:           2,
		NotificationsSent: 2,
	}

	w := ts.do(t, http.MethodGet, "/api/v1/statistics?window=72h", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if diff := cmp.Diff(ts.stats.st, decode[model.Statistics](t, w)); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ts.now.Add(-72*time.Hour), ts.stats.since); diff != "" {
		t.Errorf("since mismatch (-want +got):\n%s", diff)
	}

	ts.do(t, http.MethodGet, "/api/v1/statistics", "")
	if diff := cmp.Diff(ts.now.Add(-24*time.Hour), ts.stats.since); diff != "" {
		t.Errorf("default window mismatch (-want +got):\n%s", diff)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/statistics?window=yesterday", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad window status = %d, want 400", w.Code)
	}

	ts.stats.err = errors.New("database is locked")
	w = ts.do(t, http.MethodGet, "/api/v1/statistics", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("store error status = %d, want 500", w.Code)
	}
}

func TestSchedulerControl(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/scheduler", "")
	if got := decode[scheduler.Snapshot](t, w); got.Phase != scheduler.PhaseIdle || got.Interval != "30m0s" {
		t.Errorf("snapshot = %+v, want idle every 30m", got)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/scheduler/stop", "")
	if got := decode[scheduler.Snapshot](t, w); got.Phase != scheduler.PhaseStopped {
		t.Errorf("phase after stop = %s", got.Phase)
	}
	if ts.state.Phase() != scheduler.PhaseStopped {
		t.Error("shared state not stopped")
	}

	w = ts.do(t, http.MethodPost, "/api/v1/scheduler/start", "")
	if got := decode[scheduler.Snapshot](t, w); got.Phase != scheduler.PhaseIdle {
		t.Errorf("phase after start = %s", got.Phase)
	}
}

func TestListScrapers(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/v1/scrapers", "")
	want := []scraperInfo{
		{Source: model.SourceIndeed},
		{Source: model.SourceLinkedIn, Enabled: true},
		{Source: model.SourceWeWorkRemotely},
	}
	if diff := cmp.Diff(want, decode[[]scraperInfo](t, w)); diff != "" {
		t.Errorf("scrapers mismatch (-want +got):\n%s", diff)
	}
}

func sampleListings() []model.Listing {
	salary := func(lo, hi int) (*int, *int) { return &lo, &hi }
	pyMin, pyMax := salary(90000, 120000)
	return []model.Listing{
		{ExternalID: "1", SourceSite: model.SourceLinkedIn, Title: "Python Engineer", Company: "Acme", JobType: model.JobTypeRemote, SalaryMin: pyMin, SalaryMax: pyMax},
		{ExternalID: "2", SourceSite: model.SourceLinkedIn, Title: "Java Engineer", Company: "Acme", JobType: model.JobTypeRemote},
		{ExternalID: "3", SourceSite: model.SourceIndeed, Title: "Python Developer", Company: "Globex", JobType: model.JobTypeOnsite},
		{ExternalID: "4", SourceSite: model.SourceIndeed, Title: "Senior Python Engineer", Company: "Initech", JobType: model.JobTypeRemote},
	}
}

func listingIDs(ls []model.Listing) []string {
	var ids []string
	for _, l := range ls {
		ids = append(ids, l.ExternalID)
	}
	return ids
}

func TestListListings(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantIDs    []string
		wantFilter storage.ListingFilter
	}{
		{
			name:       "no filters",
			query:      "",
			wantIDs:    []string{"1", "2", "3", "4"},
			wantFilter: storage.ListingFilter{Limit: defaultListingLimit},
		},
		{
			name:       "store filters and limit",
			query:      "?source=indeed&company=%20glob%20&limit=2",
			wantIDs:    []string{"1", "2"},
			wantFilter: storage.ListingFilter{Source: model.SourceIndeed, Company: "glob", Limit: 2},
		},
		{
			name:       "limit capped",
			query:      "?limit=100000",
			wantIDs:    []string{"1", "2", "3", "4"},
			wantFilter: storage.ListingFilter{Limit: maxListingLimit},
		},
		{
			name:       "criteria applied with matching rules",
			query:      "?keywords=python&job_type=remote",
			wantIDs:    []string{"1", "4"},
			wantFilter: storage.ListingFilter{Limit: listingScanLimit},
		},
		{
			name:       "criteria with salary and limit",
			query:      "?keywords=python,%20go&job_type=remote&salary_min=100000&limit=1",
			wantIDs:    []string{"1"},
			wantFilter: storage.ListingFilter{Limit: listingScanLimit},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.stats.listings = sampleListings()

			w := ts.do(t, http.MethodGet, "/api/v1/listings"+tt.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", w.Code, w.Body.String())
			}
			if diff := cmp.Diff(tt.wantIDs, listingIDs(decode[[]model.Listing](t, w))); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]storage.ListingFilter{tt.wantFilter}, ts.stats.filters); diff != "" {
				t.Errorf("filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListListingsEmptyIsArray(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/v1/listings?keywords=rust", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestListListingsErrors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		storeErr error
		want     int
	}{
		{name: "bad limit", query: "?limit=0", want: http.StatusBadRequest},
		{name: "unknown source", query: "?source=monster", want: http.StatusBadRequest},
		{name: "criteria without keywords", query: "?job_type=remote", want: http.StatusBadRequest},
		{name: "bad salary", query: "?keywords=go&salary_min=lots", want: http.StatusBadRequest},
		{name: "inverted salary", query: "?keywords=go&salary_min=90000&salary_max=10", want: http.StatusBadRequest},
		{name: "unknown job type", query: "?keywords=go&job_type=office", want: http.StatusBadRequest},
		{name: "store failure", storeErr: errors.New("database is locked"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.stats.err = tt.storeErr
			w := ts.do(t, http.MethodGet, "/api/v1/listings"+tt.query, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSearchListings(t *testing.T) {
	ts := newTestServer(t)
	ts.stats.listings = sampleListings()

	w := ts.do(t, http.MethodPost, "/api/v1/listings/search",
		`{"criteria":{"keywords":["python"],"job_type":"remote"},"source":"linkedin","company":"acme","limit":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	// The mock ignores source and company, so only the criteria filter shows.
	if diff := cmp.Diff([]string{"1", "4"}, listingIDs(decode[[]model.Listing](t, w))); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	want := []storage.ListingFilter{{Source: model.SourceLinkedIn, Company: "acme", Limit: listingScanLimit}}
	if diff := cmp.Diff(want, ts.stats.filters); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}

	for _, body := range []string{
		`{"criteria":`,
		`{"criteria":{"keywords":[]}}`,
		`{"criteria":{"keywords":["go"]},"source":"monster"}`,
		`{"criteria":{"keywords":["go"]},"limit":-1}`,
	} {
		if w := ts.do(t, http.MethodPost, "/api/v1/listings/search", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestGetListing(t *testing.T) {
	ts := newTestServer(t)
	ts.stats.listings = sampleListings()

	w := ts.do(t, http.MethodGet, "/api/v1/listings/indeed/3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if got := decode[model.Listing](t, w); got.Title != "Python Developer" {
		t.Errorf("title = %q, want Python Developer", got.Title)
	}

	if w := ts.do(t, http.MethodGet, "/api/v1/listings/indeed/1", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing listing status = %d, want 404", w.Code)
	}

	ts.stats.err = errors.New("database is locked")
	if w := ts.do(t, http.MethodGet, "/api/v1/listings/indeed/3", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("store error status = %d, want 500", w.Code)
	}
}
